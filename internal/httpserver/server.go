// Package httpserver exposes the dashboard API, health, and metrics endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"omnireply/internal/ai"
	"omnireply/internal/broadcast"
	"omnireply/internal/metrics"
	"omnireply/internal/repo"
	"omnireply/internal/status"
	"omnireply/internal/wa"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies exposes core dependencies to handlers.
type Dependencies struct {
	Store      repo.Store
	Registry   *wa.Registry
	Monitor    *status.Monitor
	Dispatcher *broadcast.Dispatcher
	Retriever  *ai.Retriever
}

// Config holds server construction parameters.
type Config struct {
	Addr             string
	BasePath         string
	JWTSecret        string
	JWTTTL           time.Duration
	APIRatePerMinute int
}

// Server wraps an http.Server with the API routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	auth       *auth
	limiter    *tenantLimiter
	basePath   string
}

// New creates the HTTP server. The whole API is mounted under /api; health and
// metrics stay unauthenticated at the root.
func New(cfg Config, deps Dependencies, logger *slog.Logger, m *metrics.Metrics) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  m,
		deps:     deps,
		auth:     newAuth(cfg.JWTSecret, cfg.JWTTTL, deps.Store),
		limiter:  newTenantLimiter(cfg.APIRatePerMinute),
		basePath: normaliseBasePath(cfg.BasePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", server.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/auth/register", server.handleRegister)
	mux.HandleFunc("POST /api/auth/login", server.handleLogin)
	mux.Handle("GET /api/auth/me", server.protected(server.handleMe))

	mux.Handle("POST /api/whatsapp/connect", server.protected(server.handleConnect))
	mux.Handle("POST /api/whatsapp/disconnect", server.protected(server.handleDisconnect))
	mux.Handle("GET /api/whatsapp/status", server.protected(server.handleSessionStatus))
	mux.Handle("GET /api/whatsapp/qr", server.protected(server.handleQR))

	mux.Handle("POST /api/broadcasts", server.protected(server.handleCreateBroadcast))
	mux.Handle("GET /api/broadcasts", server.protected(server.handleListBroadcasts))
	mux.Handle("GET /api/broadcasts/{id}", server.protected(server.handleGetBroadcast))

	mux.Handle("GET /api/leads", server.protected(server.handleListLeads))
	mux.Handle("GET /api/messages", server.protected(server.handleListMessages))

	mux.Handle("POST /api/knowledge", server.protected(server.handleCreateKnowledge))
	mux.Handle("GET /api/knowledge", server.protected(server.handleListKnowledge))
	mux.Handle("PUT /api/knowledge/{id}", server.protected(server.handleUpdateKnowledge))
	mux.Handle("DELETE /api/knowledge/{id}", server.protected(server.handleDeleteKnowledge))

	mux.Handle("GET /api/dashboard", server.protected(server.handleDashboard))
	mux.Handle("GET /api/tenant", server.protected(server.handleGetTenant))
	mux.Handle("PUT /api/tenant", server.protected(server.handleUpdateTenant))

	handler := mountWithBasePath(server.basePath, mux)

	server.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// protected wraps a handler with authentication and the per-tenant API rate
// limit.
func (s *Server) protected(h http.HandlerFunc) http.Handler {
	return s.auth.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity(r.Context())
		if !s.limiter.allow(id.TenantID) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		h(w, r)
	}))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
