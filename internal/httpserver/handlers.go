package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"omnireply/internal/repo"
	"omnireply/internal/status"
)

const defaultListLimit = 50

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())

	// Dialling can outlive the HTTP request; pairing progress is read back
	// through the status and qr endpoints.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.deps.Registry.Connect(ctx, id.TenantID); err != nil {
			s.logger.Error("connect session failed", "tenant_id", id.TenantID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "connecting"})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())
	if err := s.deps.Registry.Disconnect(r.Context(), id.TenantID); err != nil {
		s.logger.Error("disconnect session failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "disconnect failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())
	snap := s.deps.Monitor.Get(id.TenantID)
	// The raw pairing payload is only served through the qr endpoint.
	snap.QRCode = ""
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())
	snap := s.deps.Monitor.Get(id.TenantID)
	if snap.State != status.StateQRReady || snap.QRCode == "" {
		writeError(w, http.StatusNotFound, "no pairing code available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"qrCode": snap.QRCode})
}

type createBroadcastRequest struct {
	Message     string     `json:"message"`
	Recipients  []string   `json:"recipients"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

func (s *Server) handleCreateBroadcast(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())

	var req createBroadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" || len(req.Recipients) == 0 {
		writeError(w, http.StatusBadRequest, "message and recipients are required")
		return
	}

	b, err := s.deps.Store.CreateBroadcast(r.Context(), repo.Broadcast{
		TenantID:    id.TenantID,
		Message:     req.Message,
		Recipients:  req.Recipients,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		s.logger.Error("create broadcast failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "create broadcast failed")
		return
	}

	// Unscheduled campaigns start immediately; scheduled ones wait for the
	// scheduler sweep.
	if b.ScheduledAt == nil {
		go func(broadcastID string) {
			if err := s.deps.Dispatcher.Execute(context.Background(), broadcastID); err != nil {
				s.logger.Error("broadcast execution failed", "broadcast_id", broadcastID, "error", err)
			}
		}(b.ID)
	}

	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())
	broadcasts, err := s.deps.Store.ListBroadcasts(r.Context(), id.TenantID)
	if err != nil {
		s.logger.Error("list broadcasts failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "list broadcasts failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"broadcasts": broadcasts})
}

func (s *Server) handleGetBroadcast(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())
	b, err := s.deps.Store.GetBroadcastForTenant(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "broadcast not found")
			return
		}
		s.logger.Error("get broadcast failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "get broadcast failed")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())
	limit := queryLimit(r)

	var (
		leads []repo.Lead
		err   error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		leads, err = s.deps.Store.SearchLeads(r.Context(), id.TenantID, q, limit)
	} else {
		leads, err = s.deps.Store.ListLeads(r.Context(), id.TenantID, limit)
	}
	if err != nil {
		s.logger.Error("list leads failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "list leads failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())
	msgs, err := s.deps.Store.ListRecentMessages(r.Context(), id.TenantID, queryLimit(r))
	if err != nil {
		s.logger.Error("list messages failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "list messages failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type knowledgeRequest struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	IsActive *bool  `json:"isActive"`
}

func (s *Server) handleCreateKnowledge(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())

	var req knowledgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "title and content are required")
		return
	}

	entry, err := s.deps.Store.CreateKnowledgeEntry(r.Context(), repo.KnowledgeEntry{
		TenantID: id.TenantID,
		Category: req.Category,
		Title:    req.Title,
		Content:  req.Content,
		IsActive: true,
	})
	if err != nil {
		s.logger.Error("create knowledge failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "create knowledge failed")
		return
	}
	s.deps.Retriever.InvalidateCache(r.Context(), id.TenantID)
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())
	entries, err := s.deps.Store.ListKnowledge(r.Context(), id.TenantID)
	if err != nil {
		s.logger.Error("list knowledge failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "list knowledge failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleUpdateKnowledge(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())

	var req knowledgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry := repo.KnowledgeEntry{
		ID:       r.PathValue("id"),
		TenantID: id.TenantID,
		Category: req.Category,
		Title:    req.Title,
		Content:  req.Content,
		IsActive: true,
	}
	if req.IsActive != nil {
		entry.IsActive = *req.IsActive
	}

	if err := s.deps.Store.UpdateKnowledgeEntry(r.Context(), entry); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "knowledge entry not found")
			return
		}
		s.logger.Error("update knowledge failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "update knowledge failed")
		return
	}
	s.deps.Retriever.InvalidateCache(r.Context(), id.TenantID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())
	if err := s.deps.Store.DeleteKnowledgeEntry(r.Context(), id.TenantID, r.PathValue("id")); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "knowledge entry not found")
			return
		}
		s.logger.Error("delete knowledge failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "delete knowledge failed")
		return
	}
	s.deps.Retriever.InvalidateCache(r.Context(), id.TenantID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())

	since := time.Now().AddDate(0, 0, -7)
	stats, err := s.deps.Store.ListDailyStats(r.Context(), id.TenantID, since)
	if err != nil {
		s.logger.Error("list daily stats failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "load dashboard failed")
		return
	}

	var totals repo.DailyStat
	for _, day := range stats {
		totals.MessagesIn += day.MessagesIn
		totals.MessagesOut += day.MessagesOut
		totals.AIResponses += day.AIResponses
		totals.NewLeads += day.NewLeads
		totals.BroadcastsSent += day.BroadcastsSent
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session": s.deps.Monitor.Get(id.TenantID).State,
		"days":    stats,
		"totals": map[string]int{
			"messagesIn":     totals.MessagesIn,
			"messagesOut":    totals.MessagesOut,
			"aiResponses":    totals.AIResponses,
			"newLeads":       totals.NewLeads,
			"broadcastsSent": totals.BroadcastsSent,
		},
	})
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())
	tenant, err := s.deps.Store.GetTenant(r.Context(), id.TenantID)
	if err != nil {
		s.logger.Error("get tenant failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "get tenant failed")
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

type updateTenantRequest struct {
	Name             string `json:"name"`
	BusinessType     string `json:"businessType"`
	DefaultLanguage  string `json:"defaultLanguage"`
	MaxDailyMessages int    `json:"maxDailyMessages"`
	IsActive         *bool  `json:"isActive"`
}

func (s *Server) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())

	var req updateTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tenant, err := s.deps.Store.GetTenant(r.Context(), id.TenantID)
	if err != nil {
		s.logger.Error("get tenant failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "update tenant failed")
		return
	}

	if req.Name != "" {
		tenant.Name = req.Name
	}
	if req.BusinessType != "" {
		tenant.BusinessType = req.BusinessType
	}
	if req.DefaultLanguage != "" {
		tenant.DefaultLanguage = req.DefaultLanguage
	}
	if req.MaxDailyMessages > 0 {
		tenant.MaxDailyMessages = req.MaxDailyMessages
	}
	if req.IsActive != nil {
		tenant.IsActive = *req.IsActive
	}

	if err := s.deps.Store.UpdateTenant(r.Context(), *tenant); err != nil {
		s.logger.Error("update tenant failed", "tenant_id", id.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "update tenant failed")
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func queryLimit(r *http.Request) int {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	return limit
}
