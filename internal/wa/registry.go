package wa

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"omnireply/internal/credstore"
	"omnireply/internal/metrics"
	"omnireply/internal/repo"
	"omnireply/internal/status"
)

// SessionStore is the subset of the record store the registry persists to.
type SessionStore interface {
	UpsertSession(ctx context.Context, session repo.WhatsAppSession) error
	SetSessionStatus(ctx context.Context, tenantID, status string) error
	ListSessionsByStatus(ctx context.Context, status string) ([]repo.WhatsAppSession, error)
}

// Registry owns at most one live transport connection per tenant and drives
// the session lifecycle state machine. All mutating operations for a tenant
// are serialised; different tenants never block on each other.
type Registry struct {
	dialer    Dialer
	creds     credstore.Store
	store     SessionStore
	monitor   *status.Monitor
	overrides OverrideActivator
	handler   MessageHandler
	logger    *slog.Logger
	metrics   *metrics.Metrics

	reconnectDelay time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the in-memory lifecycle record for one tenant. Its mutex
// serialises every mutating operation for that tenant. gen invalidates events
// from superseded connections: a dial bumps it, so stale callbacks and retry
// tasks become no-ops.
type session struct {
	tenantID string

	mu          sync.Mutex
	state       status.State
	conn        Conn
	dialing     bool
	gen         int
	pairingCode string
	phone       string
	retry       *time.Timer
}

// Config holds registry construction parameters.
type Config struct {
	Dialer         Dialer
	Credentials    credstore.Store
	Store          SessionStore
	Monitor        *status.Monitor
	Overrides      OverrideActivator
	ReconnectDelay time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Registry {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Registry{
		dialer:         cfg.Dialer,
		creds:          cfg.Credentials,
		store:          cfg.Store,
		monitor:        cfg.Monitor,
		overrides:      cfg.Overrides,
		logger:         logger.With("component", "registry"),
		metrics:        m,
		reconnectDelay: delay,
		sessions:       make(map[string]*session),
	}
}

// SetMessageHandler registers the inbound message pipeline.
func (r *Registry) SetMessageHandler(h MessageHandler) {
	r.handler = h
}

// Connect opens a transport connection for the tenant. It is idempotent: a
// no-op while a live connection or an in-flight dial exists.
func (r *Registry) Connect(ctx context.Context, tenantID string) error {
	s := r.session(tenantID)

	s.mu.Lock()
	if s.conn != nil || s.dialing {
		s.mu.Unlock()
		r.logger.Info("session already active", "tenant_id", tenantID)
		return nil
	}
	s.dialing = true
	s.stopRetryLocked()
	s.gen++
	gen := s.gen
	s.state = status.StateConnecting
	s.pairingCode = ""
	s.mu.Unlock()

	r.updateState(tenantID, status.StateConnecting)

	conn, err := r.dialer.Dial(ctx, tenantID, &sessionEvents{registry: r, tenantID: tenantID, gen: gen})

	s.mu.Lock()
	s.dialing = false
	if err != nil {
		if gen == s.gen {
			s.state = status.StateDisconnected
		}
		s.mu.Unlock()
		r.updateState(tenantID, status.StateDisconnected)
		return fmt.Errorf("dial transport for tenant %s: %w", tenantID, err)
	}
	if gen != s.gen {
		// A disconnect raced the dial; drop the fresh connection.
		s.mu.Unlock()
		conn.Disconnect()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// Disconnect requests a graceful logout and removes the tenant from the live
// connection map regardless of logout success. Explicit disconnection is a
// revocation: credential material is wiped and a fresh pairing is required.
func (r *Registry) Disconnect(ctx context.Context, tenantID string) error {
	s := r.session(tenantID)

	s.mu.Lock()
	s.gen++
	s.stopRetryLocked()
	conn := s.conn
	s.conn = nil
	s.state = status.StateDisconnected
	s.pairingCode = ""
	s.phone = ""
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Logout(ctx); err != nil {
			r.logger.Warn("transport logout failed, cleaning up anyway", "tenant_id", tenantID, "error", err)
		}
		conn.Disconnect()
	}

	if err := r.creds.Delete(ctx, tenantID); err != nil {
		r.logger.Error("credential wipe failed", "tenant_id", tenantID, "error", err)
	}

	r.updateState(tenantID, status.StateDisconnected)
	r.metrics.SessionEvents.WithLabelValues("disconnected").Inc()
	if err := r.store.SetSessionStatus(ctx, tenantID, string(status.StateDisconnected)); err != nil {
		r.logger.Warn("persist session status failed", "tenant_id", tenantID, "error", err)
	}
	return nil
}

// ReconnectAll reconnects every session that was connected before the last
// shutdown. Tenants reconnect independently; one failure never blocks the
// batch.
func (r *Registry) ReconnectAll(ctx context.Context) {
	sessions, err := r.store.ListSessionsByStatus(ctx, string(status.StateConnected))
	if err != nil {
		r.logger.Error("load sessions for reconnection failed", "error", err)
		return
	}
	if len(sessions) == 0 {
		r.logger.Info("no sessions to reconnect")
		return
	}

	r.logger.Info("reconnecting sessions", "count", len(sessions))
	for _, sess := range sessions {
		go func(tenantID string) {
			if err := r.Connect(ctx, tenantID); err != nil {
				r.logger.Error("reconnect failed", "tenant_id", tenantID, "error", err)
			}
		}(sess.TenantID)
	}
}

// Conn returns the live connection for a tenant, if any.
func (r *Registry) Conn(tenantID string) (Conn, bool) {
	s := r.session(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, false
	}
	return s.conn, true
}

// PairingCode returns the stored pairing code awaiting scan, if any.
func (r *Registry) PairingCode(tenantID string) (string, bool) {
	s := r.session(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pairingCode == "" {
		return "", false
	}
	return s.pairingCode, true
}

// Shutdown disconnects sockets without revoking credentials, so sessions
// resume after restart.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.gen++
		s.stopRetryLocked()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			conn.Disconnect()
		}
	}
}

func (r *Registry) session(tenantID string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	if !ok {
		s = &session{tenantID: tenantID, state: status.StateDisconnected}
		r.sessions[tenantID] = s
	}
	return s
}

func (r *Registry) updateState(tenantID string, st status.State) {
	r.monitor.Update(tenantID, status.Update{State: &st})
}

func (s *session) stopRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

// scheduleReconnectLocked arms the single retry task for this session. The
// task re-arms itself on dial failure, so reconnection continues until a
// connection opens or the session is explicitly revoked.
func (r *Registry) scheduleReconnectLocked(s *session) {
	s.stopRetryLocked()
	r.metrics.SessionReconnects.Inc()
	tenantID := s.tenantID
	s.retry = time.AfterFunc(r.reconnectDelay, func() {
		if err := r.Connect(context.Background(), tenantID); err != nil {
			r.logger.Warn("reconnect attempt failed", "tenant_id", tenantID, "error", err)
			s2 := r.session(tenantID)
			s2.mu.Lock()
			if s2.conn == nil && !s2.dialing && s2.state != status.StateConnected {
				r.scheduleReconnectLocked(s2)
			}
			s2.mu.Unlock()
		}
	})
}

// sessionEvents adapts Events callbacks back onto the registry, tagged with
// the generation of the connection they belong to.
type sessionEvents struct {
	registry *Registry
	tenantID string
	gen      int
}

func (e *sessionEvents) PairingCode(code string) {
	r, s := e.registry, e.registry.session(e.tenantID)
	s.mu.Lock()
	if e.gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.pairingCode = code
	s.state = status.StateQRReady
	s.mu.Unlock()

	st := status.StateQRReady
	r.monitor.Update(e.tenantID, status.Update{State: &st, QRCode: &code})
	r.metrics.SessionEvents.WithLabelValues("qr_ready").Inc()
	r.logger.Info("pairing code generated, waiting for scan", "tenant_id", e.tenantID)
}

func (e *sessionEvents) Opened(phone string) {
	r, s := e.registry, e.registry.session(e.tenantID)
	s.mu.Lock()
	if e.gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.stopRetryLocked()
	s.state = status.StateConnected
	s.phone = phone
	s.pairingCode = ""
	s.mu.Unlock()

	now := time.Now()
	st := status.StateConnected
	empty := ""
	r.monitor.Update(e.tenantID, status.Update{State: &st, Phone: &phone, QRCode: &empty, LastActive: &now})
	r.metrics.SessionEvents.WithLabelValues("connected").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := r.store.UpsertSession(ctx, repo.WhatsAppSession{
		TenantID:   e.tenantID,
		Phone:      &phone,
		Status:     string(status.StateConnected),
		LastActive: &now,
	})
	if err != nil {
		r.logger.Warn("persist session failed", "tenant_id", e.tenantID, "error", err)
	}
	r.logger.Info("whatsapp connected", "tenant_id", e.tenantID, "phone", phone)
}

func (e *sessionEvents) Closed(loggedOut bool) {
	r, s := e.registry, e.registry.session(e.tenantID)
	s.mu.Lock()
	if e.gen != s.gen {
		s.mu.Unlock()
		return
	}
	if conn := s.conn; conn != nil {
		s.conn = nil
		defer conn.Disconnect()
	}

	if loggedOut {
		// Explicit revocation: terminal until the operator pairs again. A
		// retry armed by an earlier transient close must not outlive it.
		s.stopRetryLocked()
		s.gen++
		s.state = status.StateDisconnected
		s.pairingCode = ""
		s.phone = ""
		s.mu.Unlock()

		r.updateState(e.tenantID, status.StateDisconnected)
		r.metrics.SessionEvents.WithLabelValues("logged_out").Inc()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.creds.Delete(ctx, e.tenantID); err != nil {
			r.logger.Error("credential wipe failed", "tenant_id", e.tenantID, "error", err)
		}
		if err := r.store.SetSessionStatus(ctx, e.tenantID, string(status.StateDisconnected)); err != nil {
			r.logger.Warn("persist session status failed", "tenant_id", e.tenantID, "error", err)
		}
		r.logger.Info("whatsapp logged out", "tenant_id", e.tenantID)
		return
	}

	// Transient close: self-heal with a fixed-delay retry until it works.
	s.state = status.StateAuthenticating
	r.scheduleReconnectLocked(s)
	s.mu.Unlock()

	r.updateState(e.tenantID, status.StateAuthenticating)
	r.metrics.SessionEvents.WithLabelValues("closed").Inc()
	r.logger.Info("connection closed, reconnect scheduled", "tenant_id", e.tenantID, "delay", r.reconnectDelay)
}

func (e *sessionEvents) Message(conversationID, text string, fromSelf bool) {
	r, s := e.registry, e.registry.session(e.tenantID)
	s.mu.Lock()
	stale := e.gen != s.gen
	s.mu.Unlock()
	if stale {
		return
	}

	now := time.Now()
	r.monitor.Update(e.tenantID, status.Update{LastActive: &now})

	if fromSelf {
		// The tenant's own operator replied manually; yield the conversation.
		r.overrides.ActivateOverride(e.tenantID, conversationID)
		return
	}

	r.metrics.WAIncomingMessages.WithLabelValues("text").Inc()
	if r.handler != nil {
		go r.handler.HandleMessage(context.Background(), InboundMessage{
			TenantID:       e.tenantID,
			ConversationID: conversationID,
			Text:           text,
		})
	}
}
