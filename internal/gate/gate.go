// Package gate decides whether the automated path may send into a
// conversation, and paces permitted sends so they resemble human timing.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"omnireply/internal/metrics"
	"omnireply/internal/repo"
)

// Decision is the outcome of evaluating the gate for one send.
type Decision int

const (
	// Send means the automated path may proceed.
	Send Decision = iota
	// SkipOverride means a human operator controls the conversation.
	SkipOverride
	// SkipRateLimit means the tenant's daily quota is exhausted.
	SkipRateLimit
)

func (d Decision) String() string {
	switch d {
	case Send:
		return "send"
	case SkipOverride:
		return "skip_override"
	case SkipRateLimit:
		return "skip_rate_limit"
	default:
		return "unknown"
	}
}

// QuotaStore is the subset of the record store the rate check reads.
type QuotaStore interface {
	GetTenant(ctx context.Context, id string) (*repo.Tenant, error)
	GetDailyStat(ctx context.Context, tenantID, date string) (*repo.DailyStat, error)
}

// Presence drives the typing indicator on a live connection.
type Presence interface {
	ChatPresence(ctx context.Context, conversationID string, composing bool) error
}

// Gate composes the human-override check, the daily rate check, and human
// mimicry pacing.
type Gate struct {
	store   QuotaStore
	logger  *slog.Logger
	metrics *metrics.Metrics

	window       time.Duration
	defaultLimit int

	mu        sync.Mutex
	overrides map[string]time.Time

	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
	randFloat func() float64
}

// New returns a gate with the given override window (default 30 minutes).
func New(store QuotaStore, window time.Duration, defaultLimit int, logger *slog.Logger, m *metrics.Metrics) *Gate {
	if window <= 0 {
		window = 30 * time.Minute
	}
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return &Gate{
		store:        store,
		logger:       logger.With("component", "gate"),
		metrics:      m,
		window:       window,
		defaultLimit: defaultLimit,
		overrides:    make(map[string]time.Time),
		now:          time.Now,
		sleep:        sleepCtx,
		randFloat:    rand.Float64,
	}
}

// ActivateOverride inserts or refreshes the override entry for the
// conversation, suppressing automated sends for the configured window.
func (g *Gate) ActivateOverride(tenantID, conversationID string) {
	g.mu.Lock()
	g.overrides[overrideKey(tenantID, conversationID)] = g.now()
	g.mu.Unlock()
	g.logger.Info("human override activated", "tenant_id", tenantID, "conversation_id", conversationID, "window", g.window)
}

// OverrideActive reports whether an unexpired override entry exists. Expired
// entries are evicted lazily.
func (g *Gate) OverrideActive(tenantID, conversationID string) bool {
	key := overrideKey(tenantID, conversationID)
	g.mu.Lock()
	defer g.mu.Unlock()
	activated, ok := g.overrides[key]
	if !ok {
		return false
	}
	if g.now().Sub(activated) >= g.window {
		delete(g.overrides, key)
		return false
	}
	return true
}

// WithinRateLimit reports whether the tenant is under its daily outbound
// limit. Read failures fail open: a transient store outage must not silence
// every tenant, so the send is allowed. A missing tenant row is a definitive
// answer, not an outage, and blocks the send.
func (g *Gate) WithinRateLimit(ctx context.Context, tenantID string) bool {
	tenant, err := g.store.GetTenant(ctx, tenantID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		g.logger.Warn("unknown tenant, blocking send", "tenant_id", tenantID)
		return false
	case err != nil:
		g.logger.Error("rate limit check failed, allowing send", "tenant_id", tenantID, "error", err)
		return true
	}

	limit := tenant.MaxDailyMessages
	if limit <= 0 {
		limit = g.defaultLimit
	}

	sent := 0
	stat, err := g.store.GetDailyStat(ctx, tenantID, Today(g.now()))
	switch {
	case err == nil:
		sent = stat.MessagesOut
	case errors.Is(err, repo.ErrNotFound):
		// No counter row yet today.
	default:
		g.logger.Error("rate limit check failed, allowing send", "tenant_id", tenantID, "error", err)
		return true
	}

	if sent >= limit {
		g.logger.Warn("daily rate limit reached", "tenant_id", tenantID, "sent", sent, "limit", limit)
		return false
	}
	return true
}

// Evaluate composes the override and rate checks for one automated send.
func (g *Gate) Evaluate(ctx context.Context, tenantID, conversationID string) Decision {
	decision := Send
	switch {
	case g.OverrideActive(tenantID, conversationID):
		decision = SkipOverride
	case !g.WithinRateLimit(ctx, tenantID):
		decision = SkipRateLimit
	}
	g.metrics.GateDecisions.WithLabelValues(decision.String()).Inc()
	return decision
}

// Mimicry simulates human typing before a permitted send: composing for 3-7s,
// then paused for 0.5-2s. Presence failures are best-effort and never block
// the surrounding send.
func (g *Gate) Mimicry(ctx context.Context, conn Presence, conversationID string) {
	typing := 3*time.Second + time.Duration(g.randFloat()*float64(4*time.Second))
	pause := 500*time.Millisecond + time.Duration(g.randFloat()*float64(1500*time.Millisecond))

	if err := conn.ChatPresence(ctx, conversationID, true); err != nil {
		g.logger.Debug("presence update failed", "conversation_id", conversationID, "error", err)
	}
	g.sleep(ctx, typing)
	if err := conn.ChatPresence(ctx, conversationID, false); err != nil {
		g.logger.Debug("presence update failed", "conversation_id", conversationID, "error", err)
	}
	g.sleep(ctx, pause)
}

// Today formats the counter bucket for a point in time. Buckets are UTC
// calendar days.
func Today(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func overrideKey(tenantID, conversationID string) string {
	return tenantID + ":" + conversationID
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
