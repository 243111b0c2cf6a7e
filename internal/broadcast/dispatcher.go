// Package broadcast executes bulk-send campaigns with human-like pacing and
// runs the scheduler for deferred campaigns.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"omnireply/internal/gate"
	"omnireply/internal/metrics"
	"omnireply/internal/repo"
	"omnireply/internal/wa"
)

// Store is the subset of the record store campaigns run against.
type Store interface {
	GetBroadcast(ctx context.Context, id string) (*repo.Broadcast, error)
	SetBroadcastStatus(ctx context.Context, id, status string) error
	FinishBroadcast(ctx context.Context, id string, sent, failed int, completedAt time.Time) error
	InsertMessage(ctx context.Context, msg repo.MessageRecord) error
	IncrementDailyStat(ctx context.Context, tenantID, date string, delta repo.StatDelta) error
	ListDueBroadcasts(ctx context.Context, now time.Time) ([]repo.Broadcast, error)
}

// ConnSource resolves the live connection for a tenant.
type ConnSource interface {
	Conn(tenantID string) (wa.Conn, bool)
}

// SendGate supplies the daily quota check and human-mimicry pacing.
type SendGate interface {
	WithinRateLimit(ctx context.Context, tenantID string) bool
	Mimicry(ctx context.Context, conn gate.Presence, conversationID string)
}

// Dispatcher sends campaigns one recipient at a time, re-checking the daily
// quota before every message.
type Dispatcher struct {
	store   Store
	conns   ConnSource
	gate    SendGate
	logger  *slog.Logger
	metrics *metrics.Metrics

	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
	randFloat func() float64
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store Store, conns ConnSource, g SendGate, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		store:     store,
		conns:     conns,
		gate:      g,
		logger:    logger.With("component", "broadcast"),
		metrics:   m,
		now:       time.Now,
		sleep:     sleepCtx,
		randFloat: rand.Float64,
	}
}

// Execute runs one campaign to completion. Recipients are processed strictly
// in stored order with a randomised 15-45s gap between sends. Hitting the
// daily quota stops the campaign early; recipients never attempted are counted
// in neither the sent nor the failed total. The campaign always finishes in a
// terminal state.
func (d *Dispatcher) Execute(ctx context.Context, broadcastID string) error {
	b, err := d.store.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("load broadcast %s: %w", broadcastID, err)
	}
	if b.Status != repo.BroadcastPending {
		d.logger.Warn("broadcast not pending, skipping", "broadcast_id", broadcastID, "status", b.Status)
		return nil
	}

	log := d.logger.With("broadcast_id", b.ID, "tenant_id", b.TenantID)
	if _, ok := d.conns.Conn(b.TenantID); !ok {
		log.Warn("no live session, failing broadcast")
		if err := d.store.SetBroadcastStatus(ctx, b.ID, repo.BroadcastFailed); err != nil {
			return fmt.Errorf("mark broadcast failed: %w", err)
		}
		return nil
	}

	if err := d.store.SetBroadcastStatus(ctx, b.ID, repo.BroadcastSending); err != nil {
		return fmt.Errorf("mark broadcast sending: %w", err)
	}
	log.Info("broadcast started", "recipients", len(b.Recipients))

	sent, failed := 0, 0
	for i, recipient := range b.Recipients {
		if !d.gate.WithinRateLimit(ctx, b.TenantID) {
			log.Warn("daily limit reached, stopping broadcast early", "position", i)
			break
		}

		conn, ok := d.conns.Conn(b.TenantID)
		if !ok {
			log.Warn("no live connection for recipient", "recipient", recipient)
			failed++
			d.metrics.BroadcastRecipients.WithLabelValues("failed").Inc()
			continue
		}

		d.gate.Mimicry(ctx, conn, recipient)
		if err := conn.SendText(ctx, recipient, b.Message); err != nil {
			log.Error("broadcast send failed", "recipient", recipient, "error", err)
			failed++
			d.metrics.BroadcastRecipients.WithLabelValues("failed").Inc()
		} else {
			sent++
			d.metrics.BroadcastRecipients.WithLabelValues("sent").Inc()
			d.metrics.WAOutgoingMessages.WithLabelValues("broadcast").Inc()
			if err := d.store.InsertMessage(ctx, repo.MessageRecord{
				TenantID:  b.TenantID,
				Direction: "outgoing",
				Phone:     bareNumber(recipient),
				Message:   b.Message,
			}); err != nil {
				log.Error("log broadcast message failed", "recipient", recipient, "error", err)
			}
		}

		if i < len(b.Recipients)-1 {
			delay := 15*time.Second + time.Duration(d.randFloat()*float64(30*time.Second))
			d.sleep(ctx, delay)
			if ctx.Err() != nil {
				log.Warn("broadcast interrupted", "position", i+1)
				break
			}
		}
	}

	now := d.now()
	if err := d.store.FinishBroadcast(ctx, b.ID, sent, failed, now); err != nil {
		log.Error("finalise broadcast failed", "error", err)
		return fmt.Errorf("finish broadcast: %w", err)
	}

	if sent > 0 {
		err := d.store.IncrementDailyStat(ctx, b.TenantID, gate.Today(now), repo.StatDelta{
			MessagesOut:    sent,
			BroadcastsSent: sent,
		})
		if err != nil {
			log.Error("increment broadcast stats failed", "error", err)
		}
	}

	log.Info("broadcast completed", "sent", sent, "failed", failed)
	return nil
}

// bareNumber strips the JID server suffix from a recipient address.
func bareNumber(recipient string) string {
	if i := strings.IndexByte(recipient, '@'); i >= 0 {
		return recipient[:i]
	}
	return recipient
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
