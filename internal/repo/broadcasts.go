package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateBroadcast inserts a new campaign in pending state.
func (r *Repository) CreateBroadcast(ctx context.Context, b Broadcast) (*Broadcast, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.Status = BroadcastPending

	recipients, err := json.Marshal(b.Recipients)
	if err != nil {
		return nil, fmt.Errorf("marshal recipients: %w", err)
	}

	const q = `
INSERT INTO broadcasts (id, tenant_id, message, recipients, status, scheduled_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at;
`
	err = r.pool.QueryRow(ctx, q, b.ID, b.TenantID, b.Message, recipients, b.Status, b.ScheduledAt).
		Scan(&b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert broadcast: %w", err)
	}
	return &b, nil
}

// GetBroadcast fetches a campaign by id.
func (r *Repository) GetBroadcast(ctx context.Context, id string) (*Broadcast, error) {
	const q = broadcastColumns + ` WHERE id = $1;`
	return r.scanBroadcast(r.pool.QueryRow(ctx, q, id))
}

// GetBroadcastForTenant fetches a campaign scoped to its owning tenant.
func (r *Repository) GetBroadcastForTenant(ctx context.Context, tenantID, id string) (*Broadcast, error) {
	const q = broadcastColumns + ` WHERE id = $1 AND tenant_id = $2;`
	return r.scanBroadcast(r.pool.QueryRow(ctx, q, id, tenantID))
}

// ListBroadcasts returns a tenant's campaigns, newest first.
func (r *Repository) ListBroadcasts(ctx context.Context, tenantID string) ([]Broadcast, error) {
	const q = broadcastColumns + ` WHERE tenant_id = $1 ORDER BY created_at DESC;`
	rows, err := r.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	defer rows.Close()
	return collectBroadcasts(rows)
}

// ListDueBroadcasts returns pending campaigns whose scheduled time has
// arrived, for the scheduler sweep.
func (r *Repository) ListDueBroadcasts(ctx context.Context, now time.Time) ([]Broadcast, error) {
	const q = broadcastColumns + `
WHERE status = 'pending' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
ORDER BY scheduled_at ASC;`
	rows, err := r.pool.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("list due broadcasts: %w", err)
	}
	defer rows.Close()
	return collectBroadcasts(rows)
}

// SetBroadcastStatus transitions a campaign's lifecycle state.
func (r *Repository) SetBroadcastStatus(ctx context.Context, id, status string) error {
	ct, err := r.pool.Exec(ctx, `UPDATE broadcasts SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set broadcast status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishBroadcast records final counts, stamps completion, and marks the
// campaign completed.
func (r *Repository) FinishBroadcast(ctx context.Context, id string, sent, failed int, completedAt time.Time) error {
	const q = `
UPDATE broadcasts
SET sent_count = $2, failed_count = $3, status = 'completed', completed_at = $4
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id, sent, failed, completedAt)
	if err != nil {
		return fmt.Errorf("finish broadcast: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const broadcastColumns = `
SELECT id, tenant_id, message, recipients, status, sent_count, failed_count, scheduled_at, completed_at, created_at
FROM broadcasts`

func (r *Repository) scanBroadcast(row pgx.Row) (*Broadcast, error) {
	b, err := scanBroadcastRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get broadcast: %w", err)
	}
	return b, nil
}

func scanBroadcastRow(row pgx.Row) (*Broadcast, error) {
	var b Broadcast
	var recipients []byte
	if err := row.Scan(&b.ID, &b.TenantID, &b.Message, &recipients, &b.Status,
		&b.SentCount, &b.FailedCount, &b.ScheduledAt, &b.CompletedAt, &b.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recipients, &b.Recipients); err != nil {
		return nil, fmt.Errorf("unmarshal recipients: %w", err)
	}
	return &b, nil
}

func collectBroadcasts(rows pgx.Rows) ([]Broadcast, error) {
	var out []Broadcast
	for rows.Next() {
		b, err := scanBroadcastRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan broadcast: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate broadcasts: %w", err)
	}
	return out, nil
}
