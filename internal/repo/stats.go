package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// IncrementDailyStat folds counter deltas into the tenant's row for the given
// date, creating the row lazily. Counters never decrease; negative deltas are
// rejected.
func (r *Repository) IncrementDailyStat(ctx context.Context, tenantID, date string, delta StatDelta) error {
	if delta.MessagesIn < 0 || delta.MessagesOut < 0 || delta.AIResponses < 0 ||
		delta.NewLeads < 0 || delta.BroadcastsSent < 0 {
		return fmt.Errorf("negative stat delta for tenant %s", tenantID)
	}

	const q = `
INSERT INTO daily_stats (tenant_id, date, messages_in, messages_out, ai_responses, new_leads, broadcasts_sent)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (tenant_id, date) DO UPDATE SET
    messages_in = daily_stats.messages_in + EXCLUDED.messages_in,
    messages_out = daily_stats.messages_out + EXCLUDED.messages_out,
    ai_responses = daily_stats.ai_responses + EXCLUDED.ai_responses,
    new_leads = daily_stats.new_leads + EXCLUDED.new_leads,
    broadcasts_sent = daily_stats.broadcasts_sent + EXCLUDED.broadcasts_sent;
`
	_, err := r.pool.Exec(ctx, q, tenantID, date,
		delta.MessagesIn, delta.MessagesOut, delta.AIResponses, delta.NewLeads, delta.BroadcastsSent)
	if err != nil {
		return fmt.Errorf("increment daily stat: %w", err)
	}
	return nil
}

// GetDailyStat returns the counters for one tenant and date, or ErrNotFound.
func (r *Repository) GetDailyStat(ctx context.Context, tenantID, date string) (*DailyStat, error) {
	const q = `
SELECT tenant_id, date::TEXT, messages_in, messages_out, ai_responses, new_leads, broadcasts_sent
FROM daily_stats
WHERE tenant_id = $1 AND date = $2;
`
	var s DailyStat
	err := r.pool.QueryRow(ctx, q, tenantID, date).Scan(
		&s.TenantID, &s.Date, &s.MessagesIn, &s.MessagesOut, &s.AIResponses, &s.NewLeads, &s.BroadcastsSent,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get daily stat: %w", err)
	}
	return &s, nil
}

// ListDailyStats returns per-day counters since the given time, newest first.
func (r *Repository) ListDailyStats(ctx context.Context, tenantID string, since time.Time) ([]DailyStat, error) {
	const q = `
SELECT tenant_id, date::TEXT, messages_in, messages_out, ai_responses, new_leads, broadcasts_sent
FROM daily_stats
WHERE tenant_id = $1 AND date >= $2::DATE
ORDER BY date DESC;
`
	rows, err := r.pool.Query(ctx, q, tenantID, since.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list daily stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var s DailyStat
		if err := rows.Scan(&s.TenantID, &s.Date, &s.MessagesIn, &s.MessagesOut,
			&s.AIResponses, &s.NewLeads, &s.BroadcastsSent); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily stats: %w", err)
	}
	return stats, nil
}
