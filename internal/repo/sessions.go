package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertSession stores or updates the session record for a tenant.
func (r *Repository) UpsertSession(ctx context.Context, session WhatsAppSession) error {
	const q = `
INSERT INTO whatsapp_sessions (tenant_id, phone, status, last_active, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (tenant_id) DO UPDATE SET
    phone = COALESCE(EXCLUDED.phone, whatsapp_sessions.phone),
    status = EXCLUDED.status,
    last_active = COALESCE(EXCLUDED.last_active, whatsapp_sessions.last_active),
    updated_at = NOW();
`
	_, err := r.pool.Exec(ctx, q, session.TenantID, session.Phone, session.Status, session.LastActive)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession returns the durable session record for a tenant.
func (r *Repository) GetSession(ctx context.Context, tenantID string) (*WhatsAppSession, error) {
	const q = `
SELECT tenant_id, phone, status, last_active, updated_at
FROM whatsapp_sessions
WHERE tenant_id = $1;
`
	var s WhatsAppSession
	err := r.pool.QueryRow(ctx, q, tenantID).Scan(&s.TenantID, &s.Phone, &s.Status, &s.LastActive, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// SetSessionStatus updates only the persisted status of a session.
func (r *Repository) SetSessionStatus(ctx context.Context, tenantID, status string) error {
	const q = `
INSERT INTO whatsapp_sessions (tenant_id, status, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (tenant_id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW();
`
	if _, err := r.pool.Exec(ctx, q, tenantID, status); err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	return nil
}

// ListSessionsByStatus returns sessions whose persisted status matches, used
// by the startup reconnect sweep.
func (r *Repository) ListSessionsByStatus(ctx context.Context, status string) ([]WhatsAppSession, error) {
	const q = `
SELECT tenant_id, phone, status, last_active, updated_at
FROM whatsapp_sessions
WHERE status = $1;
`
	rows, err := r.pool.Query(ctx, q, status)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []WhatsAppSession
	for rows.Next() {
		var s WhatsAppSession
		if err := rows.Scan(&s.TenantID, &s.Phone, &s.Status, &s.LastActive, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
