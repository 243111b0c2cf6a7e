package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// TouchLead creates a lead on first contact or bumps counters on repeat
// contact. Returns whether a new lead was created.
func (r *Repository) TouchLead(ctx context.Context, tenantID, phone string, name, firstMessage *string) (bool, error) {
	const q = `
INSERT INTO leads (id, tenant_id, phone, name, first_message, message_count, last_contact)
VALUES ($1, $2, $3, $4, $5, 1, NOW())
ON CONFLICT (tenant_id, phone) DO UPDATE SET
    message_count = leads.message_count + 1,
    last_contact = NOW(),
    updated_at = NOW()
RETURNING message_count;
`
	var messageCount int
	err := r.pool.QueryRow(ctx, q, uuid.NewString(), tenantID, phone, name, firstMessage).Scan(&messageCount)
	if err != nil {
		return false, fmt.Errorf("touch lead: %w", err)
	}
	return messageCount == 1, nil
}

// ListLeads returns a tenant's leads ordered by recency of contact.
func (r *Repository) ListLeads(ctx context.Context, tenantID string, limit int) ([]Lead, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, tenant_id, phone, name, first_message, message_count, last_contact, created_at, updated_at
FROM leads
WHERE tenant_id = $1
ORDER BY last_contact DESC
LIMIT $2;
`
	return r.queryLeads(ctx, q, tenantID, limit)
}

// SearchLeads matches leads by phone or name substring.
func (r *Repository) SearchLeads(ctx context.Context, tenantID, query string, limit int) ([]Lead, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, tenant_id, phone, name, first_message, message_count, last_contact, created_at, updated_at
FROM leads
WHERE tenant_id = $1 AND (phone ILIKE '%' || $2 || '%' OR name ILIKE '%' || $2 || '%')
ORDER BY last_contact DESC
LIMIT $3;
`
	return r.queryLeads(ctx, q, tenantID, query, limit)
}

func (r *Repository) queryLeads(ctx context.Context, q string, args ...any) ([]Lead, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		var l Lead
		if err := rows.Scan(&l.ID, &l.TenantID, &l.Phone, &l.Name, &l.FirstMessage,
			&l.MessageCount, &l.LastContact, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, nil
}
