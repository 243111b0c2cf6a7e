package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateKnowledgeEntry inserts a new knowledge-base entry.
func (r *Repository) CreateKnowledgeEntry(ctx context.Context, entry KnowledgeEntry) (*KnowledgeEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Category == "" {
		entry.Category = "general"
	}

	const q = `
INSERT INTO knowledge_entries (id, tenant_id, category, title, content, is_active)
VALUES ($1, $2, $3, $4, $5, TRUE)
RETURNING created_at, updated_at;
`
	err := r.pool.QueryRow(ctx, q, entry.ID, entry.TenantID, entry.Category, entry.Title, entry.Content).
		Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert knowledge entry: %w", err)
	}
	entry.IsActive = true
	return &entry, nil
}

// UpdateKnowledgeEntry updates an existing entry scoped to its tenant.
func (r *Repository) UpdateKnowledgeEntry(ctx context.Context, entry KnowledgeEntry) error {
	const q = `
UPDATE knowledge_entries
SET category = $3, title = $4, content = $5, is_active = $6, updated_at = NOW()
WHERE id = $1 AND tenant_id = $2;
`
	ct, err := r.pool.Exec(ctx, q, entry.ID, entry.TenantID, entry.Category, entry.Title, entry.Content, entry.IsActive)
	if err != nil {
		return fmt.Errorf("update knowledge entry: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteKnowledgeEntry removes an entry scoped to its tenant.
func (r *Repository) DeleteKnowledgeEntry(ctx context.Context, tenantID, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM knowledge_entries WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete knowledge entry: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveKnowledge returns the active entries used for reply grounding.
func (r *Repository) ListActiveKnowledge(ctx context.Context, tenantID string) ([]KnowledgeEntry, error) {
	const q = `
SELECT id, tenant_id, category, title, content, is_active, created_at, updated_at
FROM knowledge_entries
WHERE tenant_id = $1 AND is_active = TRUE
ORDER BY created_at ASC;
`
	return r.queryKnowledge(ctx, q, tenantID)
}

// ListKnowledge returns every entry for dashboard management.
func (r *Repository) ListKnowledge(ctx context.Context, tenantID string) ([]KnowledgeEntry, error) {
	const q = `
SELECT id, tenant_id, category, title, content, is_active, created_at, updated_at
FROM knowledge_entries
WHERE tenant_id = $1
ORDER BY created_at DESC;
`
	return r.queryKnowledge(ctx, q, tenantID)
}

func (r *Repository) queryKnowledge(ctx context.Context, q, tenantID string) ([]KnowledgeEntry, error) {
	rows, err := r.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query knowledge entries: %w", err)
	}
	defer rows.Close()

	var entries []KnowledgeEntry
	for rows.Next() {
		var e KnowledgeEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Category, &e.Title, &e.Content,
			&e.IsActive, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge entries: %w", err)
	}
	return entries, nil
}
