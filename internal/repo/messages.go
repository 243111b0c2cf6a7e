package repo

import (
	"context"
	"fmt"
)

// InsertMessage stores a message record for auditing purposes.
func (r *Repository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	const q = `
INSERT INTO message_logs (tenant_id, direction, phone, message, language, ai_model)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, q,
		msg.TenantID,
		msg.Direction,
		msg.Phone,
		msg.Message,
		msg.Language,
		msg.AIModel,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListRecentMessages returns the latest messages logged for a tenant.
func (r *Repository) ListRecentMessages(ctx context.Context, tenantID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT direction, phone, message, language, ai_model, created_at
FROM message_logs
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		var msg MessageRecord
		if err := rows.Scan(&msg.Direction, &msg.Phone, &msg.Message, &msg.Language, &msg.AIModel, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		msg.TenantID = tenantID
		records = append(records, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}
	return records, nil
}
