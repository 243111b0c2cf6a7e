package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// CreateTenant inserts a new tenant row.
func (r *Repository) CreateTenant(ctx context.Context, tenant Tenant) (*Tenant, error) {
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if tenant.BusinessType == "" {
		tenant.BusinessType = "general"
	}
	if tenant.DefaultLanguage == "" {
		tenant.DefaultLanguage = "en"
	}
	if tenant.MaxDailyMessages <= 0 {
		tenant.MaxDailyMessages = 100
	}

	const q = `
INSERT INTO tenants (id, name, business_type, default_language, max_daily_messages, is_active)
VALUES ($1, $2, $3, $4, $5, TRUE)
RETURNING created_at, updated_at;
`
	err := r.pool.QueryRow(ctx, q,
		tenant.ID,
		tenant.Name,
		tenant.BusinessType,
		tenant.DefaultLanguage,
		tenant.MaxDailyMessages,
	).Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert tenant: %w", err)
	}
	tenant.IsActive = true
	return &tenant, nil
}

// GetTenant fetches a tenant by id.
func (r *Repository) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	const q = `
SELECT id, name, business_type, default_language, max_daily_messages, is_active, created_at, updated_at
FROM tenants
WHERE id = $1;
`
	var t Tenant
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&t.ID, &t.Name, &t.BusinessType, &t.DefaultLanguage,
		&t.MaxDailyMessages, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

// UpdateTenant updates mutable tenant settings.
func (r *Repository) UpdateTenant(ctx context.Context, tenant Tenant) error {
	const q = `
UPDATE tenants
SET name = $2, business_type = $3, default_language = $4,
    max_daily_messages = $5, is_active = $6, updated_at = NOW()
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q,
		tenant.ID, tenant.Name, tenant.BusinessType, tenant.DefaultLanguage,
		tenant.MaxDailyMessages, tenant.IsActive,
	)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateUser inserts a new user row.
func (r *Repository) CreateUser(ctx context.Context, user User) (*User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = "owner"
	}

	const q = `
INSERT INTO users (id, tenant_id, email, password_hash, name, role)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at;
`
	err := r.pool.QueryRow(ctx, q,
		user.ID, user.TenantID, user.Email, user.PasswordHash, user.Name, user.Role,
	).Scan(&user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail fetches a user by email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "email", email)
}

// GetUserByID fetches a user by id.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "id", id)
}

func (r *Repository) getUser(ctx context.Context, column, value string) (*User, error) {
	q := fmt.Sprintf(`
SELECT id, tenant_id, email, password_hash, name, role, created_at
FROM users
WHERE %s = $1;
`, column)
	var u User
	err := r.pool.QueryRow(ctx, q, value).Scan(
		&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by %s: %w", column, err)
	}
	return &u, nil
}
