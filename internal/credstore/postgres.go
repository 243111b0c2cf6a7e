package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// PostgresStore keeps all tenants' credential material in one shared Postgres
// database, plus a tenant to device-JID mapping table of its own. Drop-in
// replacement for SQLiteStore when sessions must survive host moves.
type PostgresStore struct {
	container *sqlstore.Container
	db        *sql.DB
	logger    *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database and ensures the mapping table.
func NewPostgresStore(ctx context.Context, databaseURL, logLevel string, logger *slog.Logger) (*PostgresStore, error) {
	container, err := sqlstore.New(ctx, "pgx", databaseURL, waLog.Stdout("credstore/postgres", logLevel, false))
	if err != nil {
		return nil, fmt.Errorf("open credential container: %w", err)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open mapping db: %w", err)
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS wa_tenant_devices (
    tenant_id TEXT PRIMARY KEY,
    device_jid TEXT NOT NULL
);`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure mapping table: %w", err)
	}

	return &PostgresStore{
		container: container,
		db:        db,
		logger:    logger.With("component", "credstore"),
	}, nil
}

// Device loads the tenant's device by its recorded JID, or creates a fresh
// unpaired device when the tenant has never paired.
func (s *PostgresStore) Device(ctx context.Context, tenantID string) (*store.Device, error) {
	var jidStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT device_jid FROM wa_tenant_devices WHERE tenant_id = $1`, tenantID).Scan(&jidStr)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.container.NewDevice(), nil
	case err != nil:
		return nil, fmt.Errorf("lookup device jid: %w", err)
	}

	jid, err := types.ParseJID(jidStr)
	if err != nil {
		return nil, fmt.Errorf("parse device jid %q: %w", jidStr, err)
	}
	device, err := s.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("get device for tenant %s: %w", tenantID, err)
	}
	if device == nil {
		// Mapping outlived the device row; start a fresh pairing.
		return s.container.NewDevice(), nil
	}
	return device, nil
}

// Bind upserts the tenant to device mapping after pairing.
func (s *PostgresStore) Bind(ctx context.Context, tenantID string, jid types.JID) error {
	const q = `
INSERT INTO wa_tenant_devices (tenant_id, device_jid)
VALUES ($1, $2)
ON CONFLICT (tenant_id) DO UPDATE SET device_jid = EXCLUDED.device_jid;`
	if _, err := s.db.ExecContext(ctx, q, tenantID, jid.String()); err != nil {
		return fmt.Errorf("bind device: %w", err)
	}
	return nil
}

// Delete wipes the tenant's device rows and mapping.
func (s *PostgresStore) Delete(ctx context.Context, tenantID string) error {
	var jidStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT device_jid FROM wa_tenant_devices WHERE tenant_id = $1`, tenantID).Scan(&jidStr)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup device jid: %w", err)
	}

	if err == nil {
		jid, parseErr := types.ParseJID(jidStr)
		if parseErr == nil {
			device, getErr := s.container.GetDevice(ctx, jid)
			if getErr == nil && device != nil {
				if delErr := s.container.DeleteDevice(ctx, device); delErr != nil {
					return fmt.Errorf("delete device: %w", delErr)
				}
			}
		}
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM wa_tenant_devices WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("delete device mapping: %w", err)
	}
	s.logger.Info("credentials deleted", "tenant_id", tenantID)
	return nil
}

// Close releases database resources.
func (s *PostgresStore) Close() error {
	if err := s.container.Close(); err != nil {
		s.logger.Warn("closing credential container failed", "error", err)
	}
	return s.db.Close()
}
