// Package credstore persists per-tenant WhatsApp authentication material so a
// dropped connection can resume without re-pairing. Backends are swappable:
// per-tenant SQLite files on the local filesystem, or a shared Postgres
// database for multi-host deployments.
package credstore

import (
	"context"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
)

// Store provides access to a tenant's transport credentials.
type Store interface {
	// Device loads the tenant's device record, creating a fresh unpaired one
	// if none exists yet.
	Device(ctx context.Context, tenantID string) (*store.Device, error)

	// Bind records the transport identity assigned to the tenant once pairing
	// completes, so the same device can be found on reconnect.
	Bind(ctx context.Context, tenantID string, jid types.JID) error

	// Delete wipes the tenant's credential material. Called on explicit
	// revocation; after this a fresh pairing is required.
	Delete(ctx context.Context, tenantID string) error

	// Close releases backend resources.
	Close() error
}
