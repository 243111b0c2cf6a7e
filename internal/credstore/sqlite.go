package credstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps one SQLite credential container per tenant under a base
// directory. This is the filesystem backend for single-host deployments.
type SQLiteStore struct {
	baseDir  string
	logLevel string
	logger   *slog.Logger

	mu         sync.Mutex
	containers map[string]*sqlstore.Container
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates the base directory if needed and returns the store.
func NewSQLiteStore(baseDir, logLevel string, logger *slog.Logger) (*SQLiteStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("sessions directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &SQLiteStore{
		baseDir:    baseDir,
		logLevel:   logLevel,
		logger:     logger.With("component", "credstore"),
		containers: make(map[string]*sqlstore.Container),
	}, nil
}

// Device loads or creates the tenant's device from its own container file.
func (s *SQLiteStore) Device(ctx context.Context, tenantID string) (*store.Device, error) {
	container, err := s.container(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device for tenant %s: %w", tenantID, err)
	}
	return device, nil
}

// Bind is a no-op: the tenant to device mapping is the file path itself.
func (s *SQLiteStore) Bind(ctx context.Context, tenantID string, jid types.JID) error {
	return nil
}

// Delete closes the tenant's container and removes its database files.
func (s *SQLiteStore) Delete(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	container, ok := s.containers[tenantID]
	delete(s.containers, tenantID)
	s.mu.Unlock()

	if ok {
		if err := container.Close(); err != nil {
			s.logger.Warn("closing credential container failed", "tenant_id", tenantID, "error", err)
		}
	}

	path := s.path(tenantID)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove credential file: %w", err)
		}
	}
	s.logger.Info("credentials deleted", "tenant_id", tenantID)
	return nil
}

// Close releases all open containers.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tenantID, container := range s.containers {
		if err := container.Close(); err != nil {
			s.logger.Warn("closing credential container failed", "tenant_id", tenantID, "error", err)
		}
	}
	s.containers = make(map[string]*sqlstore.Container)
	return nil
}

func (s *SQLiteStore) container(ctx context.Context, tenantID string) (*sqlstore.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if container, ok := s.containers[tenantID]; ok {
		return container, nil
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", s.path(tenantID))
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Stdout("credstore/sqlite", s.logLevel, false))
	if err != nil {
		return nil, fmt.Errorf("open credential container for tenant %s: %w", tenantID, err)
	}
	s.containers[tenantID] = container
	return container, nil
}

func (s *SQLiteStore) path(tenantID string) string {
	return filepath.Join(s.baseDir, tenantID+".db")
}
