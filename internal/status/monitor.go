package status

import (
	"log/slog"
	"sync"
	"time"
)

// State is a tenant session lifecycle state.
type State string

// Session lifecycle states, in pairing order.
const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateQRReady        State = "qr_ready"
	StateAuthenticating State = "authenticating"
	StateConnected      State = "connected"
)

// Snapshot is the latest observable connection state for one tenant.
type Snapshot struct {
	TenantID   string     `json:"tenantId"`
	State      State      `json:"status"`
	QRCode     string     `json:"qrCode,omitempty"`
	Phone      string     `json:"phoneNumber,omitempty"`
	LastActive *time.Time `json:"lastActive,omitempty"`
}

// Update carries partial snapshot fields to merge. Nil fields are left as-is.
type Update struct {
	State      *State
	QRCode     *string
	Phone      *string
	LastActive *time.Time
}

// Monitor tracks per-tenant status snapshots and fans changes out to
// subscribers. Notification never blocks the updater: subscriber channels are
// buffered and changes are dropped when a consumer lags.
type Monitor struct {
	logger *slog.Logger

	mu        sync.RWMutex
	snapshots map[string]Snapshot
	tenantsub map[string][]chan Snapshot
	globalsub []chan Snapshot
}

// NewMonitor returns an empty monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger:    logger.With("component", "status"),
		snapshots: make(map[string]Snapshot),
		tenantsub: make(map[string][]chan Snapshot),
	}
}

// Update merges the partial update into the tenant's snapshot (creating a
// default disconnected snapshot first) and notifies subscribers.
func (m *Monitor) Update(tenantID string, update Update) {
	m.mu.Lock()
	snap, ok := m.snapshots[tenantID]
	if !ok {
		snap = Snapshot{TenantID: tenantID, State: StateDisconnected}
	}
	if update.State != nil {
		snap.State = *update.State
	}
	if update.QRCode != nil {
		snap.QRCode = *update.QRCode
	}
	if update.Phone != nil {
		snap.Phone = *update.Phone
	}
	if update.LastActive != nil {
		snap.LastActive = update.LastActive
	}
	m.snapshots[tenantID] = snap
	m.mu.Unlock()

	m.logger.Info("status updated", "tenant_id", tenantID, "status", snap.State)
	m.notify(snap)
}

// Get returns the current snapshot, defaulting to disconnected if never set.
func (m *Monitor) Get(tenantID string) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if snap, ok := m.snapshots[tenantID]; ok {
		return snap
	}
	return Snapshot{TenantID: tenantID, State: StateDisconnected}
}

// All returns every tracked snapshot.
func (m *Monitor) All() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.snapshots))
	for _, snap := range m.snapshots {
		out = append(out, snap)
	}
	return out
}

// IsConnected reports whether the tenant currently shows as connected.
func (m *Monitor) IsConnected(tenantID string) bool {
	return m.Get(tenantID).State == StateConnected
}

// Remove clears tracking for a tenant and emits a final disconnected snapshot.
func (m *Monitor) Remove(tenantID string) {
	m.mu.Lock()
	delete(m.snapshots, tenantID)
	m.mu.Unlock()
	m.notify(Snapshot{TenantID: tenantID, State: StateDisconnected})
}

// Subscribe returns a channel receiving snapshot changes for one tenant, or
// for all tenants when tenantID is empty.
func (m *Monitor) Subscribe(tenantID string) <-chan Snapshot {
	ch := make(chan Snapshot, 16)
	m.mu.Lock()
	defer m.mu.Unlock()
	if tenantID == "" {
		m.globalsub = append(m.globalsub, ch)
	} else {
		m.tenantsub[tenantID] = append(m.tenantsub[tenantID], ch)
	}
	return ch
}

func (m *Monitor) notify(snap Snapshot) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.tenantsub[snap.TenantID] {
		select {
		case ch <- snap:
		default:
		}
	}
	for _, ch := range m.globalsub {
		select {
		case ch <- snap:
		default:
		}
	}
}
