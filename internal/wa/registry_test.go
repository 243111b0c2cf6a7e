package wa

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"omnireply/internal/metrics"
	"omnireply/internal/repo"
	"omnireply/internal/status"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCreds struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeCreds) Device(ctx context.Context, tenantID string) (*store.Device, error) {
	return nil, nil
}

func (f *fakeCreds) Bind(ctx context.Context, tenantID string, jid types.JID) error { return nil }

func (f *fakeCreds) Delete(ctx context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, tenantID)
	return nil
}

func (f *fakeCreds) Close() error { return nil }

func (f *fakeCreds) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

type fakeConn struct {
	mu           sync.Mutex
	sent         []string
	loggedOut    bool
	disconnected bool
}

func (f *fakeConn) SendText(ctx context.Context, conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeConn) ChatPresence(ctx context.Context, conversationID string, composing bool) error {
	return nil
}

func (f *fakeConn) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

type fakeDialer struct {
	mu     sync.Mutex
	dials  int
	err    error
	conns  []*fakeConn
	events []Events
}

func (f *fakeDialer) Dial(ctx context.Context, tenantID string, ev Events) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.err != nil {
		return nil, f.err
	}
	conn := &fakeConn{}
	f.conns = append(f.conns, conn)
	f.events = append(f.events, ev)
	return conn, nil
}

func (f *fakeDialer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeDialer) lastEvents() Events {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	return f.events[len(f.events)-1]
}

func (f *fakeDialer) lastConn() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

type fakeSessionStore struct {
	mu        sync.Mutex
	upserts   []repo.WhatsAppSession
	statuses  map[string]string
	connected []repo.WhatsAppSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{statuses: make(map[string]string)}
}

func (f *fakeSessionStore) UpsertSession(ctx context.Context, s repo.WhatsAppSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, s)
	f.statuses[s.TenantID] = s.Status
	return nil
}

func (f *fakeSessionStore) SetSessionStatus(ctx context.Context, tenantID, st string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[tenantID] = st
	return nil
}

func (f *fakeSessionStore) ListSessionsByStatus(ctx context.Context, st string) ([]repo.WhatsAppSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected, nil
}

func (f *fakeSessionStore) status(tenantID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[tenantID]
}

type fakeOverrides struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeOverrides) ActivateOverride(tenantID, conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, tenantID+":"+conversationID)
}

func (f *fakeOverrides) activations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

type testRig struct {
	registry  *Registry
	dialer    *fakeDialer
	creds     *fakeCreds
	store     *fakeSessionStore
	monitor   *status.Monitor
	overrides *fakeOverrides
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		dialer:    &fakeDialer{},
		creds:     &fakeCreds{},
		store:     newFakeSessionStore(),
		monitor:   status.NewMonitor(testLogger()),
		overrides: &fakeOverrides{},
	}
	rig.registry = NewRegistry(Config{
		Dialer:         rig.dialer,
		Credentials:    rig.creds,
		Store:          rig.store,
		Monitor:        rig.monitor,
		Overrides:      rig.overrides,
		ReconnectDelay: 10 * time.Millisecond,
	}, testLogger(), metrics.Registry("watest"))
	return rig
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectIsIdempotent(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	if err := rig.registry.Connect(ctx, "t1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := rig.registry.Connect(ctx, "t1"); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if got := rig.dialer.dialCount(); got != 1 {
		t.Fatalf("expected a single dial, got %d", got)
	}
}

func TestConnectDialFailure(t *testing.T) {
	rig := newRig(t)
	rig.dialer.err = errors.New("network down")

	if err := rig.registry.Connect(context.Background(), "t1"); err == nil {
		t.Fatal("expected error from failed dial")
	}
	if rig.monitor.Get("t1").State != status.StateDisconnected {
		t.Fatal("failed dial should leave the session disconnected")
	}

	// The tenant is not stuck: a later connect dials again.
	rig.dialer.err = nil
	if err := rig.registry.Connect(context.Background(), "t1"); err != nil {
		t.Fatalf("retry connect: %v", err)
	}
	if got := rig.dialer.dialCount(); got != 2 {
		t.Fatalf("expected 2 dials, got %d", got)
	}
}

func TestOpenedPersistsConnectedSession(t *testing.T) {
	rig := newRig(t)
	if err := rig.registry.Connect(context.Background(), "t1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	rig.dialer.lastEvents().Opened("252611234567")

	snap := rig.monitor.Get("t1")
	if snap.State != status.StateConnected {
		t.Fatalf("expected connected, got %s", snap.State)
	}
	if snap.Phone != "252611234567" {
		t.Fatalf("expected phone recorded, got %q", snap.Phone)
	}
	if rig.store.status("t1") != string(status.StateConnected) {
		t.Fatal("expected connected status persisted")
	}
}

func TestPairingCodeExposedUntilOpened(t *testing.T) {
	rig := newRig(t)
	if err := rig.registry.Connect(context.Background(), "t1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ev := rig.dialer.lastEvents()
	ev.PairingCode("code-1")

	code, ok := rig.registry.PairingCode("t1")
	if !ok || code != "code-1" {
		t.Fatalf("expected pairing code exposed, got %q ok=%v", code, ok)
	}
	if rig.monitor.Get("t1").State != status.StateQRReady {
		t.Fatal("expected qr_ready state")
	}

	// A regenerated code replaces the old one.
	ev.PairingCode("code-2")
	if code, _ := rig.registry.PairingCode("t1"); code != "code-2" {
		t.Fatalf("expected latest code, got %q", code)
	}

	ev.Opened("252611234567")
	if _, ok := rig.registry.PairingCode("t1"); ok {
		t.Fatal("pairing code must clear once connected")
	}
	if rig.monitor.Get("t1").QRCode != "" {
		t.Fatal("snapshot qr code must clear once connected")
	}
}

func TestTransientCloseSchedulesReconnect(t *testing.T) {
	rig := newRig(t)
	if err := rig.registry.Connect(context.Background(), "t1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rig.dialer.lastEvents().Opened("252611234567")

	rig.dialer.lastEvents().Closed(false)
	if rig.monitor.Get("t1").State != status.StateAuthenticating {
		t.Fatal("transient close should show authenticating while retrying")
	}
	if rig.creds.deleteCount() != 0 {
		t.Fatal("transient close must not wipe credentials")
	}

	waitFor(t, "automatic redial", func() bool { return rig.dialer.dialCount() >= 2 })
}

func TestReconnectRetriesUntilDialSucceeds(t *testing.T) {
	rig := newRig(t)
	if err := rig.registry.Connect(context.Background(), "t1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ev := rig.dialer.lastEvents()

	rig.dialer.mu.Lock()
	rig.dialer.err = errors.New("still down")
	rig.dialer.mu.Unlock()

	ev.Closed(false)
	waitFor(t, "multiple retry attempts", func() bool { return rig.dialer.dialCount() >= 3 })

	rig.dialer.mu.Lock()
	rig.dialer.err = nil
	rig.dialer.mu.Unlock()

	waitFor(t, "successful redial", func() bool {
		_, ok := rig.registry.Conn("t1")
		return ok
	})
}

func TestLoggedOutWipesCredentials(t *testing.T) {
	rig := newRig(t)
	if err := rig.registry.Connect(context.Background(), "t1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rig.dialer.lastEvents().Opened("252611234567")

	rig.dialer.lastEvents().Closed(true)

	if rig.monitor.Get("t1").State != status.StateDisconnected {
		t.Fatal("logout should show disconnected")
	}
	if rig.creds.deleteCount() != 1 {
		t.Fatal("logout must wipe credentials")
	}
	if rig.store.status("t1") != string(status.StateDisconnected) {
		t.Fatal("logout must persist disconnected status")
	}

	// No automatic redial after an explicit revocation.
	time.Sleep(50 * time.Millisecond)
	if got := rig.dialer.dialCount(); got != 1 {
		t.Fatalf("expected no redial after logout, got %d dials", got)
	}
}

func TestLoggedOutCancelsPendingReconnect(t *testing.T) {
	rig := newRig(t)
	if err := rig.registry.Connect(context.Background(), "t1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ev := rig.dialer.lastEvents()
	ev.Opened("252611234567")

	// Transient close arms the retry, then the server reports a logout
	// before the retry fires.
	ev.Closed(false)
	ev.Closed(true)

	time.Sleep(100 * time.Millisecond)
	if got := rig.dialer.dialCount(); got != 1 {
		t.Fatalf("revocation must cancel the pending redial, got %d dials", got)
	}
	if rig.creds.deleteCount() != 1 {
		t.Fatal("logout must still wipe credentials")
	}
}

func TestDisconnectRevokesSession(t *testing.T) {
	rig := newRig(t)
	if err := rig.registry.Connect(context.Background(), "t1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rig.dialer.lastEvents().Opened("252611234567")

	if err := rig.registry.Disconnect(context.Background(), "t1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	conn := rig.dialer.lastConn()
	conn.mu.Lock()
	loggedOut, disconnected := conn.loggedOut, conn.disconnected
	conn.mu.Unlock()
	if !loggedOut || !disconnected {
		t.Fatal("disconnect must log out and tear down the socket")
	}
	if rig.creds.deleteCount() != 1 {
		t.Fatal("disconnect must wipe credentials")
	}
	if _, ok := rig.registry.Conn("t1"); ok {
		t.Fatal("no live connection should remain")
	}
}

func TestStaleEventsIgnoredAfterDisconnect(t *testing.T) {
	rig := newRig(t)
	if err := rig.registry.Connect(context.Background(), "t1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	staleEvents := rig.dialer.lastEvents()

	if err := rig.registry.Disconnect(context.Background(), "t1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	staleEvents.Opened("252611234567")
	if rig.monitor.Get("t1").State == status.StateConnected {
		t.Fatal("events from a superseded connection must be dropped")
	}

	staleEvents.Closed(false)
	time.Sleep(50 * time.Millisecond)
	if got := rig.dialer.dialCount(); got != 1 {
		t.Fatalf("stale close must not schedule reconnects, got %d dials", got)
	}
}

type recordingHandler struct {
	ch chan InboundMessage
}

func (h *recordingHandler) HandleMessage(ctx context.Context, msg InboundMessage) {
	h.ch <- msg
}

func TestInboundMessageRouting(t *testing.T) {
	rig := newRig(t)
	handler := &recordingHandler{ch: make(chan InboundMessage, 1)}
	rig.registry.SetMessageHandler(handler)

	if err := rig.registry.Connect(context.Background(), "t1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ev := rig.dialer.lastEvents()
	ev.Opened("252611234567")

	ev.Message("252617654321@s.whatsapp.net", "how much is delivery?", false)
	select {
	case msg := <-handler.ch:
		if msg.TenantID != "t1" || msg.Text != "how much is delivery?" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("customer message never reached the handler")
	}

	// A message from the tenant's own operator yields the conversation
	// instead of reaching the reply pipeline.
	ev.Message("252617654321@s.whatsapp.net", "I'll take over", true)
	waitFor(t, "override activation", func() bool {
		acts := rig.overrides.activations()
		return len(acts) == 1 && acts[0] == "t1:252617654321@s.whatsapp.net"
	})
	select {
	case msg := <-handler.ch:
		t.Fatalf("operator message must not reach the handler: %+v", msg)
	default:
	}
}

func TestReconnectAllDialsPreviouslyConnected(t *testing.T) {
	rig := newRig(t)
	rig.store.connected = []repo.WhatsAppSession{
		{TenantID: "t1", Status: string(status.StateConnected)},
		{TenantID: "t2", Status: string(status.StateConnected)},
	}

	rig.registry.ReconnectAll(context.Background())
	waitFor(t, "both tenants dialled", func() bool { return rig.dialer.dialCount() == 2 })
}

func TestShutdownKeepsCredentials(t *testing.T) {
	rig := newRig(t)
	if err := rig.registry.Connect(context.Background(), "t1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rig.dialer.lastEvents().Opened("252611234567")

	rig.registry.Shutdown()

	conn := rig.dialer.lastConn()
	conn.mu.Lock()
	loggedOut, disconnected := conn.loggedOut, conn.disconnected
	conn.mu.Unlock()
	if loggedOut {
		t.Fatal("shutdown must not revoke the session")
	}
	if !disconnected {
		t.Fatal("shutdown must tear down the socket")
	}
	if rig.creds.deleteCount() != 0 {
		t.Fatal("shutdown must keep credentials for resume")
	}
}
