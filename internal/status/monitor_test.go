package status

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetDefaultsToDisconnected(t *testing.T) {
	m := NewMonitor(testLogger())

	snap := m.Get("tenant-1")
	if snap.State != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", snap.State)
	}
	if snap.TenantID != "tenant-1" {
		t.Fatalf("expected tenant-1, got %s", snap.TenantID)
	}
}

func TestUpdateMergesPartialFields(t *testing.T) {
	m := NewMonitor(testLogger())

	qr := StateQRReady
	code := "pairing-code"
	m.Update("tenant-1", Update{State: &qr, QRCode: &code})

	connected := StateConnected
	phone := "252611234567"
	m.Update("tenant-1", Update{State: &connected, Phone: &phone})

	snap := m.Get("tenant-1")
	if snap.State != StateConnected {
		t.Fatalf("expected connected, got %s", snap.State)
	}
	if snap.Phone != phone {
		t.Fatalf("expected phone preserved, got %q", snap.Phone)
	}
	if snap.QRCode != code {
		t.Fatalf("expected qr code untouched by partial update, got %q", snap.QRCode)
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	m := NewMonitor(testLogger())

	tenantCh := m.Subscribe("tenant-1")
	globalCh := m.Subscribe("")

	connecting := StateConnecting
	m.Update("tenant-1", Update{State: &connecting})

	select {
	case snap := <-tenantCh:
		if snap.State != StateConnecting {
			t.Fatalf("expected connecting, got %s", snap.State)
		}
	case <-time.After(time.Second):
		t.Fatal("tenant subscriber received nothing")
	}

	select {
	case snap := <-globalCh:
		if snap.TenantID != "tenant-1" {
			t.Fatalf("expected tenant-1, got %s", snap.TenantID)
		}
	case <-time.After(time.Second):
		t.Fatal("global subscriber received nothing")
	}
}

func TestSubscriberForOtherTenantNotNotified(t *testing.T) {
	m := NewMonitor(testLogger())

	otherCh := m.Subscribe("tenant-2")
	connecting := StateConnecting
	m.Update("tenant-1", Update{State: &connecting})

	select {
	case snap := <-otherCh:
		t.Fatalf("unexpected notification: %+v", snap)
	default:
	}
}

func TestSlowSubscriberDoesNotBlockUpdates(t *testing.T) {
	m := NewMonitor(testLogger())
	m.Subscribe("tenant-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		connecting := StateConnecting
		for i := 0; i < 100; i++ {
			m.Update("tenant-1", Update{State: &connecting})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("updates blocked on a lagging subscriber")
	}
}

func TestRemoveClearsTrackingAndEmitsDisconnected(t *testing.T) {
	m := NewMonitor(testLogger())

	connected := StateConnected
	m.Update("tenant-1", Update{State: &connected})

	ch := m.Subscribe("tenant-1")
	m.Remove("tenant-1")

	if m.Get("tenant-1").State != StateDisconnected {
		t.Fatal("expected disconnected after remove")
	}
	select {
	case snap := <-ch:
		if snap.State != StateDisconnected {
			t.Fatalf("expected final disconnected snapshot, got %s", snap.State)
		}
	case <-time.After(time.Second):
		t.Fatal("no final snapshot emitted")
	}
}

func TestIsConnected(t *testing.T) {
	m := NewMonitor(testLogger())
	if m.IsConnected("tenant-1") {
		t.Fatal("fresh tenant should not be connected")
	}
	connected := StateConnected
	m.Update("tenant-1", Update{State: &connected})
	if !m.IsConnected("tenant-1") {
		t.Fatal("expected connected")
	}
}
