package broadcast

import (
	"context"
	"testing"
	"time"

	"omnireply/internal/repo"
)

func TestTickExecutesDueCampaigns(t *testing.T) {
	store := &fakeStore{broadcast: pendingBroadcast("111")}
	store.due = []repo.Broadcast{*store.broadcast}
	conns := &fakeConns{conn: &sendRecorder{}, live: true}
	d, _, _ := newTestDispatcher(store, conns, -1)

	s := NewScheduler(store, d, testLogger())
	s.tick(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		done := store.finished
		store.mu.Unlock()
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("due campaign was never executed")
}

func TestTickDoesNotDoubleRunClaimedCampaign(t *testing.T) {
	store := &fakeStore{broadcast: pendingBroadcast("111")}
	store.due = []repo.Broadcast{*store.broadcast}
	d, _, _ := newTestDispatcher(store, &fakeConns{conn: &sendRecorder{}, live: true}, -1)

	s := NewScheduler(store, d, testLogger())
	if !s.claim("b1") {
		t.Fatal("first claim must succeed")
	}
	if s.claim("b1") {
		t.Fatal("second claim must fail while running")
	}
	s.release("b1")
	if !s.claim("b1") {
		t.Fatal("claim must succeed again after release")
	}
}
