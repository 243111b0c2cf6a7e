package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"omnireply/internal/repo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeKnowledgeStore struct {
	entries []repo.KnowledgeEntry
	err     error
	calls   int
}

func (f *fakeKnowledgeStore) ListActiveKnowledge(ctx context.Context, tenantID string) ([]repo.KnowledgeEntry, error) {
	f.calls++
	return f.entries, f.err
}

func menuEntries() []repo.KnowledgeEntry {
	return []repo.KnowledgeEntry{
		{Category: "menu", Title: "Rice Dishes", Content: "Bariis with hilib: $5. Bariis with chicken: $6."},
		{Category: "hours", Title: "Opening Hours", Content: "Open daily 8am to 10pm."},
		{Category: "delivery", Title: "Delivery", Content: "Delivery within the city costs $1."},
		{Category: "payment", Title: "Payment Methods", Content: "We accept EVC Plus and cash."},
	}
}

func TestQueryReturnsRelevantEntries(t *testing.T) {
	r := NewRetriever(&fakeKnowledgeStore{entries: menuEntries()}, nil, testLogger())

	result := r.Query(context.Background(), "t1", "how much is delivery?")
	if !strings.Contains(result.Text, "Delivery within the city") {
		t.Fatalf("expected delivery entry in context, got %q", result.Text)
	}
	if len(result.Sources) == 0 || result.Sources[0] != "Delivery" {
		t.Fatalf("expected delivery ranked first, got %v", result.Sources)
	}
}

func TestQueryFormatsEntries(t *testing.T) {
	r := NewRetriever(&fakeKnowledgeStore{entries: menuEntries()}, nil, testLogger())

	result := r.Query(context.Background(), "t1", "opening hours")
	if !strings.Contains(result.Text, "[HOURS] Opening Hours:\n") {
		t.Fatalf("expected category header format, got %q", result.Text)
	}
}

func TestQueryCapsMatches(t *testing.T) {
	entries := menuEntries()
	for i := range entries {
		entries[i].Content += " open open open"
	}
	r := NewRetriever(&fakeKnowledgeStore{entries: entries}, nil, testLogger())

	result := r.Query(context.Background(), "t1", "are you open")
	if len(result.Sources) > 3 {
		t.Fatalf("expected at most 3 entries, got %d", len(result.Sources))
	}
}

func TestQueryNoMatches(t *testing.T) {
	r := NewRetriever(&fakeKnowledgeStore{entries: menuEntries()}, nil, testLogger())

	result := r.Query(context.Background(), "t1", "zzz qqq")
	if result.Text != "" || len(result.Sources) != 0 {
		t.Fatalf("expected empty context, got %+v", result)
	}
}

func TestQueryDegradesOnStoreError(t *testing.T) {
	r := NewRetriever(&fakeKnowledgeStore{err: errors.New("db down")}, nil, testLogger())

	result := r.Query(context.Background(), "t1", "delivery")
	if result.Text != "" {
		t.Fatal("store errors must degrade to empty context")
	}
}

func TestQueryIgnoresShortWords(t *testing.T) {
	// Stop-length words like "is" and "to" carry no signal.
	r := NewRetriever(&fakeKnowledgeStore{entries: menuEntries()}, nil, testLogger())

	result := r.Query(context.Background(), "t1", "is to an")
	if result.Text != "" {
		t.Fatalf("expected no matches on short words, got %q", result.Text)
	}
}

func TestScoreEntriesRanksByOverlap(t *testing.T) {
	entries := []repo.KnowledgeEntry{
		{Title: "A", Content: "delivery"},
		{Title: "B", Content: "delivery cost city"},
	}
	got := scoreEntries(entries, []string{"delivery", "cost", "city"})
	if len(got) != 2 || got[0].Title != "B" {
		t.Fatalf("expected B ranked first, got %+v", got)
	}
}
