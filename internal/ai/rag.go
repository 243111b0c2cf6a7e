package ai

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"omnireply/internal/cache"
	"omnireply/internal/repo"
)

const (
	knowledgeCacheTTL = 5 * time.Minute
	maxRelevant       = 3
)

// KnowledgeStore is the subset of the record store the retriever reads.
type KnowledgeStore interface {
	ListActiveKnowledge(ctx context.Context, tenantID string) ([]repo.KnowledgeEntry, error)
}

// Retriever scores tenant knowledge entries against a customer message and
// formats the top matches as prompt context.
type Retriever struct {
	store  KnowledgeStore
	cache  *cache.Redis
	logger *slog.Logger
}

// NewRetriever returns a retriever; cache may be nil.
func NewRetriever(store KnowledgeStore, redis *cache.Redis, logger *slog.Logger) *Retriever {
	return &Retriever{
		store:  store,
		cache:  redis,
		logger: logger.With("component", "rag"),
	}
}

// Context is the retrieval result injected into the generation prompt.
type Context struct {
	Text    string
	Sources []string
}

// Query retrieves the most relevant knowledge entries for the message.
// Retrieval failures degrade to empty context rather than propagate.
func (r *Retriever) Query(ctx context.Context, tenantID, message string) Context {
	entries, err := r.entries(ctx, tenantID)
	if err != nil {
		r.logger.Error("knowledge query failed", "tenant_id", tenantID, "error", err)
		return Context{}
	}
	if len(entries) == 0 {
		return Context{}
	}

	keywords := keywords(message)
	relevant := scoreEntries(entries, keywords)
	if len(relevant) == 0 {
		return Context{}
	}

	parts := make([]string, 0, len(relevant))
	sources := make([]string, 0, len(relevant))
	for _, e := range relevant {
		parts = append(parts, fmt.Sprintf("[%s] %s:\n%s", strings.ToUpper(e.Category), e.Title, e.Content))
		sources = append(sources, e.Title)
	}

	r.logger.Debug("knowledge context retrieved", "tenant_id", tenantID, "matches", len(relevant))
	return Context{Text: strings.Join(parts, "\n\n"), Sources: sources}
}

// InvalidateCache drops the cached entry list after a knowledge write.
func (r *Retriever) InvalidateCache(ctx context.Context, tenantID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, knowledgeCacheKey(tenantID)); err != nil {
		r.logger.Warn("invalidate knowledge cache failed", "tenant_id", tenantID, "error", err)
	}
}

func (r *Retriever) entries(ctx context.Context, tenantID string) ([]repo.KnowledgeEntry, error) {
	key := knowledgeCacheKey(tenantID)
	if r.cache != nil {
		var cached []repo.KnowledgeEntry
		ok, err := r.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			r.logger.Warn("read knowledge cache failed", "tenant_id", tenantID, "error", err)
		} else if ok {
			return cached, nil
		}
	}

	entries, err := r.store.ListActiveKnowledge(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetJSON(ctx, key, entries, knowledgeCacheTTL); err != nil {
			r.logger.Warn("set knowledge cache failed", "tenant_id", tenantID, "error", err)
		}
	}
	return entries, nil
}

type scoredEntry struct {
	repo.KnowledgeEntry
	score float64
}

func scoreEntries(entries []repo.KnowledgeEntry, keywords []string) []repo.KnowledgeEntry {
	if len(keywords) == 0 {
		return nil
	}

	scored := make([]scoredEntry, 0, len(entries))
	for _, entry := range entries {
		searchText := strings.ToLower(entry.Title + " " + entry.Content)
		matches := 0
		for _, k := range keywords {
			if strings.Contains(searchText, k) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		scored = append(scored, scoredEntry{
			KnowledgeEntry: entry,
			score:          float64(matches) / float64(len(keywords)),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > maxRelevant {
		scored = scored[:maxRelevant]
	}

	out := make([]repo.KnowledgeEntry, len(scored))
	for i, s := range scored {
		out[i] = s.KnowledgeEntry
	}
	return out
}

func keywords(message string) []string {
	var out []string
	for _, word := range strings.Fields(strings.ToLower(message)) {
		word = strings.Trim(word, wordPunct)
		if len(word) > 2 {
			out = append(out, word)
		}
	}
	return out
}

const wordPunct = ".,!?;:\"'()"

func knowledgeCacheKey(tenantID string) string {
	return "knowledge:active:" + tenantID
}
