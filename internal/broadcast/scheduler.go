package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler polls for scheduled campaigns that have come due and hands them to
// the dispatcher. Each campaign runs in its own goroutine; the pending→sending
// transition inside Execute keeps a slow poll cycle from double-running one.
type Scheduler struct {
	store      Store
	dispatcher *Dispatcher
	logger     *slog.Logger
	cron       *cron.Cron

	mu      sync.Mutex
	running map[string]struct{}
}

// NewScheduler creates a scheduler; call Start to begin polling.
func NewScheduler(store Store, dispatcher *Dispatcher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger.With("component", "scheduler"),
		cron:       cron.New(),
		running:    make(map[string]struct{}),
	}
}

// Start begins the minutely poll for due campaigns.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc("* * * * *", func() {
		s.tick(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("broadcast scheduler started")
	return nil
}

// Stop halts polling and waits for the poll job to return. In-flight campaign
// sends are cancelled through the context passed to Start.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("broadcast scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.ListDueBroadcasts(ctx, time.Now())
	if err != nil {
		s.logger.Error("list due broadcasts failed", "error", err)
		return
	}

	for _, b := range due {
		if !s.claim(b.ID) {
			continue
		}
		s.logger.Info("scheduled broadcast due", "broadcast_id", b.ID, "tenant_id", b.TenantID)
		go func(id string) {
			defer s.release(id)
			if err := s.dispatcher.Execute(ctx, id); err != nil {
				s.logger.Error("scheduled broadcast failed", "broadcast_id", id, "error", err)
			}
		}(b.ID)
	}
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; ok {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}
