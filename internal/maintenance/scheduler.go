// Package maintenance runs a background checkpoint sweep: periodically
// committing whatever write transaction is idle-open so dirty pages
// don't sit unflushed indefinitely, and reporting page-cache occupancy.
// Grounded on the teacher-adjacent tinySQL's internal/storage/
// scheduler.go, trimmed down to the one job this pager needs (no SQL
// job catalog, no per-job SQL text — just "checkpoint now").
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/embeddb/embeddb/internal/observe"
)

// Checkpointer is the subset of *embeddb.DB the scheduler needs. Kept
// as an interface, the way tinySQL's JobExecutor decouples the
// scheduler from its caller, so this package doesn't import the root
// module and create a dependency cycle.
type Checkpointer interface {
	Commit(ctx context.Context) error
	PageCount() uint32
}

// Scheduler runs a cron-triggered checkpoint job against a Checkpointer.
type Scheduler struct {
	db     Checkpointer
	hub    *observe.Hub
	logger *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
}

// NewScheduler builds a Scheduler. hub may be nil if no debug feed is
// wired up; logger may be nil for a no-op logger.
func NewScheduler(db Checkpointer, hub *observe.Hub, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		db:     db,
		hub:    hub,
		logger: logger,
		cron:   cron.New(cron.WithSeconds()),
	}
}

// Start registers cronExpr (a 6-field cron expression whose first field
// is seconds, as cron.WithSeconds requires, or a descriptor such as
// "@every 1m") and begins running it.
func (s *Scheduler) Start(cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(cronExpr, s.runCheckpoint)
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	s.running = true
	s.logger.Info("maintenance scheduler started", zap.String("cron", cronExpr))
	return nil
}

// Stop halts the scheduler and waits (bounded by ctx) for any
// in-flight checkpoint to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runCheckpoint is the cron-triggered job body: flush whatever write
// transaction is currently idle-open and report cache occupancy.
func (s *Scheduler) runCheckpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.db.Commit(ctx); err != nil {
		s.logger.Warn("checkpoint commit failed", zap.Error(err))
		return
	}

	pages := s.db.PageCount()
	s.logger.Debug("checkpoint complete", zap.Uint32("page_count", pages))

	if s.hub != nil {
		s.hub.Broadcast(observe.Event{
			Type:   observe.EventCheckpoint,
			Detail: map[string]any{"page_count": pages},
		})
	}
}
