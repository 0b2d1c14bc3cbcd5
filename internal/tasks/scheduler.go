package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/universal/internal/shared"
	"github.com/robfig/cron/v3"
)

// Scheduler runs [Engine.SyncAll] on a cron schedule. A run that is still going
// when the next one is due causes that tick to be skipped.
type Scheduler struct {
	cron   *cron.Cron
	engine *Engine
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	runs   int
}

// NewScheduler parses schedule (standard five-field cron or a descriptor such as
// "@every 30m") and registers the sync job.
func NewScheduler(engine *Engine, schedule string, logger *log.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		engine: engine,
		logger: shared.WithLogger(logger, "component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: sync.schedule %q: %v", shared.ErrInvalidConfig, schedule, err)
	}
	return s, nil
}

// Start begins firing the schedule in the background.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "next", s.Next())
	s.cron.Start()
}

// Stop cancels a running sync at its next source boundary and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped", "runs", s.Runs())
}

// Next reports when the job fires next; zero before [Scheduler.Start].
func (s *Scheduler) Next() string {
	entries := s.cron.Entries()
	if len(entries) == 0 || entries[0].Next.IsZero() {
		return ""
	}
	return entries[0].Next.Format("2006-01-02 15:04:05")
}

// Runs returns how many scheduled runs have completed.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// RunNow performs one run synchronously, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) ([]*SyncReport, error) {
	reports, err := s.engine.SyncAll(ctx, nil)

	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	failed := 0
	for _, r := range reports {
		failed += len(r.Failed())
	}
	if err != nil {
		s.logger.Error("scheduled sync failed", "err", err)
	} else {
		s.logger.Info("scheduled sync finished", "playlists", len(reports), "failed_sources", failed)
	}
	return reports, err
}

func (s *Scheduler) tick() {
	_, _ = s.RunNow(s.ctx)
}
