// Package schedule runs periodic maintenance jobs, such as log retention
// sweeps and sample store pruning, on cron schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

type entry struct {
	name string
	spec string
	id   cron.EntryID
}

// Scheduler runs named jobs on cron schedules. Jobs never overlap with
// themselves; a run that is still going when the next one is due is
// skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logging.Logger
	mu      sync.Mutex
	entries []entry
	running bool
	cancel  context.CancelFunc
	ctx     context.Context
}

// New creates a stopped scheduler.
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		logger: logger.Named("schedule"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under name with a standard cron spec or a descriptor
// such as "@daily" or "@every 1h". An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		s.logger.Info(context.Background(), "Schedule not configured, skipping job", zap.String("job", name))
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q for %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.entries = append(s.entries, entry{name: name, spec: spec, id: id})
	return nil
}

// RunNow executes the named job immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string, job Job) error {
	start := time.Now()
	err := job(ctx)
	s.report(ctx, name, start, err)
	return err
}

func (s *Scheduler) run(name string, job Job) {
	ctx := s.ctx
	defer s.logger.Recover(ctx, "scheduled job "+name)

	start := time.Now()
	s.report(ctx, name, start, job(ctx))
}

func (s *Scheduler) report(ctx context.Context, name string, start time.Time, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error(ctx, "Scheduled job failed", zap.String("job", name), zap.Error(err))
		return
	}
	s.logger.Debug(ctx, "Scheduled job completed",
		zap.String("job", name),
		zap.Duration("duration", time.Since(start)),
	)
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true

	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.name + "=" + e.spec
	}
	s.logger.Info(context.Background(), "Scheduler started", zap.Strings("jobs", names))
}

// Stop stops the scheduler and waits for running jobs to finish, at most
// until ctx is done. Running jobs see their context canceled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.cancel()

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info(ctx, "Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping scheduler: %w", ctx.Err())
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next run time of the named job, or false if the job
// is unknown or the scheduler is not running.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.name == name {
			next := s.cron.Entry(e.id).Next
			return next, !next.IsZero()
		}
	}
	return time.Time{}, false
}
