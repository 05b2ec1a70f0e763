package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job names.
const (
	JobSync      = "sync"
	JobRecompute = "recompute"
	JobPrune     = "prune"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronSchedule checks a five-field cron expression or an @descriptor.
func ValidateCronSchedule(schedule string) error {
	_, err := parser.Parse(schedule)
	return err
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Entry binds a job to its schedule. An empty Schedule disables the job.
type Entry struct {
	Name     string
	Schedule string
	Job      Job
	Timeout  time.Duration
}

// PipelineScheduler runs the sync and recompute jobs on their cron
// schedules. A job never overlaps with itself; a tick that fires while the
// previous run is still going is skipped.
type PipelineScheduler struct {
	entries []Entry
	logger  *zap.Logger

	cron      *cron.Cron
	entryIDs  map[string]cron.EntryID
	mu        sync.RWMutex
	isRunning bool
	busy      map[string]bool
	cancel    context.CancelFunc
	ctx       context.Context
}

// NewPipelineScheduler creates a scheduler for entries.
func NewPipelineScheduler(logger *zap.Logger, entries ...Entry) *PipelineScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineScheduler{
		entries:  entries,
		logger:   logger,
		cron:     cron.New(cron.WithParser(parser)),
		entryIDs: make(map[string]cron.EntryID),
		busy:     make(map[string]bool),
	}
}

// Start validates every schedule and begins firing jobs.
func (s *PipelineScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	for _, e := range s.entries {
		if e.Schedule == "" || e.Job == nil {
			s.logger.Info("scheduled job disabled", zap.String("job", e.Name))
			continue
		}
		if err := ValidateCronSchedule(e.Schedule); err != nil {
			return fmt.Errorf("invalid cron schedule '%s' for %s: %w", e.Schedule, e.Name, err)
		}
		entry := e
		id, err := s.cron.AddFunc(e.Schedule, func() { s.run(entry) })
		if err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", e.Name, err)
		}
		s.entryIDs[e.Name] = id
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.isRunning = true

	for name, id := range s.entryIDs {
		s.logger.Info("scheduled job registered",
			zap.String("job", name),
			zap.Time("next_run", s.cron.Entry(id).Next),
		)
	}

	go func(done <-chan struct{}) {
		<-done
		s.Stop()
	}(s.ctx.Done())

	return nil
}

// Stop stops firing new jobs and waits for running ones to finish.
func (s *PipelineScheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	stopped := s.cron.Stop()
	cancel()
	<-stopped.Done()

	s.logger.Info("pipeline scheduler stopped")
}

// RunNow triggers the named job in the background.
func (s *PipelineScheduler) RunNow(name string) error {
	for _, e := range s.entries {
		if e.Name == name && e.Job != nil {
			go s.run(e)
			return nil
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

// IsRunning returns whether the scheduler is active.
func (s *PipelineScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// IsBusy reports whether the named job is executing.
func (s *PipelineScheduler) IsBusy(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy[name]
}

// NextRunTime returns when the named job fires next, or nil.
func (s *PipelineScheduler) NextRunTime(name string) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.entryIDs[name]
	if !s.isRunning || !ok {
		return nil
	}
	next := s.cron.Entry(id).Next
	return &next
}

func (s *PipelineScheduler) run(e Entry) {
	s.mu.Lock()
	if s.busy[e.Name] {
		s.mu.Unlock()
		s.logger.Info("scheduled job skipped, previous run still active", zap.String("job", e.Name))
		return
	}
	s.busy[e.Name] = true
	parent := s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy[e.Name] = false
		s.mu.Unlock()
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, e.Timeout)
		defer cancel()
	}

	started := time.Now()
	if err := e.Job(ctx); err != nil {
		s.logger.Error("scheduled job failed", zap.String("job", e.Name), zap.Error(err))
		return
	}
	s.logger.Info("scheduled job finished",
		zap.String("job", e.Name),
		zap.Duration("took", time.Since(started)),
	)
}
