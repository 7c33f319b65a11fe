// Package scheduler drives cron-based task execution: a tick loop finds
// due tasks, admits runs through per-task serialization, and records
// every run in the execution store.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/store"
)

const (
	// DefaultTickInterval is how often due tasks are checked.
	DefaultTickInterval = 30 * time.Second

	// DefaultJobTimeout bounds one task run.
	DefaultJobTimeout = time.Hour
)

// DefaultWorkers returns the execution pool size.
func DefaultWorkers() int {
	if n := runtime.NumCPU(); n > 2 {
		return n
	}
	return 2
}

// Clock abstracts time so tick behavior is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// JobRunner executes the work of one admitted run. Implementations fill
// the execution counters and report path but leave the terminal status
// to the scheduler; a returned error means setup failed and nothing was
// processed.
type JobRunner interface {
	Run(ctx context.Context, task *models.Task, exec *models.Execution) error
}

// Scheduler owns the tick loop and the execution pool.
type Scheduler struct {
	store  *store.Store
	runner JobRunner
	logger *slog.Logger
	parser cron.Parser
	clock  Clock

	tickInterval time.Duration
	jobTimeout   time.Duration
	workers      int

	mu     sync.Mutex
	states map[string]*taskState

	// sem bounds concurrent executions across tasks.
	sem chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds scheduler tuning.
type Config struct {
	// TickInterval is how often due tasks are checked. Default 30s.
	TickInterval time.Duration

	// Workers bounds concurrent executions. Default max(2, NumCPU).
	Workers int

	// JobTimeout is the per-run deadline. Default 1 hour.
	JobTimeout time.Duration
}

// NewScheduler creates a scheduler over the given store and runner.
func NewScheduler(st *store.Store, runner JobRunner) *Scheduler {
	return &Scheduler{
		store:        st,
		runner:       runner,
		logger:       slog.Default(),
		parser:       cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		clock:        systemClock{},
		tickInterval: DefaultTickInterval,
		jobTimeout:   DefaultJobTimeout,
		workers:      DefaultWorkers(),
		states:       make(map[string]*taskState),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithConfig applies configuration to the scheduler.
func (s *Scheduler) WithConfig(cfg Config) *Scheduler {
	if cfg.TickInterval > 0 {
		s.tickInterval = cfg.TickInterval
	}
	if cfg.Workers > 0 {
		s.workers = cfg.Workers
	}
	if cfg.JobTimeout > 0 {
		s.jobTimeout = cfg.JobTimeout
	}
	return s
}

// Start begins the background tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.sem = make(chan struct{}, s.workers)

	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Int("workers", s.workers))
	return nil
}

// Stop halts the tick loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	// Dispatch anything already due at startup.
	s.tick()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick dispatches every enabled task whose next run time has passed,
// then advances next_run_at so a fire dispatches exactly once.
func (s *Scheduler) tick() {
	now := s.clock.Now()
	tasks, err := s.store.ListTasks()
	if err != nil {
		s.logger.Error("listing tasks for dispatch", slog.Any("error", err))
		return
	}

	for _, task := range tasks {
		if !task.IsEnabled() {
			continue
		}
		if task.NextRunAt == nil {
			// First sighting: compute the schedule without firing.
			s.advance(task, now)
			continue
		}
		if task.NextRunAt.After(now) {
			continue
		}

		if _, err := s.trigger(task, models.TriggerCron); err != nil {
			if models.IsKind(err, models.KindConflict) {
				// A run plus a waiter are already admitted; leave
				// next_run_at in the past so the next tick retries.
				s.logger.Debug("task busy, dispatch deferred",
					slog.String("task_id", task.ID.String()))
			} else {
				s.logger.Error("dispatching task",
					slog.String("task_id", task.ID.String()),
					slog.Any("error", err))
			}
			continue
		}

		task.LastRunAt = &now
		s.advance(task, now)
	}
}

// advance computes and persists the next fire time strictly after now.
func (s *Scheduler) advance(task *models.Task, now time.Time) {
	next, err := s.NextRun(task.Cron, now)
	if err != nil {
		s.logger.Warn("task has invalid cron expression",
			slog.String("task_id", task.ID.String()),
			slog.String("cron", task.Cron),
			slog.Any("error", err))
		return
	}
	task.NextRunAt = &next
	if err := s.store.UpdateTask(task); err != nil {
		s.logger.Error("persisting next run time",
			slog.String("task_id", task.ID.String()),
			slog.Any("error", err))
	}
}

// Run triggers an immediate manual execution, returning the running
// record. Disabled tasks can still be run manually. A second call while
// one run is active queues behind it; a third is rejected as busy.
func (s *Scheduler) Run(taskID models.ULID) (*models.Execution, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	exec, err := s.trigger(task, models.TriggerManual)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	task.LastRunAt = &now
	if err := s.store.UpdateTask(task); err != nil {
		s.logger.Warn("persisting last run time",
			slog.String("task_id", task.ID.String()),
			slog.Any("error", err))
	}
	return exec, nil
}

// ValidateCron checks a 5-field cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	if _, err := s.parser.Parse(expr); err != nil {
		return models.WrapError(models.KindConfig, fmt.Sprintf("cron %q", expr), err)
	}
	return nil
}

// NextRun returns the first fire time strictly after the given time.
func (s *Scheduler) NextRun(expr string, after time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, models.WrapError(models.KindConfig, fmt.Sprintf("cron %q", expr), err)
	}
	return schedule.Next(after), nil
}

// Status reports the current scheduler state.
type Status struct {
	Running      bool          `json:"running"`
	Workers      int           `json:"workers"`
	TickInterval time.Duration `json:"tick_interval"`

	// ActiveRuns counts admitted executions: running plus queued.
	ActiveRuns int `json:"active_runs"`
}

// GetStatus returns the current scheduler status.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, st := range s.states {
		active += st.pending
	}
	return Status{
		Running:      s.ctx != nil && s.ctx.Err() == nil,
		Workers:      s.workers,
		TickInterval: s.tickInterval,
		ActiveRuns:   active,
	}
}
