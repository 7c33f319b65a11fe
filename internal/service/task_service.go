package service

import (
	"log/slog"
	"time"

	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/scheduler"
	"github.com/visus-project/visus/internal/store"
)

// TaskService manages task definitions and their execution history.
type TaskService struct {
	store  *store.Store
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

// NewTaskService wires the task store and scheduler.
func NewTaskService(st *store.Store, sched *scheduler.Scheduler) *TaskService {
	return &TaskService{
		store:  st,
		sched:  sched,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *TaskService) WithLogger(logger *slog.Logger) *TaskService {
	s.logger = logger
	return s
}

// Create validates and persists a new task. The ID, timestamps, and
// first next_run_at are assigned here.
func (s *TaskService) Create(task *models.Task) (*models.Task, error) {
	if err := task.Validate(); err != nil {
		return nil, models.WrapError(models.KindInput, "invalid task", err)
	}
	if err := s.sched.ValidateCron(task.Cron); err != nil {
		return nil, err
	}

	if task.ID.IsZero() {
		task.ID = models.NewULID()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	task.LastRunAt = nil
	if next, err := s.sched.NextRun(task.Cron, now); err == nil {
		task.NextRunAt = &next
	}

	if err := s.store.CreateTask(task); err != nil {
		return nil, err
	}

	s.logger.Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("name", task.Name),
		slog.String("type", string(task.Type)),
		slog.String("cron", task.Cron))
	return task, nil
}

// Get returns one task by ID.
func (s *TaskService) Get(id models.ULID) (*models.Task, error) {
	return s.store.GetTask(id)
}

// List returns all tasks ordered by creation time.
func (s *TaskService) List() ([]*models.Task, error) {
	return s.store.ListTasks()
}

// Update replaces a task definition. Creation time and run history are
// preserved; next_run_at is recomputed when the cron expression
// changed.
func (s *TaskService) Update(task *models.Task) (*models.Task, error) {
	if err := task.Validate(); err != nil {
		return nil, models.WrapError(models.KindInput, "invalid task", err)
	}
	if err := s.sched.ValidateCron(task.Cron); err != nil {
		return nil, err
	}

	existing, err := s.store.GetTask(task.ID)
	if err != nil {
		return nil, err
	}

	task.CreatedAt = existing.CreatedAt
	task.LastRunAt = existing.LastRunAt
	task.UpdatedAt = time.Now().UTC()
	task.NextRunAt = existing.NextRunAt
	if task.Cron != existing.Cron {
		if next, err := s.sched.NextRun(task.Cron, task.UpdatedAt); err == nil {
			task.NextRunAt = &next
		}
	}

	if err := s.store.UpdateTask(task); err != nil {
		return nil, err
	}

	s.logger.Info("task updated",
		slog.String("task_id", task.ID.String()),
		slog.String("name", task.Name))
	return task, nil
}

// Delete removes the task definition. Execution history is preserved.
func (s *TaskService) Delete(id models.ULID) error {
	if err := s.store.DeleteTask(id); err != nil {
		return err
	}
	s.logger.Info("task deleted", slog.String("task_id", id.String()))
	return nil
}

// SetEnabled flips the enabled flag. Enabling recomputes next_run_at
// from now so a long-disabled task does not fire a stale backlog run.
func (s *TaskService) SetEnabled(id models.ULID, enabled bool) (*models.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}

	task.Enabled = &enabled
	task.UpdatedAt = time.Now().UTC()
	if enabled {
		if next, err := s.sched.NextRun(task.Cron, task.UpdatedAt); err == nil {
			task.NextRunAt = &next
		}
	}

	if err := s.store.UpdateTask(task); err != nil {
		return nil, err
	}

	s.logger.Info("task enabled flag changed",
		slog.String("task_id", id.String()),
		slog.Bool("enabled", enabled))
	return task, nil
}

// Run triggers an immediate manual execution.
func (s *TaskService) Run(id models.ULID) (*models.Execution, error) {
	return s.sched.Run(id)
}

// ListExecutions returns execution history, newest first. A nil taskID
// lists across all tasks; limit <= 0 means no limit.
func (s *TaskService) ListExecutions(taskID *models.ULID, limit int) ([]*models.Execution, error) {
	if taskID == nil {
		return s.store.ListAllExecutions(limit)
	}
	return s.store.ListExecutions(*taskID, limit)
}

// GetExecution returns one execution record.
func (s *TaskService) GetExecution(taskID, execID models.ULID) (*models.Execution, error) {
	return s.store.GetExecution(taskID, execID)
}

// ValidateCron checks a 5-field cron expression.
func (s *TaskService) ValidateCron(expr string) error {
	return s.sched.ValidateCron(expr)
}

// NextRun returns the next fire time of a cron expression after now.
func (s *TaskService) NextRun(expr string) (time.Time, error) {
	return s.sched.NextRun(expr, time.Now())
}

// SchedulerStatus reports the scheduler state for the system surface.
func (s *TaskService) SchedulerStatus() scheduler.Status {
	return s.sched.GetStatus()
}
