package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/visus-project/visus/internal/models"
)

// taskState serializes runs of one task. pending counts admitted runs,
// which is at most two: the one running and one waiter.
type taskState struct {
	runMu   sync.Mutex
	pending int
}

// state returns the serialization state for a task. Caller holds s.mu.
func (s *Scheduler) state(id models.ULID) *taskState {
	st, ok := s.states[id.String()]
	if !ok {
		st = &taskState{}
		s.states[id.String()] = st
	}
	return st
}

// trigger admits one run for the task: immediate when the task is idle,
// queued when one run is active, rejected when a waiter already queues.
// The returned execution is in the running state and already persisted.
func (s *Scheduler) trigger(task *models.Task, trigger string) (*models.Execution, error) {
	s.mu.Lock()
	if s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil, models.NewError(models.KindConflict, "scheduler is not running")
	}
	st := s.state(task.ID)
	if st.pending >= 2 {
		s.mu.Unlock()
		return nil, models.WrapError(models.KindConflict,
			fmt.Sprintf("task %s", task.ID), models.ErrTaskBusy)
	}
	st.pending++
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.Unlock()

	exec := models.NewExecution(task, trigger)
	if err := s.store.SaveExecution(exec); err != nil {
		s.release(st)
		s.wg.Done()
		return nil, err
	}

	go s.run(ctx, st, task, exec)
	return exec, nil
}

func (s *Scheduler) release(st *taskState) {
	s.mu.Lock()
	st.pending--
	s.mu.Unlock()
}

// run serializes on the task, takes a pool slot, executes the runner,
// and records the terminal state. The task lock is taken before the
// pool slot so a queued waiter never holds worker capacity.
func (s *Scheduler) run(ctx context.Context, st *taskState, task *models.Task, exec *models.Execution) {
	defer s.wg.Done()
	defer s.release(st)

	st.runMu.Lock()
	defer st.runMu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		_ = exec.MarkFailed("scheduler stopped before the run started")
		s.saveExecution(exec)
		return
	}
	defer func() { <-s.sem }()

	runCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	s.logger.Info("task run started",
		slog.String("task_id", task.ID.String()),
		slog.String("execution_id", exec.ID.String()),
		slog.String("task_name", task.Name),
		slog.String("trigger", exec.Trigger))

	err := s.runner.Run(runCtx, task, exec)
	s.finish(task, exec, err)
}

// finish applies the terminal status, persists the record, and sweeps
// old executions when the task retains for a bounded number of days.
func (s *Scheduler) finish(task *models.Task, exec *models.Execution, runErr error) {
	if !exec.Status.Terminal() {
		switch {
		case runErr != nil:
			_ = exec.MarkFailed(runErr.Error())
		case exec.Errors > 0:
			_ = exec.MarkPartial()
		default:
			_ = exec.MarkSuccess()
		}
	}
	s.saveExecution(exec)

	if runErr != nil {
		s.logger.Error("task run failed",
			slog.String("task_id", task.ID.String()),
			slog.String("execution_id", exec.ID.String()),
			slog.Any("error", runErr))
	} else {
		s.logger.Info("task run finished",
			slog.String("task_id", task.ID.String()),
			slog.String("execution_id", exec.ID.String()),
			slog.String("status", string(exec.Status)),
			slog.Int("total", exec.Total),
			slog.Int("abnormal", exec.Abnormal),
			slog.Int("errors", exec.Errors))
	}

	if task.Output.KeepDays > 0 {
		removed, err := s.store.SweepExecutions(task.ID, task.Output.KeepDays)
		if err != nil {
			s.logger.Warn("sweeping old executions",
				slog.String("task_id", task.ID.String()),
				slog.Any("error", err))
		} else if removed > 0 {
			s.logger.Debug("swept old executions",
				slog.String("task_id", task.ID.String()),
				slog.Int("removed", removed))
		}
	}
}

func (s *Scheduler) saveExecution(exec *models.Execution) {
	if err := s.store.SaveExecution(exec); err != nil {
		s.logger.Error("persisting execution record",
			slog.String("execution_id", exec.ID.String()),
			slog.Any("error", err))
	}
}
