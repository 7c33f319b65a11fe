package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/scheduler"
	"github.com/visus-project/visus/internal/service"
	"github.com/visus-project/visus/internal/store"
)

type noopRunner struct{}

func (noopRunner) Run(context.Context, *models.Task, *models.Execution) error {
	return nil
}

func newTaskHandler(t *testing.T) *TaskHandler {
	t.Helper()
	st, err := store.New(t.TempDir(), quietLogger())
	require.NoError(t, err)

	sched := scheduler.NewScheduler(st, noopRunner{}).
		WithLogger(quietLogger()).
		WithConfig(scheduler.Config{TickInterval: time.Hour})
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(sched.Stop)

	tasks := service.NewTaskService(st, sched).WithLogger(quietLogger())
	return NewTaskHandler(tasks)
}

func createTaskBody(t *testing.T) CreateTaskRequest {
	t.Helper()
	return CreateTaskRequest{
		Name: "nightly-scan",
		Type: "batch_image",
		Cron: "0 3 * * *",
		Config: models.TaskConfig{
			InputPath: t.TempDir(),
		},
	}
}

func TestTaskHandler_CreateAndGet(t *testing.T) {
	h := newTaskHandler(t)

	created, err := h.Create(context.Background(), &CreateTaskInput{Body: createTaskBody(t)})
	require.NoError(t, err)
	assert.False(t, created.Body.ID.IsZero())
	assert.Equal(t, "nightly-scan", created.Body.Name)
	require.NotNil(t, created.Body.NextRunAt)

	got, err := h.Get(context.Background(), &TaskIDInput{ID: created.Body.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, created.Body.ID, got.Body.ID)
}

func TestTaskHandler_GetInvalidID(t *testing.T) {
	h := newTaskHandler(t)

	_, err := h.Get(context.Background(), &TaskIDInput{ID: "not-a-ulid"})
	require.Error(t, err)
	assert.Equal(t, 400, statusOf(t, err))
}

func TestTaskHandler_GetUnknownID(t *testing.T) {
	h := newTaskHandler(t)

	_, err := h.Get(context.Background(), &TaskIDInput{ID: models.NewULID().String()})
	require.Error(t, err)
	assert.Equal(t, 404, statusOf(t, err))
}

func TestTaskHandler_Update(t *testing.T) {
	h := newTaskHandler(t)

	created, err := h.Create(context.Background(), &CreateTaskInput{Body: createTaskBody(t)})
	require.NoError(t, err)

	name := "weekly-scan"
	cron := "0 4 * * 0"
	updated, err := h.Update(context.Background(), &UpdateTaskInput{
		ID:   created.Body.ID.String(),
		Body: UpdateTaskRequest{Name: &name, Cron: &cron},
	})
	require.NoError(t, err)
	assert.Equal(t, "weekly-scan", updated.Body.Name)
	assert.Equal(t, "0 4 * * 0", updated.Body.Cron)
	// Untouched fields keep their values.
	assert.Equal(t, created.Body.Config.InputPath, updated.Body.Config.InputPath)
}

func TestTaskHandler_EnableDisable(t *testing.T) {
	h := newTaskHandler(t)

	created, err := h.Create(context.Background(), &CreateTaskInput{Body: createTaskBody(t)})
	require.NoError(t, err)

	disabled, err := h.Disable(context.Background(), &TaskIDInput{ID: created.Body.ID.String()})
	require.NoError(t, err)
	assert.False(t, models.BoolVal(disabled.Body.Enabled))

	enabled, err := h.Enable(context.Background(), &TaskIDInput{ID: created.Body.ID.String()})
	require.NoError(t, err)
	assert.True(t, models.BoolVal(enabled.Body.Enabled))
	assert.NotNil(t, enabled.Body.NextRunAt)
}

func TestTaskHandler_Delete(t *testing.T) {
	h := newTaskHandler(t)

	created, err := h.Create(context.Background(), &CreateTaskInput{Body: createTaskBody(t)})
	require.NoError(t, err)

	deleted, err := h.Delete(context.Background(), &TaskIDInput{ID: created.Body.ID.String()})
	require.NoError(t, err)
	assert.True(t, deleted.Body.Deleted)

	_, err = h.Get(context.Background(), &TaskIDInput{ID: created.Body.ID.String()})
	require.Error(t, err)
	assert.Equal(t, 404, statusOf(t, err))
}

func TestTaskHandler_RunAndListExecutions(t *testing.T) {
	h := newTaskHandler(t)

	created, err := h.Create(context.Background(), &CreateTaskInput{Body: createTaskBody(t)})
	require.NoError(t, err)

	run, err := h.Run(context.Background(), &TaskIDInput{ID: created.Body.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, created.Body.ID, run.Body.TaskID)
	assert.Equal(t, models.TriggerManual, run.Body.Trigger)

	// The execution record lands asynchronously.
	require.Eventually(t, func() bool {
		out, err := h.ListTaskExecutions(context.Background(), &ListTaskExecutionsInput{
			ID:    created.Body.ID.String(),
			Limit: 10,
		})
		return err == nil && len(out.Body.Executions) > 0
	}, 5*time.Second, 20*time.Millisecond)

	all, err := h.ListExecutions(context.Background(), &ListExecutionsInput{Limit: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, all.Body.Executions)
}

func TestTaskHandler_ValidateCron(t *testing.T) {
	h := newTaskHandler(t)

	out, err := h.ValidateCron(context.Background(), &ValidateCronInput{
		Body: ValidateCronRequest{Expression: "*/5 * * * *"},
	})
	require.NoError(t, err)
	assert.True(t, out.Body.Valid)
	assert.NotEmpty(t, out.Body.NextRun)

	out, err = h.ValidateCron(context.Background(), &ValidateCronInput{
		Body: ValidateCronRequest{Expression: "every tuesday"},
	})
	require.NoError(t, err)
	assert.False(t, out.Body.Valid)
	assert.NotEmpty(t, out.Body.Error)
}
