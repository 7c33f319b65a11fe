package store

import (
	crand "crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visus-project/visus/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func newTask(name string) *models.Task {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Task{
		ID:   models.NewULID(),
		Name: name,
		Type: models.TaskBatchImage,
		Cron: "*/5 * * * *",
		Config: models.TaskConfig{
			InputPath: "/data/in",
			Pattern:   "*.jpg",
			Recursive: true,
			Profile:   "normal",
			Level:     models.LevelStandard,
		},
		Output: models.TaskOutput{
			Dir:      "/data/out",
			Formats:  []string{"json"},
			KeepDays: 7,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New("", nil)
	require.Error(t, err)
	assert.Equal(t, models.KindConfig, models.KindOf(err))
}

func TestNewCreatesLayout(t *testing.T) {
	root := t.TempDir()
	_, err := New(root, nil)
	require.NoError(t, err)

	for _, dir := range []string{"tasks", "executions"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestTaskRoundTrip(t *testing.T) {
	s := newTestStore(t)
	task := newTask("nightly batch")

	require.NoError(t, s.CreateTask(task))

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.Name, got.Name)
	assert.Equal(t, task.Type, got.Type)
	assert.Equal(t, task.Cron, got.Cron)
	assert.Equal(t, task.Config, got.Config)
	assert.Equal(t, task.Output, got.Output)
	assert.True(t, got.CreatedAt.Equal(task.CreatedAt))
	assert.True(t, got.IsEnabled(), "enabled defaults to true")
}

func TestCreateTaskConflict(t *testing.T) {
	s := newTestStore(t)
	task := newTask("dup")

	require.NoError(t, s.CreateTask(task))
	err := s.CreateTask(task)
	require.Error(t, err)
	assert.Equal(t, models.KindConflict, models.KindOf(err))
}

func TestUpdateTask(t *testing.T) {
	s := newTestStore(t)
	task := newTask("before")

	err := s.UpdateTask(task)
	require.Error(t, err, "update of a missing task fails")
	assert.Equal(t, models.KindNotFound, models.KindOf(err))

	require.NoError(t, s.CreateTask(task))
	task.Name = "after"
	task.Enabled = models.BoolPtr(false)
	require.NoError(t, s.UpdateTask(task))

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.False(t, got.IsEnabled())
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask(models.NewULID())
	require.Error(t, err)
	assert.Equal(t, models.KindNotFound, models.KindOf(err))
}

func TestDeleteTaskPreservesHistory(t *testing.T) {
	s := newTestStore(t)
	task := newTask("doomed")
	require.NoError(t, s.CreateTask(task))

	exec := models.NewExecution(task, "manual")
	require.NoError(t, s.SaveExecution(exec))

	require.NoError(t, s.DeleteTask(task.ID))
	_, err := s.GetTask(task.ID)
	assert.Equal(t, models.KindNotFound, models.KindOf(err))

	err = s.DeleteTask(task.ID)
	assert.Equal(t, models.KindNotFound, models.KindOf(err))

	history, err := s.ListExecutions(task.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1, "history survives task deletion")
}

func TestListTasksOrderedByCreation(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for _, name := range []string{"third", "first", "second"} {
		task := newTask(name)
		switch name {
		case "first":
			task.CreatedAt = base.Add(-2 * time.Hour)
		case "second":
			task.CreatedAt = base.Add(-1 * time.Hour)
		default:
			task.CreatedAt = base
		}
		require.NoError(t, s.CreateTask(task))
	}

	tasks, err := s.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "first", tasks[0].Name)
	assert.Equal(t, "second", tasks[1].Name)
	assert.Equal(t, "third", tasks[2].Name)
}

func TestListTasksSkipsStrayFiles(t *testing.T) {
	s := newTestStore(t)
	task := newTask("good")
	require.NoError(t, s.CreateTask(task))

	dir := filepath.Join(s.root, tasksDir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-a-ulid.json"), []byte("{}"), 0o644))
	corrupt := models.NewULID()
	require.NoError(t, os.WriteFile(filepath.Join(dir, corrupt.String()+".json"), []byte("{broken"), 0o644))

	tasks, err := s.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "good", tasks[0].Name)
}

func TestTaskJSONStable(t *testing.T) {
	task := newTask("stable")
	first, err := json.Marshal(task)
	require.NoError(t, err)

	var reloaded models.Task
	require.NoError(t, json.Unmarshal(first, &reloaded))
	second, err := json.Marshal(&reloaded)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestExecutionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	task := newTask("runner")
	require.NoError(t, s.CreateTask(task))

	exec := models.NewExecution(task, "cron")
	require.NoError(t, s.SaveExecution(exec))

	// Terminal update overwrites the running record.
	exec.Total, exec.Normal, exec.Abnormal, exec.Errors = 10, 7, 2, 1
	require.NoError(t, exec.MarkPartial())
	require.NoError(t, s.SaveExecution(exec))

	got, err := s.GetExecution(task.ID, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPartial, got.Status)
	assert.Equal(t, 10, got.Total)
	require.NotNil(t, got.FinishedAt)

	history, err := s.ListExecutions(task.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1, "updates do not duplicate records")
}

func TestGetExecutionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetExecution(models.NewULID(), models.NewULID())
	require.Error(t, err)
	assert.Equal(t, models.KindNotFound, models.KindOf(err))
}

func TestListExecutionsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	task := newTask("runner")
	require.NoError(t, s.CreateTask(task))

	var ids []models.ULID
	for i := 0; i < 4; i++ {
		exec := models.NewExecution(task, "cron")
		require.NoError(t, s.SaveExecution(exec))
		ids = append(ids, exec.ID)
		time.Sleep(2 * time.Millisecond)
	}

	history, err := s.ListExecutions(task.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, ids[3], history[0].ID)
	assert.Equal(t, ids[0], history[3].ID)

	limited, err := s.ListExecutions(task.ID, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, ids[3], limited[0].ID)
}

func TestListExecutionsEmptyHistory(t *testing.T) {
	s := newTestStore(t)
	history, err := s.ListExecutions(models.NewULID(), 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestExecutionHistoryCap(t *testing.T) {
	s := newTestStore(t)
	s.executionCap = 3
	task := newTask("busy")
	require.NoError(t, s.CreateTask(task))

	var ids []models.ULID
	for i := 0; i < 5; i++ {
		exec := models.NewExecution(task, "cron")
		require.NoError(t, s.SaveExecution(exec))
		ids = append(ids, exec.ID)
		time.Sleep(2 * time.Millisecond)
	}

	history, err := s.ListExecutions(task.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	// Oldest two were pruned.
	assert.Equal(t, ids[4], history[0].ID)
	assert.Equal(t, ids[2], history[2].ID)
}

func TestListAllExecutions(t *testing.T) {
	s := newTestStore(t)
	a := newTask("a")
	b := newTask("b")
	require.NoError(t, s.CreateTask(a))
	require.NoError(t, s.CreateTask(b))

	execA := models.NewExecution(a, "cron")
	require.NoError(t, s.SaveExecution(execA))
	time.Sleep(2 * time.Millisecond)
	execB := models.NewExecution(b, "manual")
	require.NoError(t, s.SaveExecution(execB))

	all, err := s.ListAllExecutions(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, execB.ID, all[0].ID, "newest first across tasks")
	assert.Equal(t, execA.ID, all[1].ID)

	limited, err := s.ListAllExecutions(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, execB.ID, limited[0].ID)
}

func TestSweepExecutions(t *testing.T) {
	s := newTestStore(t)
	task := newTask("aging")
	require.NoError(t, s.CreateTask(task))

	oldID := models.ULID(ulid.MustNew(ulid.Timestamp(time.Now().AddDate(0, 0, -30)), crand.Reader))
	old := &models.Execution{
		ID:        oldID,
		TaskID:    task.ID,
		TaskName:  task.Name,
		Status:    models.ExecutionSuccess,
		Trigger:   "cron",
		StartedAt: time.Now().AddDate(0, 0, -30),
	}
	require.NoError(t, s.SaveExecution(old))

	fresh := models.NewExecution(task, "cron")
	require.NoError(t, s.SaveExecution(fresh))

	removed, err := s.SweepExecutions(task.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	history, err := s.ListExecutions(task.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, fresh.ID, history[0].ID)
}

func TestSweepExecutionsDisabled(t *testing.T) {
	s := newTestStore(t)
	task := newTask("keeper")
	require.NoError(t, s.CreateTask(task))
	require.NoError(t, s.SaveExecution(models.NewExecution(task, "cron")))

	removed, err := s.SweepExecutions(task.ID, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)

	history, err := s.ListExecutions(task.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
