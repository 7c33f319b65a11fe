// Package store persists task definitions and execution history as
// JSON records under one root directory. Every write lands in a
// pending file and is renamed into place, so a crash never leaves a
// half-written record behind.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/visus-project/visus/internal/models"
)

const (
	tasksDir      = "tasks"
	executionsDir = "executions"

	// ExecutionCap bounds the retained history per task; the oldest
	// records are pruned past it.
	ExecutionCap = 1000
)

// Store is a file-backed task and execution store. Mutations serialize
// behind a writer lock; reads share a read lock and work on whatever
// records are on disk.
type Store struct {
	root   string
	logger *slog.Logger

	// executionCap is ExecutionCap unless a test shrinks it.
	executionCap int

	mu sync.RWMutex
}

// New opens (creating if needed) a store rooted at dir.
func New(root string, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, models.NewError(models.KindConfig, "store root is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{
		filepath.Join(root, tasksDir),
		filepath.Join(root, executionsDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, models.WrapError(models.KindInternal, "create store directory", err)
		}
	}
	return &Store{root: root, logger: logger, executionCap: ExecutionCap}, nil
}

func (s *Store) taskPath(id models.ULID) string {
	return filepath.Join(s.root, tasksDir, id.String()+".json")
}

func (s *Store) executionDir(taskID models.ULID) string {
	return filepath.Join(s.root, executionsDir, taskID.String())
}

// CreateTask persists a new definition. The id must be unused.
func (s *Store) CreateTask(task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.taskPath(task.ID)); err == nil {
		return models.Errorf(models.KindConflict, "task %s already exists", task.ID)
	}
	return s.writeTaskLocked(task)
}

// UpdateTask overwrites an existing definition.
func (s *Store) UpdateTask(task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.taskPath(task.ID)); err != nil {
		return models.Errorf(models.KindNotFound, "task %s not found", task.ID)
	}
	return s.writeTaskLocked(task)
}

func (s *Store) writeTaskLocked(task *models.Task) error {
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return models.WrapError(models.KindInternal, "encode task", err)
	}
	if err := renameio.WriteFile(s.taskPath(task.ID), data, 0o644); err != nil {
		return models.WrapError(models.KindInternal, "write task record", err)
	}
	return nil
}

// GetTask loads one definition.
func (s *Store) GetTask(id models.ULID) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readTask(id)
}

func (s *Store) readTask(id models.ULID) (*models.Task, error) {
	data, err := os.ReadFile(s.taskPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.Errorf(models.KindNotFound, "task %s not found", id)
	}
	if err != nil {
		return nil, models.WrapError(models.KindInternal, "read task record", err)
	}
	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, models.WrapError(models.KindInternal, fmt.Sprintf("decode task record %s", id), err)
	}
	return &task, nil
}

// ListTasks returns every definition ordered by creation time. Records
// that fail to decode are skipped with a warning rather than failing
// the whole listing.
func (s *Store) ListTasks() ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.root, tasksDir))
	if err != nil {
		return nil, models.WrapError(models.KindInternal, "list task records", err)
	}
	tasks := make([]*models.Task, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id, err := models.ParseULID(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			s.logger.Warn("stray file in task store",
				slog.String("file", e.Name()))
			continue
		}
		task, err := s.readTask(id)
		if err != nil {
			s.logger.Warn("unreadable task record skipped",
				slog.String("file", e.Name()),
				slog.Any("error", err))
			continue
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID.String() < tasks[j].ID.String()
	})
	return tasks, nil
}

// DeleteTask removes the definition. Execution history is preserved.
func (s *Store) DeleteTask(id models.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.taskPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return models.Errorf(models.KindNotFound, "task %s not found", id)
	}
	if err != nil {
		return models.WrapError(models.KindInternal, "delete task record", err)
	}
	return nil
}
