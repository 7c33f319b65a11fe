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
	"time"

	"github.com/google/renameio/v2"

	"github.com/visus-project/visus/internal/models"
)

// SaveExecution writes one history record, overwriting any previous
// version of the same execution, then prunes the task's history past
// the cap. Callers save the running record at dispatch and save again
// with the terminal state.
func (s *Store) SaveExecution(exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.executionDir(exec.TaskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.WrapError(models.KindInternal, "create execution directory", err)
	}
	data, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		return models.WrapError(models.KindInternal, "encode execution", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, exec.ID.String()+".json"), data, 0o644); err != nil {
		return models.WrapError(models.KindInternal, "write execution record", err)
	}
	return s.pruneLocked(dir)
}

// pruneLocked drops the oldest records past the cap. ULID file names
// sort chronologically, so a plain string sort orders history.
func (s *Store) pruneLocked(dir string) error {
	names, err := executionNames(dir)
	if err != nil {
		return err
	}
	if len(names) <= s.executionCap {
		return nil
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-s.executionCap] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return models.WrapError(models.KindInternal, "prune execution record", err)
		}
	}
	return nil
}

// GetExecution loads one history record.
func (s *Store) GetExecution(taskID, execID models.ULID) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.executionDir(taskID), execID.String()+".json")
	exec, err := s.readExecution(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.Errorf(models.KindNotFound, "execution %s not found", execID)
	}
	if err != nil {
		return nil, models.WrapError(models.KindInternal, "read execution record", err)
	}
	return exec, nil
}

// ListExecutions returns up to limit of the newest records for one
// task, newest first. A missing history directory is an empty history.
func (s *Store) ListExecutions(taskID models.ULID, limit int) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := s.executionDir(taskID)
	names, err := executionNames(dir)
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return s.readExecutions(dir, names), nil
}

// ListAllExecutions returns up to limit of the newest records across
// every task, newest first.
func (s *Store) ListAllExecutions(limit int) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := filepath.Join(s.root, executionsDir)
	taskDirs, err := os.ReadDir(root)
	if err != nil {
		return nil, models.WrapError(models.KindInternal, "list execution directories", err)
	}

	type ref struct{ dir, name string }
	var refs []ref
	for _, td := range taskDirs {
		if !td.IsDir() {
			continue
		}
		dir := filepath.Join(root, td.Name())
		names, err := executionNames(dir)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			refs = append(refs, ref{dir: dir, name: name})
		}
	}

	// Execution ids are ULIDs, so name order is creation order across
	// tasks too.
	sort.Slice(refs, func(i, j int) bool { return refs[i].name > refs[j].name })
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}

	out := make([]*models.Execution, 0, len(refs))
	for _, r := range refs {
		exec, err := s.readExecution(filepath.Join(r.dir, r.name))
		if err != nil {
			s.logger.Warn("unreadable execution record skipped",
				slog.String("file", r.name),
				slog.Any("error", err))
			continue
		}
		out = append(out, exec)
	}
	return out, nil
}

// SweepExecutions removes records for taskID older than keepDays,
// returning how many were dropped. keepDays <= 0 keeps everything.
func (s *Store) SweepExecutions(taskID models.ULID, keepDays int) (int, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.executionDir(taskID)
	names, err := executionNames(dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().AddDate(0, 0, -keepDays)
	removed := 0
	for _, name := range names {
		id, err := models.ParseULID(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if id.Timestamp().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, models.WrapError(models.KindInternal, "sweep execution record", err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) readExecutions(dir string, names []string) []*models.Execution {
	out := make([]*models.Execution, 0, len(names))
	for _, name := range names {
		exec, err := s.readExecution(filepath.Join(dir, name))
		if err != nil {
			s.logger.Warn("unreadable execution record skipped",
				slog.String("file", name),
				slog.Any("error", err))
			continue
		}
		out = append(out, exec)
	}
	return out
}

func (s *Store) readExecution(path string) (*models.Execution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var exec models.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("decode execution record: %w", err)
	}
	return &exec, nil
}

// executionNames lists the .json records in dir; a missing directory is
// an empty history.
func executionNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, models.WrapError(models.KindInternal, "list execution records", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
