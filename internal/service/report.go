package service

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/ulikunitz/xz"

	"github.com/visus-project/visus/internal/models"
)

// reportTimeLayout stamps report filenames; UTC, sortable.
const reportTimeLayout = "20060102T150405Z"

// VideoItem is the outcome for one video input in a task report.
type VideoItem struct {
	Input   string               `json:"input"`
	Verdict *models.VideoVerdict `json:"verdict,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// TaskReport is the document written to the task output directory after
// each run.
type TaskReport struct {
	TaskID      string          `json:"task_id"`
	TaskName    string          `json:"task_name"`
	TaskType    models.TaskType `json:"task_type"`
	ExecutionID string          `json:"execution_id"`
	Trigger     string          `json:"trigger"`
	GeneratedAt time.Time       `json:"generated_at"`

	Summary BatchSummary `json:"summary"`

	Images []BatchItem `json:"images,omitempty"`
	Videos []VideoItem `json:"videos,omitempty"`
}

// WriteJSONFile marshals v and writes it atomically.
func WriteJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return renameio.WriteFile(path, data, 0o644)
}

// WriteReport renders a task report under dir with the canonical
// name {type}_{task_id}_{timestamp}.json, xz-compressed when compress
// is set. It returns the written path.
func WriteReport(dir string, report *TaskReport, compress bool) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", models.WrapError(models.KindInternal, "encoding report", err)
	}

	name := fmt.Sprintf("%s_%s_%s.json",
		report.TaskType, report.TaskID, report.GeneratedAt.UTC().Format(reportTimeLayout))
	if compress {
		var buf bytes.Buffer
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return "", models.WrapError(models.KindInternal, "compressing report", err)
		}
		if _, err := w.Write(data); err != nil {
			return "", models.WrapError(models.KindInternal, "compressing report", err)
		}
		if err := w.Close(); err != nil {
			return "", models.WrapError(models.KindInternal, "compressing report", err)
		}
		data = buf.Bytes()
		name += ".xz"
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", models.WrapError(models.KindInput, "creating report dir "+dir, err)
	}
	path := filepath.Join(dir, name)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", models.WrapError(models.KindInternal, "writing report "+path, err)
	}
	return path, nil
}

// Container magic bytes recognized by ReadReport.
var (
	magicXZ    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicBzip2 = []byte{'B', 'Z', 'h'}
	magicGzip  = []byte{0x1f, 0x8b}
)

// ReadReport loads a report file and returns the decoded JSON bytes.
// Retention tooling sometimes recompresses old reports, so the
// container is sniffed from magic bytes instead of the extension; xz,
// bzip2, and gzip are recognized.
func ReadReport(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.WrapError(models.KindNotFound, "report "+path, err)
		}
		return nil, models.WrapError(models.KindInternal, "reading report "+path, err)
	}

	var r io.Reader
	switch {
	case bytes.HasPrefix(raw, magicXZ):
		r, err = xz.NewReader(bytes.NewReader(raw))
	case bytes.HasPrefix(raw, magicBzip2):
		r = bzip2.NewReader(bytes.NewReader(raw))
	case bytes.HasPrefix(raw, magicGzip):
		r, err = gzip.NewReader(bytes.NewReader(raw))
	default:
		return raw, nil
	}
	if err != nil {
		return nil, models.WrapError(models.KindInput, "decompressing report "+path, err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, models.WrapError(models.KindInput, "decompressing report "+path, err)
	}
	return data, nil
}

// SweepReports removes report files in dir whose embedded timestamp is
// older than keepDays. Files without a parsable timestamp are left
// alone. keepDays <= 0 disables sweeping.
func SweepReports(dir string, keepDays int) (int, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -keepDays)

	removed := 0
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		ts, ok := reportTimestamp(name)
		if !ok || !ts.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// reportTimestamp extracts the generation time from a canonical report
// filename.
func reportTimestamp(name string) (time.Time, bool) {
	base := strings.TrimSuffix(name, ".xz")
	base = strings.TrimSuffix(base, ".json")
	idx := strings.LastIndexByte(base, '_')
	if idx < 0 {
		return time.Time{}, false
	}
	ts, err := time.Parse(reportTimeLayout, base[idx+1:])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
