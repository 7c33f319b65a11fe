package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/visus-project/visus/internal/models"
)

// DefaultMaxSamples caps sample_image selections when the task does not
// set its own bound.
const DefaultMaxSamples = 100

// DefaultSampleRate is the sampled fraction when the task omits one.
const DefaultSampleRate = 0.1

// Extensions enumerated when a task pattern is empty.
var (
	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
		".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
	}
	videoExtensions = map[string]bool{
		".mp4": true, ".avi": true, ".mkv": true, ".mov": true,
		".flv": true, ".ts": true, ".m4v": true, ".webm": true,
	}
)

// TaskRunner executes scheduled and manual task runs against the
// diagnosis services. It implements scheduler.JobRunner.
type TaskRunner struct {
	diagnosis *DiagnosisService
	video     *VideoService
	logger    *slog.Logger

	// seed feeds the sample_image selection RNG; tests pin it.
	seed func() int64
}

// NewTaskRunner wires the image and video services.
func NewTaskRunner(diagnosis *DiagnosisService, video *VideoService) *TaskRunner {
	return &TaskRunner{
		diagnosis: diagnosis,
		video:     video,
		logger:    slog.Default(),
		seed:      func() int64 { return time.Now().UnixNano() },
	}
}

// WithLogger sets a custom logger.
func (r *TaskRunner) WithLogger(logger *slog.Logger) *TaskRunner {
	r.logger = logger
	return r
}

// Run executes one admitted task run: enumerate inputs, diagnose each,
// fill the execution counters, and render the report. A returned error
// means setup failed and nothing was processed.
func (r *TaskRunner) Run(ctx context.Context, task *models.Task, exec *models.Execution) error {
	files, err := enumerateInputs(task.Config, task.Type)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return models.Errorf(models.KindEmptySource,
			"no inputs matched under %s", task.Config.InputPath)
	}

	if task.Type == models.TaskSampleImage {
		files = r.sampleFiles(files, task.Config.SampleRate, task.Config.MaxSamples)
	}

	report := &TaskReport{
		TaskID:      task.ID.String(),
		TaskName:    task.Name,
		TaskType:    task.Type,
		ExecutionID: exec.ID.String(),
		Trigger:     exec.Trigger,
		GeneratedAt: time.Now().UTC(),
	}

	switch task.Type {
	case models.TaskVideo:
		err = r.runVideo(ctx, task, exec, files, report)
	default:
		err = r.runImages(ctx, task, exec, files, report)
	}
	if err != nil {
		return err
	}

	r.writeReport(task, exec, report)
	return nil
}

func taskOptions(cfg models.TaskConfig) DiagnoseOptions {
	return DiagnoseOptions{
		Profile:          cfg.Profile,
		Level:            cfg.Level,
		Detectors:        cfg.Detectors,
		CustomThresholds: cfg.CustomThresholds,
	}
}

func (r *TaskRunner) runImages(ctx context.Context, task *models.Task, exec *models.Execution, files []string, report *TaskReport) error {
	result, err := r.diagnosis.DiagnoseBatch(ctx, BatchRequest{
		Inputs:  files,
		Options: taskOptions(task.Config),
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	exec.Total = result.Summary.Total
	exec.Normal = result.Summary.Normal
	exec.Abnormal = result.Summary.Abnormal
	exec.Errors = result.Summary.Errors

	report.Summary = result.Summary
	report.Images = result.Items
	return nil
}

func (r *TaskRunner) runVideo(ctx context.Context, task *models.Task, exec *models.Execution, files []string, report *TaskReport) error {
	items := make([]VideoItem, 0, len(files))
	started := time.Now()

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := VideoItem{Input: f}
		verdict, err := r.video.Diagnose(ctx, VideoRequest{
			Source:         f,
			Options:        taskOptions(task.Config),
			Strategy:       task.Config.SampleStrategy,
			SampleInterval: task.Config.SampleInterval,
			MaxFrames:      task.Config.MaxFrames,
		})
		exec.Total++
		switch {
		case err != nil:
			exec.Errors++
			item.Error = err.Error()
			r.logger.Warn("video task item failed",
				slog.String("task_id", task.ID.String()),
				slog.String("input", f),
				slog.Any("error", err))
		case verdict.IsAbnormal:
			exec.Abnormal++
			item.Verdict = verdict
		default:
			exec.Normal++
			item.Verdict = verdict
		}
		items = append(items, item)
	}

	report.Videos = items
	report.Summary = summarizeVideos(items)
	report.Summary.ElapsedMS = float64(time.Since(started).Microseconds()) / 1000
	return nil
}

func summarizeVideos(items []VideoItem) BatchSummary {
	sum := BatchSummary{Total: len(items)}
	for _, item := range items {
		switch {
		case item.Error != "":
			sum.Errors++
		case item.Verdict.IsAbnormal:
			sum.Abnormal++
			for _, issue := range item.Verdict.Issues {
				if sum.ByIssue == nil {
					sum.ByIssue = make(map[string]int)
				}
				sum.ByIssue[issue.IssueType]++
			}
		default:
			sum.Normal++
		}
	}
	return sum
}

// writeReport renders the report when the task asked for output. A
// failed write is logged but never fails an otherwise finished run.
func (r *TaskRunner) writeReport(task *models.Task, exec *models.Execution, report *TaskReport) {
	if task.Output.Dir == "" {
		return
	}

	formats := task.Output.Formats
	if len(formats) == 0 {
		formats = []string{"json"}
	}
	wantJSON := false
	for _, f := range formats {
		if strings.EqualFold(f, "json") {
			wantJSON = true
		} else {
			r.logger.Debug("unsupported report format skipped",
				slog.String("task_id", task.ID.String()),
				slog.String("format", f))
		}
	}
	if !wantJSON {
		return
	}

	path, err := WriteReport(task.Output.Dir, report, task.Output.Compress)
	if err != nil {
		r.logger.Warn("writing task report",
			slog.String("task_id", task.ID.String()),
			slog.Any("error", err))
		return
	}
	exec.ReportPath = path

	if removed, err := SweepReports(task.Output.Dir, task.Output.KeepDays); err != nil {
		r.logger.Warn("sweeping old reports",
			slog.String("task_id", task.ID.String()),
			slog.Any("error", err))
	} else if removed > 0 {
		r.logger.Debug("swept old reports",
			slog.String("task_id", task.ID.String()),
			slog.Int("removed", removed))
	}
}

// sampleFiles picks a random fraction of files, at most maxSamples,
// preserving enumeration order among the selected.
func (r *TaskRunner) sampleFiles(files []string, rate float64, maxSamples int) []string {
	if rate <= 0 || rate > 1 {
		rate = DefaultSampleRate
	}
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}

	count := int(float64(len(files))*rate + 0.5)
	if count < 1 {
		count = 1
	}
	if count > maxSamples {
		count = maxSamples
	}
	if count >= len(files) {
		return files
	}

	rng := rand.New(rand.NewSource(r.seed()))
	picked := rng.Perm(len(files))[:count]
	sort.Ints(picked)

	out := make([]string, 0, count)
	for _, idx := range picked {
		out = append(out, files[idx])
	}
	return out
}

// enumerateInputs lists the files a task run will process, sorted for
// deterministic order. A single-file input path is accepted as is.
func enumerateInputs(cfg models.TaskConfig, taskType models.TaskType) ([]string, error) {
	info, err := os.Stat(cfg.InputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.WrapError(models.KindInput,
				"input path "+cfg.InputPath, err)
		}
		return nil, models.WrapError(models.KindInput,
			"reading input path "+cfg.InputPath, err)
	}
	if !info.IsDir() {
		return []string{cfg.InputPath}, nil
	}

	match := matcherFor(cfg.Pattern, taskType)

	var files []string
	if cfg.Recursive {
		err = filepath.WalkDir(cfg.InputPath, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && match(d.Name()) {
				files = append(files, path)
			}
			return nil
		})
	} else {
		var entries []os.DirEntry
		entries, err = os.ReadDir(cfg.InputPath)
		for _, e := range entries {
			if !e.IsDir() && match(e.Name()) {
				files = append(files, filepath.Join(cfg.InputPath, e.Name()))
			}
		}
	}
	if err != nil {
		return nil, models.WrapError(models.KindInput,
			"enumerating "+cfg.InputPath, err)
	}

	sort.Strings(files)
	return files, nil
}

// matcherFor builds the filename filter: a glob when the task sets a
// pattern, otherwise the default extension set for the task type.
func matcherFor(pattern string, taskType models.TaskType) func(string) bool {
	if pattern != "" {
		return func(name string) bool {
			ok, err := filepath.Match(pattern, name)
			return err == nil && ok
		}
	}
	exts := imageExtensions
	if taskType == models.TaskVideo {
		exts = videoExtensions
	}
	return func(name string) bool {
		return exts[strings.ToLower(filepath.Ext(name))]
	}
}
