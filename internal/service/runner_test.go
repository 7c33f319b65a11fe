package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/ffmpeg"
	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/profile"
)

func newTaskRunner() *TaskRunner {
	profiles := profile.NewStore(quietLogger())
	diag := NewDiagnosisService(detect.Default(), profiles).WithLogger(quietLogger())
	vid := NewVideoService(ffmpeg.NewOpener(ffmpeg.NewBinaryDetector()), detect.Default(), profiles).
		WithLogger(quietLogger())
	return NewTaskRunner(diag, vid).WithLogger(quietLogger())
}

// writePNGs fills dir with n small images named img_00.png onward.
func writePNGs(t *testing.T, dir string, n int) {
	t.Helper()
	data := pngBytes(t, 16, 16)
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, "img_"+string(rune('a'+i))+".png")
		require.NoError(t, os.WriteFile(name, data, 0o644))
	}
}

func batchTask(t *testing.T, inputDir string) *models.Task {
	t.Helper()
	return &models.Task{
		ID:   models.NewULID(),
		Name: "scan",
		Type: models.TaskBatchImage,
		Cron: "*/5 * * * *",
		Config: models.TaskConfig{
			InputPath: inputDir,
		},
	}
}

func TestTaskRunnerBatchImages(t *testing.T) {
	r := newTaskRunner()
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	writePNGs(t, inputDir, 3)
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "notes.txt"), []byte("skip me"), 0o644))

	task := batchTask(t, inputDir)
	task.Output.Dir = outputDir
	exec := models.NewExecution(task, models.TriggerManual)

	require.NoError(t, r.Run(context.Background(), task, exec))

	assert.Equal(t, 3, exec.Total)
	assert.Equal(t, 3, exec.Normal+exec.Abnormal)
	assert.Zero(t, exec.Errors)

	require.NotEmpty(t, exec.ReportPath)
	assert.True(t, strings.HasPrefix(filepath.Base(exec.ReportPath),
		"batch_image_"+task.ID.String()+"_"))

	data, err := ReadReport(exec.ReportPath)
	require.NoError(t, err)
	var report TaskReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, task.ID.String(), report.TaskID)
	assert.Equal(t, exec.ID.String(), report.ExecutionID)
	assert.Len(t, report.Images, 3)
}

func TestTaskRunnerEmptyInput(t *testing.T) {
	r := newTaskRunner()
	task := batchTask(t, t.TempDir())
	exec := models.NewExecution(task, models.TriggerCron)

	err := r.Run(context.Background(), task, exec)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindEmptySource))
}

func TestTaskRunnerMissingInputPath(t *testing.T) {
	r := newTaskRunner()
	task := batchTask(t, filepath.Join(t.TempDir(), "gone"))
	exec := models.NewExecution(task, models.TriggerCron)

	err := r.Run(context.Background(), task, exec)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInput))
}

func TestTaskRunnerSingleFileInput(t *testing.T) {
	r := newTaskRunner()
	path := filepath.Join(t.TempDir(), "one.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t, 8, 8), 0o644))

	task := batchTask(t, path)
	exec := models.NewExecution(task, models.TriggerManual)

	require.NoError(t, r.Run(context.Background(), task, exec))
	assert.Equal(t, 1, exec.Total)
}

func TestTaskRunnerPatternFilter(t *testing.T) {
	r := newTaskRunner()
	dir := t.TempDir()
	data := pngBytes(t, 8, 8)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cam1_a.png"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cam1_b.png"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cam2_a.png"), data, 0o644))

	task := batchTask(t, dir)
	task.Config.Pattern = "cam1_*.png"
	exec := models.NewExecution(task, models.TriggerCron)

	require.NoError(t, r.Run(context.Background(), task, exec))
	assert.Equal(t, 2, exec.Total)
}

func TestTaskRunnerRecursive(t *testing.T) {
	r := newTaskRunner()
	dir := t.TempDir()
	nested := filepath.Join(dir, "day1")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	data := pngBytes(t, 8, 8)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "top.png"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "deep.png"), data, 0o644))

	flat := batchTask(t, dir)
	exec := models.NewExecution(flat, models.TriggerCron)
	require.NoError(t, r.Run(context.Background(), flat, exec))
	assert.Equal(t, 1, exec.Total)

	deep := batchTask(t, dir)
	deep.Config.Recursive = true
	exec = models.NewExecution(deep, models.TriggerCron)
	require.NoError(t, r.Run(context.Background(), deep, exec))
	assert.Equal(t, 2, exec.Total)
}

func TestTaskRunnerSampleImage(t *testing.T) {
	r := newTaskRunner()
	r.seed = func() int64 { return 42 }

	dir := t.TempDir()
	writePNGs(t, dir, 10)

	task := batchTask(t, dir)
	task.Type = models.TaskSampleImage
	task.Config.SampleRate = 0.5
	exec := models.NewExecution(task, models.TriggerCron)

	require.NoError(t, r.Run(context.Background(), task, exec))
	assert.Equal(t, 5, exec.Total)
}

func TestTaskRunnerSampleImageMaxSamplesCap(t *testing.T) {
	r := newTaskRunner()
	r.seed = func() int64 { return 7 }

	dir := t.TempDir()
	writePNGs(t, dir, 8)

	task := batchTask(t, dir)
	task.Type = models.TaskSampleImage
	task.Config.SampleRate = 1.0
	task.Config.MaxSamples = 3
	exec := models.NewExecution(task, models.TriggerCron)

	require.NoError(t, r.Run(context.Background(), task, exec))
	assert.Equal(t, 3, exec.Total)
}

func TestTaskRunnerCompressedReport(t *testing.T) {
	r := newTaskRunner()
	inputDir := t.TempDir()
	writePNGs(t, inputDir, 1)

	task := batchTask(t, inputDir)
	task.Output.Dir = t.TempDir()
	task.Output.Compress = true
	exec := models.NewExecution(task, models.TriggerManual)

	require.NoError(t, r.Run(context.Background(), task, exec))
	require.NotEmpty(t, exec.ReportPath)
	assert.Equal(t, ".xz", filepath.Ext(exec.ReportPath))

	data, err := ReadReport(exec.ReportPath)
	require.NoError(t, err)
	var report TaskReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Len(t, report.Images, 1)
}

func TestTaskRunnerSweepsOldReports(t *testing.T) {
	r := newTaskRunner()
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	writePNGs(t, inputDir, 1)

	task := batchTask(t, inputDir)
	task.Output.Dir = outputDir
	task.Output.KeepDays = 7

	stale := filepath.Join(outputDir, "batch_image_"+task.ID.String()+"_"+
		time.Now().UTC().AddDate(0, 0, -30).Format(reportTimeLayout)+".json")
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0o644))

	exec := models.NewExecution(task, models.TriggerCron)
	require.NoError(t, r.Run(context.Background(), task, exec))

	assert.NoFileExists(t, stale)
	assert.FileExists(t, exec.ReportPath)
}

func TestTaskRunnerNoReportWithoutOutputDir(t *testing.T) {
	r := newTaskRunner()
	inputDir := t.TempDir()
	writePNGs(t, inputDir, 1)

	task := batchTask(t, inputDir)
	exec := models.NewExecution(task, models.TriggerCron)

	require.NoError(t, r.Run(context.Background(), task, exec))
	assert.Empty(t, exec.ReportPath)
}

func TestTaskRunnerVideoItemsAbsorbDecoderErrors(t *testing.T) {
	r := newTaskRunner()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("not a video"), 0o644))

	task := batchTask(t, dir)
	task.Type = models.TaskVideo
	task.Output.Dir = t.TempDir()
	exec := models.NewExecution(task, models.TriggerCron)

	// Item failures are absorbed into counters, not surfaced.
	require.NoError(t, r.Run(context.Background(), task, exec))
	assert.Equal(t, 1, exec.Total)
	assert.Equal(t, 1, exec.Errors)

	data, err := ReadReport(exec.ReportPath)
	require.NoError(t, err)
	var report TaskReport
	require.NoError(t, json.Unmarshal(data, &report))
	require.Len(t, report.Videos, 1)
	assert.NotEmpty(t, report.Videos[0].Error)
}

func TestSampleFilesSelection(t *testing.T) {
	r := newTaskRunner()
	r.seed = func() int64 { return 1 }

	files := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}

	picked := r.sampleFiles(files, 0.3, 0)
	assert.Len(t, picked, 3)

	// Selection preserves enumeration order.
	last := -1
	for _, p := range picked {
		idx := strings.Index("abcdefghij", p)
		assert.Greater(t, idx, last)
		last = idx
	}

	// Rate 1.0 returns everything when under the cap.
	assert.Len(t, r.sampleFiles(files, 1.0, 0), 10)

	// Tiny rates still pick one file.
	assert.Len(t, r.sampleFiles(files, 0.01, 0), 1)
}
