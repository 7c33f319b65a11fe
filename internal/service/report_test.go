package service

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visus-project/visus/internal/models"
)

func sampleReport() *TaskReport {
	return &TaskReport{
		TaskID:      models.NewULID().String(),
		TaskName:    "nightly",
		TaskType:    models.TaskBatchImage,
		ExecutionID: models.NewULID().String(),
		Trigger:     models.TriggerCron,
		GeneratedAt: time.Date(2026, 1, 10, 12, 5, 0, 0, time.UTC),
		Summary:     BatchSummary{Total: 2, Normal: 1, Abnormal: 1},
	}
}

func TestWriteReportPlain(t *testing.T) {
	dir := t.TempDir()
	report := sampleReport()

	path, err := WriteReport(dir, report, false)
	require.NoError(t, err)
	assert.Equal(t,
		"batch_image_"+report.TaskID+"_20260110T120500Z.json",
		filepath.Base(path))

	data, err := ReadReport(path)
	require.NoError(t, err)

	var got TaskReport
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, report.TaskID, got.TaskID)
	assert.Equal(t, 2, got.Summary.Total)
}

func TestWriteReportCompressed(t *testing.T) {
	dir := t.TempDir()
	report := sampleReport()

	path, err := WriteReport(dir, report, true)
	require.NoError(t, err)
	assert.Equal(t, ".xz", filepath.Ext(path))

	// The file on disk is not plain JSON.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, magicXZ))

	data, err := ReadReport(path)
	require.NoError(t, err)
	var got TaskReport
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, report.ExecutionID, got.ExecutionID)
}

func TestReadReportSniffsBzip2(t *testing.T) {
	payload := []byte(`{"task_name":"archived"}`)
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, nil)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Deliberately misleading extension: content wins.
	path := filepath.Join(t.TempDir(), "old_report.json")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	data, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestReadReportSniffsGzip(t *testing.T) {
	payload := []byte(`{"task_name":"archived"}`)
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "report.json.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	data, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestReadReportMissing(t *testing.T) {
	_, err := ReadReport(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestSweepReports(t *testing.T) {
	dir := t.TempDir()
	id := models.NewULID().String()

	oldName := "batch_image_" + id + "_" +
		time.Now().UTC().AddDate(0, 0, -14).Format(reportTimeLayout) + ".json"
	freshName := "batch_image_" + id + "_" +
		time.Now().UTC().Format(reportTimeLayout) + ".json.xz"
	foreign := "notes.txt"

	for _, name := range []string{oldName, freshName, foreign} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	removed, err := SweepReports(dir, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, filepath.Join(dir, oldName))
	assert.FileExists(t, filepath.Join(dir, freshName))
	assert.FileExists(t, filepath.Join(dir, foreign))
}

func TestSweepReportsDisabled(t *testing.T) {
	dir := t.TempDir()
	name := "video_x_" +
		time.Now().UTC().AddDate(0, 0, -100).Format(reportTimeLayout) + ".json"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))

	removed, err := SweepReports(dir, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.FileExists(t, filepath.Join(dir, name))
}

func TestReportTimestampParsing(t *testing.T) {
	ts, ok := reportTimestamp("video_01ABC_20260110T120500Z.json.xz")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 10, 12, 5, 0, 0, time.UTC), ts)

	_, ok = reportTimestamp("random-file.json")
	assert.False(t, ok)
}
