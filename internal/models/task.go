package models

import (
	"fmt"
	"time"
)

// TaskType selects the job executed on each run.
type TaskType string

const (
	// TaskBatchImage enumerates input_path by pattern and runs the image
	// pipeline on every file.
	TaskBatchImage TaskType = "batch_image"

	// TaskSampleImage is batch_image over a random sample_rate fraction.
	TaskSampleImage TaskType = "sample_image"

	// TaskVideo runs the video pipeline per enumerated file.
	TaskVideo TaskType = "video"
)

// ParseTaskType validates a task type string.
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(s) {
	case TaskBatchImage, TaskSampleImage, TaskVideo:
		return TaskType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskType, s)
	}
}

// ExecutionStatus is the terminal state machine for one run.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionPartial ExecutionStatus = "partial"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Terminal reports whether the execution reached a final state.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionPartial || s == ExecutionFailed
}

// TaskConfig is the per-task diagnosis configuration.
type TaskConfig struct {
	InputPath string `json:"input_path"`

	// Pattern is a glob matched against file names; empty means all
	// supported extensions.
	Pattern   string `json:"pattern,omitempty"`
	Recursive bool   `json:"recursive"`

	Profile string         `json:"profile,omitempty"`
	Level   DetectionLevel `json:"level,omitempty"`

	// Detectors optionally restricts the detector set.
	Detectors []string `json:"detectors,omitempty"`

	// CustomThresholds merge over the profile vector.
	CustomThresholds map[string]float64 `json:"custom_thresholds,omitempty"`

	// SampleRate and MaxSamples apply to sample_image tasks.
	SampleRate float64 `json:"sample_rate,omitempty"`
	MaxSamples int     `json:"max_samples,omitempty"`

	// Video task tuning.
	SampleStrategy string  `json:"sample_strategy,omitempty"`
	SampleInterval float64 `json:"sample_interval,omitempty"`
	MaxFrames      int     `json:"max_frames,omitempty"`
}

// TaskOutput controls report generation and retention.
type TaskOutput struct {
	Dir string `json:"path,omitempty"`

	// Formats lists requested report formats; only "json" is rendered,
	// other names are recorded and skipped.
	Formats []string `json:"formats,omitempty"`

	// KeepDays prunes reports older than this many days; 0 keeps forever.
	KeepDays int `json:"keep_days,omitempty"`

	// Compress writes reports xz-compressed.
	Compress bool `json:"compress,omitempty"`
}

// Task is a persistent cron-driven job definition.
type Task struct {
	ID          ULID     `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Type        TaskType `json:"type"`

	// Cron is a 5-field expression (minute hour dom month dow).
	Cron string `json:"cron"`

	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`

	Config TaskConfig `json:"config"`
	Output TaskOutput `json:"output"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (t *Task) IsEnabled() bool {
	return BoolVal(t.Enabled)
}

// Validate checks the definition before persisting. Cron syntax is
// validated by the scheduler, which owns the parser.
func (t *Task) Validate() error {
	if t.Name == "" {
		return ErrNameRequired
	}
	if t.Cron == "" {
		return ErrCronRequired
	}
	if _, err := ParseTaskType(string(t.Type)); err != nil {
		return err
	}
	if t.Config.InputPath == "" {
		return ErrInputPathRequired
	}
	if t.Config.Level != "" {
		if _, err := ParseLevel(string(t.Config.Level)); err != nil {
			return err
		}
	}
	if t.Type == TaskSampleImage {
		// 0 is accepted and means "use the default rate".
		if t.Config.SampleRate < 0 || t.Config.SampleRate > 1 {
			return ErrValidation{Field: "sample_rate", Message: "must be in [0, 1]; 0 applies the default"}
		}
	}
	if t.Config.SampleInterval < 0 {
		return ErrValidation{Field: "sample_interval", Message: "must be non-negative"}
	}
	if t.Output.KeepDays < 0 {
		return ErrValidation{Field: "keep_days", Message: "must be non-negative"}
	}
	return nil
}

// Execution trigger sources.
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// Execution is the append-only record of one task run.
type Execution struct {
	ID       ULID   `json:"id"`
	TaskID   ULID   `json:"task_id"`
	TaskName string `json:"task_name"`

	Status ExecutionStatus `json:"status"`

	// Trigger is "cron" for scheduled runs, "manual" for API/CLI runs.
	Trigger string `json:"trigger"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Item counters. Total = Normal + Abnormal + Errors once terminal.
	Total    int `json:"total"`
	Normal   int `json:"normal"`
	Abnormal int `json:"abnormal"`
	Errors   int `json:"errors"`

	ReportPath string `json:"report_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewExecution creates a running execution for the given task.
func NewExecution(task *Task, trigger string) *Execution {
	return &Execution{
		ID:        NewULID(),
		TaskID:    task.ID,
		TaskName:  task.Name,
		Status:    ExecutionRunning,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
}

// finish transitions to a terminal state exactly once.
func (e *Execution) finish(status ExecutionStatus) error {
	if e.Status.Terminal() {
		return ErrExecutionFinished
	}
	now := time.Now().UTC()
	e.Status = status
	e.FinishedAt = &now
	return nil
}

// MarkSuccess finishes the execution with every item processed cleanly.
func (e *Execution) MarkSuccess() error {
	return e.finish(ExecutionSuccess)
}

// MarkPartial finishes the execution with some items failed.
func (e *Execution) MarkPartial() error {
	return e.finish(ExecutionPartial)
}

// MarkFailed finishes the execution after a setup error; nothing was
// processed.
func (e *Execution) MarkFailed(msg string) error {
	e.Error = msg
	return e.finish(ExecutionFailed)
}

// Duration returns the run time, zero while still running.
func (e *Execution) Duration() time.Duration {
	if e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}
