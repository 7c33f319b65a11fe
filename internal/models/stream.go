package models

import (
	"fmt"
	"time"
)

// StreamKind is the live source protocol.
type StreamKind string

const (
	StreamRTSP StreamKind = "rtsp"
	StreamRTMP StreamKind = "rtmp"
)

// ParseStreamKind validates a stream protocol name.
func ParseStreamKind(s string) (StreamKind, error) {
	switch StreamKind(s) {
	case StreamRTSP, StreamRTMP:
		return StreamKind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStreamKind, s)
	}
}

// StreamStatus is the worker lifecycle state. Transitions: starting →
// running ⇄ degraded → stopping → stopped, with error terminal after the
// consecutive failure limit.
type StreamStatus string

const (
	StreamStarting StreamStatus = "starting"
	StreamRunning  StreamStatus = "running"
	StreamDegraded StreamStatus = "degraded"
	StreamStopping StreamStatus = "stopping"
	StreamStopped  StreamStatus = "stopped"
	StreamError    StreamStatus = "error"
)

// Terminal reports whether the worker will make no further progress.
func (s StreamStatus) Terminal() bool {
	return s == StreamStopped || s == StreamError
}

// StreamConfig tunes one worker. Zero values are replaced by defaults at
// start.
type StreamConfig struct {
	// SampleInterval is the seconds between frames pushed to the sample
	// ring.
	SampleInterval float64 `json:"sample_interval"`

	// DetectionInterval is the seconds between detection rounds.
	DetectionInterval float64 `json:"detection_interval"`

	// DetectionWindow is how many recent frames each round inspects; 1
	// runs the image pipeline only, larger windows enable the temporal
	// detectors.
	DetectionWindow int `json:"detection_window"`

	Profile string         `json:"profile"`
	Level   DetectionLevel `json:"level"`

	// Detectors optionally restricts the image detector set.
	Detectors []string `json:"detectors,omitempty"`

	SampleRingSize  int `json:"sample_ring_size"`
	ResultsRingSize int `json:"results_ring_size"`

	// MaxConsecutiveErrors terminates the worker with status error once
	// this many reconnect attempts fail back to back.
	MaxConsecutiveErrors int `json:"max_consecutive_errors"`

	// ReconnectBackoffCap caps the exponential reconnect delay, seconds.
	ReconnectBackoffCap float64 `json:"reconnect_backoff_cap"`

	// GraceSeconds bounds the drain on stop before forcible termination.
	GraceSeconds float64 `json:"grace_seconds"`
}

// Default stream tuning.
const (
	DefaultSampleInterval       = 1.0
	DefaultDetectionInterval    = 5.0
	DefaultDetectionWindow      = 30
	DefaultSampleRingSize       = 32
	DefaultResultsRingSize      = 256
	DefaultMaxConsecutiveErrors = 10
	DefaultReconnectBackoffCap  = 30.0
	DefaultGraceSeconds         = 5.0
)

// DefaultStreamConfig returns the standard worker tuning.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		SampleInterval:       DefaultSampleInterval,
		DetectionInterval:    DefaultDetectionInterval,
		DetectionWindow:      DefaultDetectionWindow,
		Profile:              "normal",
		Level:                LevelStandard,
		SampleRingSize:       DefaultSampleRingSize,
		ResultsRingSize:      DefaultResultsRingSize,
		MaxConsecutiveErrors: DefaultMaxConsecutiveErrors,
		ReconnectBackoffCap:  DefaultReconnectBackoffCap,
		GraceSeconds:         DefaultGraceSeconds,
	}
}

// Normalize fills zero fields with defaults and validates ranges.
func (c *StreamConfig) Normalize() error {
	def := DefaultStreamConfig()
	if c.SampleInterval == 0 {
		c.SampleInterval = def.SampleInterval
	}
	if c.DetectionInterval == 0 {
		c.DetectionInterval = def.DetectionInterval
	}
	if c.DetectionWindow == 0 {
		c.DetectionWindow = def.DetectionWindow
	}
	if c.Profile == "" {
		c.Profile = def.Profile
	}
	if c.Level == "" {
		c.Level = def.Level
	}
	if c.SampleRingSize == 0 {
		c.SampleRingSize = def.SampleRingSize
	}
	if c.ResultsRingSize == 0 {
		c.ResultsRingSize = def.ResultsRingSize
	}
	if c.MaxConsecutiveErrors == 0 {
		c.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if c.ReconnectBackoffCap == 0 {
		c.ReconnectBackoffCap = def.ReconnectBackoffCap
	}
	if c.GraceSeconds == 0 {
		c.GraceSeconds = def.GraceSeconds
	}
	if c.SampleInterval < 0.1 {
		return ErrValidation{Field: "sample_interval", Message: "must be at least 0.1 seconds"}
	}
	if c.DetectionInterval < 1 {
		return ErrValidation{Field: "detection_interval", Message: "must be at least 1 second"}
	}
	if c.DetectionWindow < 1 {
		return ErrValidation{Field: "detection_window", Message: "must be at least 1"}
	}
	return nil
}

// StreamStats are the worker counters. Reads get a copied snapshot.
type StreamStats struct {
	FramesReceived   int64 `json:"frames_received"`
	FramesDetected   int64 `json:"frames_detected"`
	ConnectionErrors int64 `json:"connection_errors"`
	ReconnectCount   int64 `json:"reconnect_count"`

	// FPS is an exponential moving average of decoded frames per second.
	FPS float64 `json:"fps"`

	LastFrameTime     *time.Time `json:"last_frame_time,omitempty"`
	LastDetectionTime *time.Time `json:"last_detection_time,omitempty"`
}

// StreamDescriptor is the externally visible state of one stream worker.
type StreamDescriptor struct {
	ID        string       `json:"stream_id"`
	URL       string       `json:"url"`
	Kind      StreamKind   `json:"kind"`
	Status    StreamStatus `json:"status"`
	Config    StreamConfig `json:"config"`
	Stats     StreamStats  `json:"stats"`
	StartedAt time.Time    `json:"started_at"`
	LastError string       `json:"last_error,omitempty"`
}

// StreamResult is one entry in the results ring: either an image verdict
// (window of 1) or a video verdict over the snapshot window. Entries are
// ordered by detection completion time, not frame timestamp.
type StreamResult struct {
	CompletedAt time.Time     `json:"completed_at"`
	Image       *ImageVerdict `json:"image,omitempty"`
	Video       *VideoVerdict `json:"video,omitempty"`
}
