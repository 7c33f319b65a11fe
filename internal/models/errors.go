package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so transport layers can map them to status
// codes without string matching. Kinds follow the propagation policy:
// absorbed errors (detector failures, transient stream I/O) never reach a
// caller as errors, only as synthetic findings or status changes.
type ErrorKind string

const (
	// KindInput marks malformed or missing input, surfaced immediately.
	KindInput ErrorKind = "input"

	// KindUnsupportedFormat marks a container or codec the decoder cannot handle.
	KindUnsupportedFormat ErrorKind = "unsupported_format"

	// KindResourceExhausted marks memory or buffer limits being exceeded.
	KindResourceExhausted ErrorKind = "resource_exhausted"

	// KindTimeout marks an elapsed soft or hard deadline.
	KindTimeout ErrorKind = "timeout"

	// KindDetectorFailure marks a detector that failed; always absorbed into
	// a synthetic finding, never surfaced as an operation error.
	KindDetectorFailure ErrorKind = "detector_failure"

	// KindSourceUnavailable marks a source that could not be opened.
	KindSourceUnavailable ErrorKind = "source_unavailable"

	// KindConnectionLost marks a live source dropping mid-stream.
	KindConnectionLost ErrorKind = "connection_lost"

	// KindEmptySource marks a source that yielded zero frames.
	KindEmptySource ErrorKind = "empty_source"

	// KindNotFound marks an unknown detector, stream, task, or execution.
	KindNotFound ErrorKind = "not_found"

	// KindConflict marks a busy task or an exceeded stream limit.
	KindConflict ErrorKind = "conflict"

	// KindConfig marks an invalid cron expression, profile, or threshold.
	KindConfig ErrorKind = "config"

	// KindInternal marks unclassified failures, surfaced opaquely.
	KindInternal ErrorKind = "internal"
)

// Error carries a kind alongside the message so callers can classify
// failures with errors.As while still unwrapping the cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with the given kind and message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError wraps an existing error with a kind and message.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Errorf creates an Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, walking the wrap chain.
// Plain errors classify as KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrURLRequired indicates a required URL field is empty.
	ErrURLRequired = errors.New("url is required")

	// ErrInvalidURL indicates a malformed URL.
	ErrInvalidURL = errors.New("invalid URL format")

	// ErrCronRequired indicates a required cron expression is empty.
	ErrCronRequired = errors.New("cron expression is required")

	// ErrInputPathRequired indicates a required input path is empty.
	ErrInputPathRequired = errors.New("input_path is required")

	// ErrInvalidTaskType indicates an invalid task type.
	ErrInvalidTaskType = errors.New("invalid task type: must be 'batch_image', 'sample_image', or 'video'")

	// ErrInvalidStreamKind indicates an invalid stream protocol kind.
	ErrInvalidStreamKind = errors.New("invalid stream type: must be 'rtsp' or 'rtmp'")

	// ErrInvalidProfile indicates an unknown profile name.
	ErrInvalidProfile = errors.New("unknown profile")

	// ErrInvalidLevel indicates an unknown detection level.
	ErrInvalidLevel = errors.New("invalid detection level: must be 'fast', 'standard', or 'deep'")

	// ErrInvalidStrategy indicates an unknown sampling strategy.
	ErrInvalidStrategy = errors.New("invalid sample strategy: must be 'interval', 'scene', or 'hybrid'")

	// ErrUnknownDetector indicates a detector name that is not registered.
	ErrUnknownDetector = errors.New("unknown detector")

	// ErrDetectorConstruction indicates a detector factory failed.
	ErrDetectorConstruction = errors.New("detector construction failed")

	// ErrTaskBusy indicates a task already has a queued concurrent run.
	ErrTaskBusy = errors.New("task is busy: a run is active and another is queued")

	// ErrExecutionFinished indicates a terminal execution was mutated.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrStreamLimit indicates the concurrent stream limit was reached.
	ErrStreamLimit = errors.New("concurrent stream limit reached")
)
