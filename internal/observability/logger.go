// Package observability provides structured logging for visus, including
// runtime log level control and redaction of sensitive values.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/visus-project/visus/internal/config"
)

// LevelTrace is a custom level below debug for very chatty diagnostics,
// such as per-sample logging on live streams.
const LevelTrace = slog.Level(-8)

// globalLevel is shared by every logger created by this package so the
// level can be changed at runtime (see SetLogLevel).
var globalLevel = new(slog.LevelVar)

// requestLogging controls whether successful HTTP requests are logged.
var requestLogging atomic.Bool

// redactedValue is the marker written in place of sensitive values.
const redactedValue = "[REDACTED]"

// credentialURL matches URLs that embed user:password credentials, the way
// authenticated RTSP and HTTP sources are usually configured.
var credentialURL = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^/@:\s]+:[^/@\s]+@`)

// sensitiveParam matches query parameters that carry secrets so their values
// can be masked while the rest of the URL stays readable.
var sensitiveParam = regexp.MustCompile(`(?i)([?&](?:password|secret|token|apikey|api_key|credential)=)[^&"\s]*`)

// sensitiveKeys lists attribute names whose values are always redacted,
// matched case-insensitively.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"apikey":        true,
	"api_key":       true,
	"credential":    true,
	"credentials":   true,
	"authorization": true,
}

// redactAttr scrubs struct values cloned into log attributes. Fields tagged
// masq:"secret", fields named Password or Authorization, and string values
// with inline URL credentials are all replaced.
var redactAttr = masq.New(
	masq.WithTag("secret"),
	masq.WithFieldName("Password"),
	masq.WithFieldName("Authorization"),
	masq.WithRegex(credentialURL),
)

// redactSensitive masks attributes whose key names a secret and strips
// secret-bearing query parameters out of URL-shaped string values.
func redactSensitive(a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redactedValue)
	}
	if a.Value.Kind() == slog.KindString {
		s := a.Value.String()
		if strings.ContainsRune(s, '?') && sensitiveParam.MatchString(s) {
			return slog.String(a.Key, sensitiveParam.ReplaceAllString(s, "${1}"+redactedValue))
		}
	}
	return a
}

// shortSourcePath trims an absolute file path to its last three elements so
// log positions stay readable.
func shortSourcePath(file string) string {
	parts := strings.Split(file, "/")
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	return strings.Join(parts, "/")
}

// NewLogger creates a new slog.Logger based on the provided configuration.
// The logger supports JSON and text formats with configurable log levels.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a new slog.Logger that writes to the provided writer.
// This is useful for testing or custom output destinations.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	globalLevel.Set(parseLevel(cfg.Level))

	opts := &slog.HandlerOptions{
		Level:     globalLevel,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				// Customize time format if specified
				if cfg.TimeFormat != "" {
					if t, ok := a.Value.Any().(time.Time); ok {
						return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
					}
				}
			case slog.LevelKey:
				// slog renders custom levels as offsets ("DEBUG-4")
				if lv, ok := a.Value.Any().(slog.Level); ok && lv == LevelTrace {
					return slog.String(slog.LevelKey, "TRACE")
				}
			case slog.SourceKey:
				if src, ok := a.Value.Any().(*slog.Source); ok {
					return slog.String("logpos", fmt.Sprintf("%s:%d", shortSourcePath(src.File), src.Line))
				}
			}
			return redactAttr(groups, redactSensitive(a))
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		// Default to JSON if format is unknown
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// ParseLevel converts a level name to slog.Level. The "warning" alias and
// the custom trace level are accepted.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// parseLevel is ParseLevel with unknown levels falling back to info.
func parseLevel(level string) slog.Level {
	lv, err := ParseLevel(level)
	if err != nil {
		return slog.LevelInfo
	}
	return lv
}

// LevelName returns the lowercase name of a level, including trace.
func LevelName(level slog.Level) string {
	switch level {
	case LevelTrace:
		return "trace"
	case slog.LevelDebug:
		return "debug"
	case slog.LevelInfo:
		return "info"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return strings.ToLower(level.String())
	}
}

// SetLogLevel changes the level of every logger created by this package.
// Unknown level names fall back to info.
func SetLogLevel(level string) {
	globalLevel.Set(parseLevel(level))
}

// GetLogLevel returns the current runtime log level name.
func GetLogLevel() string {
	return LevelName(globalLevel.Level())
}

// SetRequestLogging toggles logging of successful HTTP requests.
func SetRequestLogging(enabled bool) {
	requestLogging.Store(enabled)
}

// IsRequestLoggingEnabled reports whether successful HTTP requests should be
// logged. Responses with status >= 400 are logged regardless.
func IsRequestLoggingEnabled() bool {
	return requestLogging.Load()
}

// WithApp adds the application name to the logger.
func WithApp(logger *slog.Logger, app string) *slog.Logger {
	return logger.With(slog.String("app", app))
}

// WithComponent adds a component name to the logger for identifying the source.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithError adds an error to the logger attributes.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// SetDefault sets the provided logger as the default slog logger.
// This affects all code using slog.Info(), slog.Error(), etc. without a specific logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// TimedOperation logs the start and end of an operation with duration.
// Returns a function that should be deferred to log the completion.
//
// Usage:
//
//	done := observability.TimedOperation(ctx, logger, "load_profiles")
//	defer done()
func TimedOperation(ctx context.Context, logger *slog.Logger, operation string) func() {
	start := time.Now()
	logger.InfoContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		duration := time.Since(start)
		logger.InfoContext(ctx, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
		)
	}
}

// TimedOperationWithError is like TimedOperation but accepts an error pointer
// to determine success/failure status. The error pointer is required because
// the error value may be set after calling this function but before the
// returned done function is called.
//
// Usage:
//
//	var err error
//	done := observability.TimedOperationWithError(ctx, logger, "diagnose_batch", &err)
//	defer done()
//	err = doSomething()
//
//nolint:gocritic // errPtr must be a pointer to capture errors set after this call
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.InfoContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		duration := time.Since(start)
		if errPtr != nil && *errPtr != nil {
			logger.ErrorContext(ctx, "operation failed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
				slog.String("error", (*errPtr).Error()),
			)
		} else {
			logger.InfoContext(ctx, "operation completed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
			)
		}
	}
}
