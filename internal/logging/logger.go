// Package logging provides structured logging with file output support.
// It uses environment variables for configuration and also builds the
// append-only audit logger patches are recorded to.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})

	lg.SetLevel(levelFromEnv())

	prefix := os.Getenv("PROCVIEW_LOG_PREFIX")
	if prefix == "" {
		prefix = "procview "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr && w != os.Stdout {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

func levelFromEnv() log.Level {
	switch os.Getenv("PROCVIEW_LOG_LEVEL") {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewLogger creates a new logger based on environment variables
// PROCVIEW_LOG_LEVEL: debug, info, warn, error (default: info)
// PROCVIEW_LOG_PREFIX: prefix for log messages (default: "procview ")
// PROCVIEW_LOG_TO_FILE: when set to "1", logs to a timestamped file instead of stderr
func NewLogger() *LoggerCloser {
	output := io.Writer(os.Stderr)

	if os.Getenv("PROCVIEW_LOG_TO_FILE") == "1" {
		timestamp := time.Now().Format("20060102-150405")
		logFile := fmt.Sprintf("procview-%s-debug.log", timestamp)

		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			output = f
		}
		// If file creation fails, fall back to stderr
	}

	return NewLoggerWithWriter(output)
}

// NewFileLogger logs to path, creating parent directories as needed.
func NewFileLogger(path string) (*LoggerCloser, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return NewLoggerWithWriter(f), nil
}

// NewAuditLogger opens path for appending and returns a logfmt logger with
// full timestamps, one line per event, suitable for following with tail.
func NewAuditLogger(path string) (*LoggerCloser, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return NewAuditLoggerWithWriter(f), nil
}

// NewAuditLoggerWithWriter is NewAuditLogger over an arbitrary writer.
func NewAuditLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       log.LogfmtFormatter,
		Level:           log.InfoLevel,
	})
	var closer io.Closer
	if c, ok := w.(io.Closer); ok {
		closer = c
	}
	return &LoggerCloser{Logger: lg, closer: closer}
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return os.Getenv("PROCVIEW_LOG_LEVEL") == "debug"
}
