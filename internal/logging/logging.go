// Package logging provides helpers for structured logging across the CLI, the
// Lambda handlers and the ETL job containers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// Level represents a structured log level used by mlopsctl.
type Level slog.Level

const (
	// LevelDebug represents the debug logging level.
	LevelDebug Level = Level(slog.LevelDebug)
	// LevelInfo represents the informational logging level.
	LevelInfo Level = Level(slog.LevelInfo)
	// LevelWarn represents the warning logging level.
	LevelWarn Level = Level(slog.LevelWarn)
	// LevelError represents the error logging level.
	LevelError Level = Level(slog.LevelError)
)

// Format selects the handler used by New.
type Format string

const (
	// FormatText renders colorized console output.
	FormatText Format = "text"
	// FormatJSON renders one JSON object per record, suitable for CloudWatch.
	FormatJSON Format = "json"
)

// ParseLevel converts a textual log level into a Level value.
func ParseLevel(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ParseFormat converts a textual format into a Format, defaulting to text.
func ParseFormat(value string) Format {
	if strings.EqualFold(strings.TrimSpace(value), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// NewLogger constructs a slog.Logger configured with a tint handler and level.
func NewLogger(w io.Writer, level Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level: slog.Level(level),
	})

	return slog.New(handler)
}

// NewJSONLogger constructs a JSON slog.Logger for non-interactive runtimes.
func NewJSONLogger(w io.Writer, level Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.Level(level)}))
}

// New picks the handler by format.
func New(w io.Writer, format Format, level Level) *slog.Logger {
	if format == FormatJSON {
		return NewJSONLogger(w, level)
	}
	return NewLogger(w, level)
}

// FromEnv builds a logger from LOG_LEVEL and LOG_FORMAT. Lambda and ECS
// binaries default to JSON output.
func FromEnv() *slog.Logger {
	format := FormatJSON
	if raw, ok := os.LookupEnv("LOG_FORMAT"); ok {
		format = ParseFormat(raw)
	}
	return New(os.Stderr, format, ParseLevel(os.Getenv("LOG_LEVEL")))
}
