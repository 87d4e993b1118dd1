package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with application-specific functionality
type Logger struct {
	*slog.Logger
}

// New creates a new logger with the specified level
func New(level string) *Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter creates a logger writing JSON records to w. Tests use this to
// capture output.
func NewWithWriter(level string, w io.Writer) *Logger {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewJSONHandler(w, opts)
	logger := slog.New(handler)

	return &Logger{Logger: logger}
}

// Default returns a logger with default settings
func Default() *Logger {
	return New("info")
}
