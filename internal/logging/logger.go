// Package logging provides structured logging for go-jar-supervisor.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a new structured logger on stderr with the specified
// format and level.
// Format should be "json" or "text".
// Level should be "debug", "info", "warn", or "error".
func NewLogger(format, level string, verbose bool) *slog.Logger {
	return newLogger(os.Stderr, format, level, verbose, "json")
}

// NewLoggerWithWriter creates a logger that writes to a custom writer.
// Used by the dashboard, which owns the terminal, and by tests. Unknown
// formats fall back to text.
func NewLoggerWithWriter(w io.Writer, format, level string) *slog.Logger {
	return newLogger(w, format, level, false, "text")
}

func newLogger(w io.Writer, format, level string, verbose bool, fallback string) *slog.Logger {
	// Determine log level
	logLevel := parseLevel(level)
	if verbose {
		logLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
		// Add source location for debug level
		AddSource: verbose,
	}

	format = strings.ToLower(format)
	if format != "json" && format != "text" {
		format = fallback
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault sets the default logger for the slog package.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
