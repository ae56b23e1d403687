// Package logging builds the process-wide structured logger shared by the
// dispatch API and the location consumer.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a JSON slog.Logger writing to stdout with source
// locations attached. level accepts debug, info, warn or error; anything
// unrecognized falls back to info.
func NewLogger(level string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	})
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
