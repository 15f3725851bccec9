// Package logging wires the process-wide structured logger. Every other
// package receives a *slog.Logger as an explicit dependency rather than
// reaching for a global — New/WithComponent exist only at the composition
// root in cmd/gateway. The one exception is internal/messaging, which writes
// its diagnostics through the standard library's global log package (and,
// for Redis read errors, straight to stdout) rather than a *slog.Logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the root logger for the given level ("debug", "info", "warn",
// "error"); unknown levels fall back to info.
func New(level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

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

// WithComponent tags a logger with the component emitting through it, e.g.
// logging.WithComponent(root, "router").
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}
