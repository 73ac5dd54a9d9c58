// Package logging builds the structured logger the rest of the process
// shares. Records are JSON on stderr so agent step output on stdout stays
// machine-separable from diagnostics.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls logger construction. The zero value yields an info-level
// JSON logger on stderr with no component attribute.
type Options struct {
	Level     string
	Writer    io.Writer
	Component string
}

// NewLogger returns a slog.Logger per Options. Unrecognized level names
// mean info; a bad value in config must not stop boot.
func NewLogger(opts Options) *slog.Logger {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: parseLevel(opts.Level)}))
	if component := strings.TrimSpace(opts.Component); component != "" {
		logger = logger.With("component", component)
	}
	return logger
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
