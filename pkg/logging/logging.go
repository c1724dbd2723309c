// Package logging configures structured slog output for the service.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds the logging configuration.
type Config struct {
	// Level sets the minimum log level: debug, info, warn, error.
	Level string
	// Format specifies the output format: json or text.
	Format string
	// AddSource adds source file and line number to log entries.
	AddSource bool
}

// DefaultConfig returns JSON logging at info level.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
	}
}

// FromEnv reads LOG_LEVEL and LOG_FORMAT over the defaults.
func FromEnv() Config {
	cfg := DefaultConfig()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = strings.ToLower(format)
	}
	return cfg
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
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

// New creates a logger writing to stdout.
func New(cfg Config) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter creates a logger with a custom writer. Used in tests.
func NewWithWriter(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}
