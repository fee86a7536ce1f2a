// Package logging builds the slog loggers used across rrsched. Output goes
// to stderr or to a size-rotated file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes a rotated log file. An empty Path means stderr.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NewLogger creates a logger writing to stderr; stdout carries program output.
// format is "text" or "json".
func NewLogger(level slog.Level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to the given writer.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewFileWriter returns a rotating writer for cfg.Path. Zero limits get
// floors of 10 MB, 1 backup and 7 days.
func NewFileWriter(cfg FileConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    max(cfg.MaxSizeMB, 10),
		MaxBackups: max(cfg.MaxBackups, 1),
		MaxAge:     max(cfg.MaxAgeDays, 7),
		Compress:   cfg.Compress,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds a logger for level and format that writes to the file in cfg,
// or to stderr when no path is set. The closer releases the file.
func Open(level slog.Level, format string, cfg FileConfig) (*slog.Logger, io.Closer) {
	if cfg.Path == "" {
		return NewLogger(level, format), nopCloser{}
	}
	w := NewFileWriter(cfg)
	return NewLoggerWithWriter(level, format, w), w
}

// ParseLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s names a level ParseLevel knows.
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}
