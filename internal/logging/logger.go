// Package logging holds the process-wide structured logger. Call Init once at
// startup; GetLogger falls back to a warn-level stderr logger otherwise.
// Command output meant for the user goes to stdout through fmt, not here.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	logger   *slog.Logger
	loggerMu sync.RWMutex
	logFile  *os.File
	initOnce sync.Once
)

// Config selects level, format and destination.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to warn.
	Level string
	// Format is "text" or "json".
	Format string
	// OutputPath is a file to append to; empty means stderr.
	OutputPath string
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelWarn, fmt.Errorf("invalid log level %q (use debug, info, warn or error)", s)
}

// New builds a logger for cfg writing to w.
func New(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q (use text or json)", cfg.Format)
}

// Init replaces the global logger. A previously opened log file is closed.
func Init(cfg Config) error {
	var w io.Writer = os.Stderr
	var f *os.File
	if cfg.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o750); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		var err error
		f, err = os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
	}
	l, err := New(cfg, w)
	if err != nil {
		if f != nil {
			_ = f.Close()
		}
		return err
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logger, logFile = l, f
	initOnce.Do(func() {})
	return nil
}

// Close flushes and closes the log file, if any.
func Close() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return err
}

// GetLogger returns the global logger.
func GetLogger() *slog.Logger {
	initOnce.Do(func() {
		loggerMu.Lock()
		if logger == nil {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		}
		loggerMu.Unlock()
	})
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// WithDataset tags log lines with a dataset name.
func WithDataset(name string) *slog.Logger {
	return GetLogger().With("dataset", name)
}

// WithCommand tags log lines with a shell command name.
func WithCommand(name string) *slog.Logger {
	return GetLogger().With("command", name)
}

// WithComponent tags log lines with a subsystem name.
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}
