// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging configures structured logging for hearthd.
//
// Built on Go's standard slog package with two destinations:
//
//   - stderr in text or JSON format (always on; Unix convention)
//   - an optional JSON log file with automatic directory creation,
//     named {service}_{date}.log
//
// # Basic Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:   "info",
//	    Format:  "text",
//	    LogDir:  "/var/log/hearthd",
//	    Service: "hearthd",
//	})
//	defer logger.Close()
//	logger.Slog().Info("starting", slog.String("addr", addr))
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Callers
// must ensure voice content, PII, and credentials are never logged.
// Log metadata about content (lengths, presence), not content.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum severity: "debug", "info", "warn", "error".
	Level string

	// Format selects the stderr handler: "text" or "json".
	Format string

	// LogDir enables file logging when non-empty. Supports ~ expansion.
	LogDir string

	// Service names the log file: {service}_{date}.log.
	Service string
}

// Logger wraps slog with file lifecycle management.
//
// Thread Safety: safe for concurrent use.
type Logger struct {
	slogger *slog.Logger
	file    *os.File
}

// New builds a logger from config.
//
// Inputs:
//
//	cfg - Logger configuration. Zero values mean info/text/no file.
//
// Outputs:
//
//	*Logger - Ready to use. Call Close() when file logging is enabled.
//	error - Non-nil if the log directory or file cannot be created.
func New(cfg Config) (*Logger, error) {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var stderrHandler slog.Handler
	if cfg.Format == "json" {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	}

	l := &Logger{}
	handlers := []slog.Handler{stderrHandler}

	if cfg.LogDir != "" {
		dir := expandPath(cfg.LogDir)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
		service := cfg.Service
		if service == "" {
			service = "hearthd"
		}
		name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
		file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = file
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
	}

	if len(handlers) == 1 {
		l.slogger = slog.New(handlers[0])
	} else {
		l.slogger = slog.New(&multiHandler{handlers: handlers})
	}
	return l, nil
}

// Default returns a stderr-only text logger at info level.
func Default() *Logger {
	l, _ := New(Config{})
	return l
}

// Slog returns the underlying slog.Logger for component wiring.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// parseLevel maps a config string to a slog level. Unknown strings
// default to info.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// =============================================================================
// Multi-destination handler
// =============================================================================

// multiHandler fans a record out to every destination.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}
