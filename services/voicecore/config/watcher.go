// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadHandler receives the freshly validated configuration after the
// file changes on disk.
type ReloadHandler func(cfg Config)

// Watcher reloads the configuration when its file changes.
//
// # Description
//
// Watches the file's parent directory (editors typically replace the
// file via rename, which drops a watch placed on the file itself),
// debounces the burst of events a single save produces, then reloads
// and validates. Invalid edits are logged and skipped; the last good
// configuration stays in effect.
type Watcher struct {
	path     string
	handler  ReloadHandler
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	watching bool
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, handler ReloadHandler, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		handler:  handler,
		watcher:  fsw,
		logger:   logger.With(slog.String("subsystem", "config")),
		debounce: 250 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Returns nil if already watching.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop stops watching. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", slog.Any("error", err))

		case <-timerC:
			timerC = nil
			w.reload()
		}
	}
}

// reload re-reads and validates the file, invoking the handler on
// success.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected, keeping previous configuration",
			slog.String("path", w.path),
			slog.Any("error", err),
		)
		return
	}
	w.logger.Info("configuration reloaded", slog.String("path", w.path))
	if w.handler != nil {
		w.handler(cfg)
	}
}
