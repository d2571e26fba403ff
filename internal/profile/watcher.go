// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package profile

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// defaultDebounce coalesces the burst of events an editor or atomic
// replace produces for one logical save.
const defaultDebounce = 300 * time.Millisecond

// Watcher reloads registered stores when their files change on disk, so a
// long-running session sees profiles and templates edited externally.
//
// It watches parent directories rather than the files themselves: atomic
// saves replace the file by rename, which would silently detach a direct
// file watch.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc

	mu      sync.Mutex
	targets map[string]func() error
	pending map[string]time.Time
}

// NewWatcher creates a watcher. Call Watch for each store file, then Start.
func NewWatcher(logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		fsw:      fsw,
		debounce: defaultDebounce,
		logger:   logger,
		targets:  make(map[string]func() error),
		pending:  make(map[string]time.Time),
	}, nil
}

// Watch registers a file path with the reload to run when it changes.
func (w *Watcher) Watch(path string, reload func() error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	w.mu.Lock()
	w.targets[abs] = reload
	w.mu.Unlock()
	return nil
}

// WatchStore registers a profile store.
func (w *Watcher) WatchStore(s *Store) error {
	return w.Watch(s.Path(), s.Reload)
}

// WatchTemplates registers a template store.
func (w *Watcher) WatchTemplates(ts *Templates) error {
	return w.Watch(ts.Path(), ts.Reload)
}

// Start begins processing events in the background.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.processEvents(ctx)
	go w.processPending(ctx)
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	return w.fsw.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Clean(event.Name)

			w.mu.Lock()
			if _, registered := w.targets[name]; registered {
				w.pending[name] = time.Now()
			}
			w.mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("store watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) processPending(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()

			w.mu.Lock()
			var due []string
			for path, changed := range w.pending {
				if now.Sub(changed) >= w.debounce {
					due = append(due, path)
					delete(w.pending, path)
				}
			}
			reloads := make([]func() error, 0, len(due))
			for _, path := range due {
				reloads = append(reloads, w.targets[path])
			}
			w.mu.Unlock()

			for i, reload := range reloads {
				if err := reload(); err != nil {
					w.logger.Warn("store reload failed",
						zap.String("path", due[i]),
						zap.Error(err))
					continue
				}
				w.logger.Debug("store reloaded", zap.String("path", due[i]))
			}
		}
	}
}
