package project

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
)

// Watcher invalidates cache entries as soon as a tracked file changes,
// instead of waiting for the next timestamp comparison.
type Watcher struct {
	cache   *Cache
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu      sync.Mutex
	dirs    map[string]bool
	started bool
	stopped bool
	done    chan struct{}
}

// NewWatcher creates a watcher bound to cache.
func NewWatcher(cache *Cache, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cache:   cache,
		watcher: fw,
		logger:  logger,
		dirs:    make(map[string]bool),
		done:    make(chan struct{}),
	}, nil
}

// Start runs the event loop until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	go w.loop(ctx)
}

// Track watches the directories of every input tracked by p.
func (w *Watcher) Track(p *Project) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	for _, in := range p.TrackedInputs() {
		dir := filepath.Dir(in)
		if w.dirs[dir] {
			continue
		}
		// Watching the directory also catches editors that replace files.
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Debug("Cannot watch project input directory", logfields.Path(dir), logfields.Error(err))
			continue
		}
		w.dirs[dir] = true
	}
}

// Stop closes the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()
	err := w.watcher.Close()
	if started {
		<-w.done
	}
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if n := w.cache.InvalidatePath(event.Name); n > 0 {
				w.logger.Debug("Project input changed", logfields.Path(event.Name), logfields.Count(n))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Project watcher error", logfields.Error(err))
		}
	}
}
