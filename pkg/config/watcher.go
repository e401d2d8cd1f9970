package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher turns file system events on configuration files into reload
// callbacks.
type Watcher struct {
	watcher   *fsnotify.Watcher
	callbacks []func()
	mu        sync.RWMutex
	watched   map[string]struct{}
	stopCh    chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewWatcher creates a new configuration file watcher.
func NewWatcher() (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		watcher: fsWatcher,
		watched: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
	}, nil
}

// Watch starts watching the specified file. When ctx is canceled the file is
// dropped from the watch set and its events are ignored.
func (w *Watcher) Watch(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if err := w.watcher.Add(absPath); err != nil {
		return fmt.Errorf("failed to watch file: %w", err)
	}
	w.mu.Lock()
	w.watched[absPath] = struct{}{}
	w.mu.Unlock()
	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
			case <-w.stopCh:
			}
			w.mu.Lock()
			delete(w.watched, absPath)
			w.mu.Unlock()
			_ = w.watcher.Remove(absPath)
		}()
	}
	w.startOnce.Do(func() {
		go w.handleEvents()
	})
	return nil
}

// OnChange registers a callback invoked when a watched file changes.
func (w *Watcher) OnChange(callback func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

func (w *Watcher) handleEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.mu.RLock()
			_, stillWatched := w.watched[event.Name]
			w.mu.RUnlock()
			if !stillWatched {
				continue
			}
			// Editors replace files on save, so Create counts as a change.
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.notifyCallbacks()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) notifyCallbacks() {
	w.mu.RLock()
	callbacks := make([]func(), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()
	for _, callback := range callbacks {
		if callback != nil {
			callback()
		}
	}
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	var closeErr error
	w.closeOnce.Do(func() {
		close(w.stopCh)
		if err := w.watcher.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close watcher: %w", err)
		}
	})
	return closeErr
}
