// Package watcher implements recursive filesystem watching using fsnotify.
// It reports non-excluded changes to a per-session callback; debouncing is
// the session's concern, not this package's.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Callback receives the slash-normalized relative path of a changed file.
// It may be called with an empty path when the underlying notification
// carried no usable name; callers should treat that as "something changed".
type Callback func(relPath string)

// Watcher observes a directory tree and invokes a callback per change.
type Watcher struct {
	rootPath string
	matcher  *Matcher
	onChange Callback

	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	running bool
	cancel  context.CancelFunc
}

// New creates a watcher for rootPath with the given exclude patterns.
func New(rootPath string, excludes []string, onChange Callback) *Watcher {
	return &Watcher{
		rootPath: rootPath,
		matcher:  NewMatcher(excludes),
		onChange: onChange,
	}
}

// Start begins watching the tree recursively.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsw

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	if err := w.addWatchRecursive(w.rootPath); err != nil {
		_ = w.Stop()
		return err
	}

	go w.eventLoop(watchCtx, fsw)

	log.Debug().
		Str("path", w.rootPath).
		Msg("file watcher started")

	return nil
}

// Stop terminates file watching. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false

	if w.cancel != nil {
		w.cancel()
	}

	if w.watcher != nil {
		err := w.watcher.Close()
		w.watcher = nil
		log.Debug().Str("path", w.rootPath).Msg("file watcher stopped")
		return err
	}

	return nil
}

// IsRunning returns true if the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// addWatchRecursive adds watches to a directory and all subdirectories.
func (w *Watcher) addWatchRecursive(root string) error {
	w.mu.RLock()
	fsw := w.watcher
	w.mu.RUnlock()
	if fsw == nil {
		return nil
	}

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files/dirs we can't access
		}

		if !info.IsDir() {
			return nil
		}

		if path != w.rootPath && w.matcher.Excluded(w.relPath(path)) {
			return filepath.SkipDir
		}

		if err := fsw.Add(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to add watch")
			return nil
		}

		return nil
	})
}

// eventLoop handles fsnotify events until the context is cancelled.
func (w *Watcher) eventLoop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// handleEvent processes a single fsnotify event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Chmod-only events carry no content change
	if event.Op == fsnotify.Chmod {
		return
	}

	// No usable name: trigger conservatively
	if event.Name == "" {
		w.onChange("")
		return
	}

	relPath := w.relPath(event.Name)
	if w.matcher.Excluded(relPath) {
		return
	}

	// Watch newly created directories so deeper changes are seen
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addWatchRecursive(event.Name)
		}
	}

	log.Trace().
		Str("path", relPath).
		Str("op", event.Op.String()).
		Msg("file changed")

	w.onChange(relPath)
}

// relPath converts an absolute event path to a slash-normalized path
// relative to the watch root.
func (w *Watcher) relPath(name string) string {
	rel, err := filepath.Rel(w.rootPath, name)
	if err != nil {
		rel = name
	}
	return filepath.ToSlash(rel)
}
