// Package watcher turns filesystem events under work item directories into
// debounced re-run triggers.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/crush/pkg/crush/logging"
)

// DefaultDebounce is the quiet period used when Run is given zero.
const DefaultDebounce = 2 * time.Second

// Watcher watches directories for changes that could produce new or
// modified images.
type Watcher struct {
	watcher *fsnotify.Watcher
	paths   map[string]bool
	roots   map[string]bool // root -> recursive
	mu      sync.RWMutex
	closed  bool
	log     *logging.Logger
}

// New creates a new Watcher.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher: fsw,
		paths:   make(map[string]bool),
		roots:   make(map[string]bool),
		log:     logging.Get("watcher"),
	}, nil
}

// Watch adds root, and its subdirectories when recursive is set. A
// symlinked root is resolved like the scanner does; symlinks below it are
// not followed.
func (w *Watcher) Watch(root string, recursive bool) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	w.mu.Lock()
	w.roots[absRoot] = w.roots[absRoot] || recursive
	w.mu.Unlock()

	if !recursive {
		return w.addWatch(absRoot)
	}
	return w.addTree(absRoot)
}

func (w *Watcher) addTree(root string) error {
	// The trailing separator makes WalkDir descend into a symlinked root.
	walkRoot := root
	if !strings.HasSuffix(walkRoot, string(filepath.Separator)) {
		walkRoot += string(filepath.Separator)
	}
	return filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // unreadable subtrees are skipped
		}
		if path == walkRoot {
			return w.addWatch(root)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return w.addWatch(path)
		}
		return nil
	})
}

func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return nil
	}
	if err := w.watcher.Add(path); err != nil {
		w.log.Warn("failed to add watch", "path", path, "error", err)
		return err
	}
	w.paths[path] = true
	return nil
}

// Paths returns the watched directories, sorted.
func (w *Watcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Run delivers batches of changed paths to onChange once no event has
// arrived for the debounce period. It blocks until ctx is cancelled.
// onChange runs on the caller's goroutine, so batches never overlap.
func (w *Watcher) Run(ctx context.Context, debounce time.Duration, onChange func(ctx context.Context, paths []string)) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	pending := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.handleEvent(event) {
				continue
			}
			pending[event.Name] = true
			timer.Reset(debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "error", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			pending = make(map[string]bool)

			w.log.Debug("change batch", "paths", len(batch))
			if onChange != nil {
				onChange(ctx, batch)
			}
		}
	}
}

// handleEvent updates watches for the event and reports whether it can
// affect optimization. Removals and attribute changes cannot.
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	switch {
	case event.Op&fsnotify.Create != 0:
		w.handleCreate(event.Name)
		return true
	case event.Op&fsnotify.Write != 0:
		return true
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.handleRemove(event.Name)
		return false
	default:
		return false
	}
}

func (w *Watcher) handleCreate(path string) {
	info, err := os.Lstat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if w.underRecursiveRoot(path) {
		_ = w.addTree(path)
	}
}

func (w *Watcher) handleRemove(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for p := range w.paths {
		if p == path || isSubPath(p, path) {
			_ = w.watcher.Remove(p)
			delete(w.paths, p)
		}
	}
}

func (w *Watcher) underRecursiveRoot(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for root, recursive := range w.roots {
		if recursive && isSubPath(path, root) {
			return true
		}
	}
	return false
}

// Close closes the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.paths = make(map[string]bool)
	return w.watcher.Close()
}

// isSubPath checks if path is under parent directory.
func isSubPath(path, parent string) bool {
	return len(path) > len(parent) && path[:len(parent)+1] == parent+string(filepath.Separator)
}
