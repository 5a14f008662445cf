// Package manifest persists the path-to-digest map used for change detection.
//
// A Manifest is loaded once per run, mutated in memory by the engine, and
// saved once at the end. Two storage backends are available: a single JSON
// object written atomically (the default) and an embedded badger database.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Backend names a storage implementation.
type Backend string

// Supported backends.
const (
	BackendJSON   Backend = "json"
	BackendBadger Backend = "badger"
)

// IOError reports a manifest that could not be read, parsed, or written.
type IOError struct {
	Op   string // "load" or "save"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("manifest %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ErrCorrupt is wrapped by IOError when stored content cannot be decoded.
var ErrCorrupt = errors.New("manifest content is corrupt")

// Manifest maps absolute file paths to lowercase hex digests.
// It is not safe for concurrent use.
type Manifest struct {
	entries map[string]string
	dirty   bool
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{entries: make(map[string]string)}
}

// FromMap returns a manifest holding a copy of m.
func FromMap(m map[string]string) *Manifest {
	out := New()
	for k, v := range m {
		out.entries[k] = v
	}
	return out
}

// Get returns the digest recorded for path.
func (m *Manifest) Get(path string) (string, bool) {
	d, ok := m.entries[path]
	return d, ok
}

// Set records digest for path.
func (m *Manifest) Set(path, digest string) {
	if old, ok := m.entries[path]; ok && old == digest {
		return
	}
	m.entries[path] = strings.ToLower(digest)
	m.dirty = true
}

// Delete removes the entry for path.
func (m *Manifest) Delete(path string) {
	if _, ok := m.entries[path]; ok {
		delete(m.entries, path)
		m.dirty = true
	}
}

// Len returns the number of entries.
func (m *Manifest) Len() int { return len(m.entries) }

// Dirty reports whether the manifest changed since it was loaded.
func (m *Manifest) Dirty() bool { return m.dirty }

// Paths returns every recorded path in sorted order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Map returns a copy of the entries.
func (m *Manifest) Map() map[string]string {
	out := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Store loads and saves manifests.
type Store interface {
	// Load returns the stored manifest, creating an empty one when none exists.
	Load() (*Manifest, error)

	// Save replaces the stored manifest with m.
	Save(m *Manifest) error

	// Path returns where the manifest lives.
	Path() string

	// Close releases any resources held by the store.
	Close() error
}

// Open returns the store for backend at path.
func Open(backend Backend, path string) (Store, error) {
	switch backend {
	case BackendJSON, "":
		return NewJSONStore(path)
	case BackendBadger:
		return OpenBadgerStore(path)
	default:
		return nil, fmt.Errorf("unknown manifest backend %q (want json or badger)", backend)
	}
}

// Prune removes entries whose files no longer exist and returns the removed
// paths. Runs never call this; it backs the maintenance command.
func Prune(m *Manifest) []string {
	var removed []string
	for _, p := range m.Paths() {
		if _, err := os.Lstat(p); errors.Is(err, os.ErrNotExist) {
			m.Delete(p)
			removed = append(removed, p)
		}
	}
	return removed
}
