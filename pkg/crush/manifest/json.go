package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// JSONStore keeps the manifest as a single JSON object of path to digest.
type JSONStore struct {
	path string
}

// NewJSONStore returns a store for the file at path.
func NewJSONStore(path string) (*JSONStore, error) {
	if path == "" {
		return nil, errors.New("manifest path cannot be empty")
	}
	return &JSONStore{path: path}, nil
}

// Path implements Store.
func (s *JSONStore) Path() string { return s.path }

// Close implements Store.
func (s *JSONStore) Close() error { return nil }

// Load implements Store. A missing file is created as an empty object,
// along with its parent directories. Undecodable content yields an IOError
// wrapping ErrCorrupt.
func (s *JSONStore) Load() (*Manifest, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		m := New()
		if err := s.Save(m); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err != nil {
		return nil, &IOError{Op: "load", Path: s.path, Err: err}
	}

	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &IOError{Op: "load", Path: s.path, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	if entries == nil {
		// The literal "null" decodes to a nil map.
		return nil, &IOError{Op: "load", Path: s.path, Err: fmt.Errorf("%w: not an object", ErrCorrupt)}
	}

	return FromMap(entries), nil
}

// Save implements Store. The file is replaced atomically via a temporary
// file in the same directory.
func (s *JSONStore) Save(m *Manifest) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}

	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}

	m.dirty = false
	return nil
}

var _ Store = (*JSONStore)(nil)
