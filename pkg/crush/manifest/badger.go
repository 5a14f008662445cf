package manifest

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces manifest entries inside the database.
var keyPrefix = []byte("manifest\x00")

// BadgerStore keeps one key per path in an embedded badger database.
type BadgerStore struct {
	path string
	db   *badger.DB
}

// OpenBadgerStore opens or creates a database directory at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	if path == "" {
		return nil, errors.New("manifest path cannot be empty")
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &IOError{Op: "load", Path: path, Err: err}
	}
	return &BadgerStore{path: path, db: db}, nil
}

// Path implements Store.
func (s *BadgerStore) Path() string { return s.path }

// Close implements Store.
func (s *BadgerStore) Close() error { return s.db.Close() }

func makeKey(path string) []byte {
	key := make([]byte, 0, len(keyPrefix)+len(path))
	key = append(key, keyPrefix...)
	return append(key, path...)
}

// Load implements Store.
func (s *BadgerStore) Load() (*Manifest, error) {
	m := New()
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			item := it.Item()
			path := string(bytes.TrimPrefix(item.Key(), keyPrefix))
			if err := item.Value(func(v []byte) error {
				m.entries[path] = string(v)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &IOError{Op: "load", Path: s.path, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	return m, nil
}

// Save implements Store. Stale keys are removed and current entries written
// in one write batch.
func (s *BadgerStore) Save(m *Manifest) error {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			path := string(bytes.TrimPrefix(it.Item().Key(), keyPrefix))
			if _, ok := m.entries[path]; !ok {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return &IOError{Op: "save", Path: s.path, Err: err}
		}
	}
	for path, digest := range m.entries {
		if err := wb.Set(makeKey(path), []byte(digest)); err != nil {
			return &IOError{Op: "save", Path: s.path, Err: err}
		}
	}
	if err := wb.Flush(); err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}

	m.dirty = false
	return nil
}

var _ Store = (*BadgerStore)(nil)
