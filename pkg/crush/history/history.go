// Package history keeps one JSON document per completed run so past runs
// can be listed and inspected.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jamesainslie/crush/pkg/crush/types"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Summary is the condensed view of a run used by List.
type Summary struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	Elapsed     time.Duration `json:"elapsed"`
	Items       int           `json:"items"`
	Found       int           `json:"found"`
	Optimized   int           `json:"optimized"`
	Failed      int           `json:"failed"`
	BytesSaved  int64         `json:"bytes_saved"`
	DryRun      bool          `json:"dry_run,omitempty"`
	Interrupted bool          `json:"interrupted,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Summarize condenses r.
func Summarize(r *types.RunReport) Summary {
	return Summary{
		ID:          r.ID,
		StartedAt:   r.StartedAt,
		Elapsed:     r.Elapsed(),
		Items:       len(r.Items),
		Found:       r.Found(),
		Optimized:   r.Optimized(),
		Failed:      r.Failed(),
		BytesSaved:  r.BytesSaved(),
		DryRun:      r.DryRun,
		Interrupted: r.Interrupted,
		Error:       r.Error,
	}
}

// Store persists run reports in a directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates a Store rooted at dir. The directory is created on first write.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("history directory cannot be empty")
	}
	return &Store{dir: dir}, nil
}

// Dir returns the history directory.
func (s *Store) Dir() string { return s.dir }

// Record writes r as <id>.json.
func (s *Store) Record(r *types.RunReport) error {
	if r.ID == "" {
		return errors.New("run report has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	path := filepath.Join(s.dir, r.ID+".json")
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// List returns run summaries newest first. A limit of zero or less returns
// all of them. Unparseable files are skipped.
func (s *Store) List(limit int) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.names()
	if err != nil {
		return nil, err
	}

	out := []Summary{}
	for _, name := range names {
		r, err := s.read(name)
		if err != nil {
			continue
		}
		out = append(out, Summarize(r))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns the full report of run id.
func (s *Store) Get(id string) (*types.RunReport, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("invalid run id %q", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.read(id + ".json")
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Cleanup removes records older than retentionDays and returns how many
// were removed.
func (s *Store) Cleanup(retentionDays int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	names, err := s.names()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (s *Store) names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *Store) read(name string) (*types.RunReport, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	var r types.RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run report %s: %w", name, err)
	}
	return &r, nil
}
