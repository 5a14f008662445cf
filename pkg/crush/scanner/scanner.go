package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/crush/pkg/crush/logging"
	"github.com/jamesainslie/crush/pkg/crush/types"
)

// AccessError reports that a scan root could not be opened as a directory.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("cannot access directory %s: %v", e.Path, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// SkippedDir records a subdirectory that could not be read. The scan skips
// it and continues.
type SkippedDir struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Result is the materialized output of one scan.
type Result struct {
	Root        string
	Recursive   bool
	Files       []types.Candidate
	DirsScanned int64
	Skipped     []SkippedDir
	Elapsed     time.Duration
}

// Scanner performs directory listings. A Scanner may be reused for
// sequential scans but not for concurrent ones.
type Scanner struct {
	opts   Options
	logger *logging.Logger

	dirsScanned  atomic.Int64
	filesFound   atomic.Int64
	currentPath  atomic.Value
	lastProgress atomic.Int64

	mu      sync.Mutex
	files   []types.Candidate
	skipped []SkippedDir
}

// New creates a Scanner with the given options.
func New(opts Options) *Scanner {
	s := &Scanner{opts: opts.withDefaults(), logger: logging.Get("scanner")}
	s.currentPath.Store("")
	return s
}

// Scan lists the regular files under root. Symlinks are never followed.
// When recursive is false only root's direct children are listed.
//
// A root that is missing, unreadable, or not a directory yields an
// *AccessError. Unreadable subdirectories are skipped with a warning and
// reported in Result.Skipped.
func (s *Scanner) Scan(ctx context.Context, root string, recursive bool) (*Result, error) {
	start := time.Now()
	s.reset()

	root, err := s.openRoot(root)
	if err != nil {
		return nil, err
	}

	conf := fastwalk.Config{
		Follow:     false,
		NumWorkers: s.opts.Workers,
	}

	s.currentPath.Store(root)
	s.report(true)

	walkErr := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if path == root {
				return &AccessError{Path: root, Err: err}
			}
			s.skip(path, err)
			if d != nil && d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == root {
				s.dirsScanned.Add(1)
				return nil
			}
			if !recursive {
				return fastwalk.SkipDir
			}
			s.dirsScanned.Add(1)
			s.currentPath.Store(path)
			s.report(false)
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		var size int64
		if info, infoErr := d.Info(); infoErr == nil {
			size = info.Size()
		}

		s.mu.Lock()
		s.files = append(s.files, types.Candidate{Path: path, Size: size})
		s.mu.Unlock()
		s.filesFound.Add(1)
		return nil
	})

	if walkErr != nil {
		var accessErr *AccessError
		if errors.As(walkErr, &accessErr) {
			return nil, accessErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &AccessError{Path: root, Err: walkErr}
	}

	sort.Slice(s.files, func(i, j int) bool { return s.files[i].Path < s.files[j].Path })
	sort.Slice(s.skipped, func(i, j int) bool { return s.skipped[i].Path < s.skipped[j].Path })

	s.currentPath.Store("")
	s.report(true)

	return &Result{
		Root:        root,
		Recursive:   recursive,
		Files:       s.files,
		DirsScanned: s.dirsScanned.Load(),
		Skipped:     s.skipped,
		Elapsed:     time.Since(start),
	}, nil
}

// openRoot resolves root to a clean absolute path and checks it can be
// listed.
func (s *Scanner) openRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", &AccessError{Path: root, Err: err}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", &AccessError{Path: abs, Err: err}
	}
	if !info.IsDir() {
		return "", &AccessError{Path: abs, Err: fmt.Errorf("not a directory")}
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", &AccessError{Path: abs, Err: err}
	}
	defer f.Close()
	if _, err := f.ReadDir(1); err != nil && !errors.Is(err, io.EOF) {
		return "", &AccessError{Path: abs, Err: err}
	}

	return abs, nil
}

func (s *Scanner) reset() {
	s.dirsScanned.Store(0)
	s.filesFound.Store(0)
	s.lastProgress.Store(0)
	s.files = nil
	s.skipped = nil
}

func (s *Scanner) skip(path string, err error) {
	s.logger.Warn("skipping unreadable path", "path", path, "error", err)
	s.mu.Lock()
	s.skipped = append(s.skipped, SkippedDir{Path: path, Err: err.Error()})
	s.mu.Unlock()
}

// report sends progress, throttled unless force is set.
func (s *Scanner) report(force bool) {
	if s.opts.OnProgress == nil {
		return
	}

	now := time.Now().UnixNano()
	if !force {
		last := s.lastProgress.Load()
		if now-last < int64(s.opts.ProgressInterval) {
			return
		}
		if !s.lastProgress.CompareAndSwap(last, now) {
			return
		}
	} else {
		s.lastProgress.Store(now)
	}

	current, _ := s.currentPath.Load().(string)
	s.opts.OnProgress(Progress{
		DirsScanned:  s.dirsScanned.Load(),
		FilesFound:   s.filesFound.Load(),
		CurrentPath:  current,
		WalkComplete: force && current == "",
	})
}
