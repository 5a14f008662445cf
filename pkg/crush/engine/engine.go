// Package engine runs the optimization pipeline over resolved work items.
//
// A run verifies its preconditions, loads the manifest once, then for each
// work item scans the directory, filters candidates by content type and
// change state, and hands changed files to the optimizer. The manifest is
// saved once at the end, including when the run is cut short by
// cancellation or an inaccessible directory.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/jamesainslie/crush/pkg/crush/detect"
	"github.com/jamesainslie/crush/pkg/crush/digest"
	"github.com/jamesainslie/crush/pkg/crush/filter"
	"github.com/jamesainslie/crush/pkg/crush/logging"
	"github.com/jamesainslie/crush/pkg/crush/manifest"
	"github.com/jamesainslie/crush/pkg/crush/optimizer"
	"github.com/jamesainslie/crush/pkg/crush/ownership"
	"github.com/jamesainslie/crush/pkg/crush/scanner"
	"github.com/jamesainslie/crush/pkg/crush/types"
)

// PreconditionError aborts a run before any file is touched.
type PreconditionError = optimizer.PreconditionError

// Dispatcher optimizes a single file according to its content type.
type Dispatcher interface {
	Verify() error
	Dispatch(ctx context.Context, path string, ct types.ContentType) error
}

// Scanner lists the regular files of a directory.
type Scanner interface {
	Scan(ctx context.Context, root string, recursive bool) (*scanner.Result, error)
}

// Deps are the collaborators a run needs.
type Deps struct {
	Dispatcher Dispatcher
	Guard      ownership.Guard
	Detector   detect.Detector
	Changes    *digest.ChangeDetector
	Store      manifest.Store
	Scanner    Scanner

	// EUID returns the effective user id. Defaults to ownership.EffectiveUID.
	EUID func() int
}

// Options tune a run.
type Options struct {
	// RequireRoot aborts the run unless the effective user is root.
	RequireRoot bool

	// DryRun reports files that would be optimized without running tools
	// or recording digests.
	DryRun bool

	// StrictManifest aborts on an unreadable manifest instead of resetting it.
	StrictManifest bool

	// LockPath guards the manifest against concurrent runs. Defaults to
	// the store path with a ".lock" suffix.
	LockPath string

	// OnProgress receives a progress update per file and per phase change.
	OnProgress func(types.Progress)

	// OnState is called on every state transition.
	OnState func(State)
}

// Engine runs optimization passes. Runs are sequential; an Engine must not
// be used by more than one goroutine at a time.
type Engine struct {
	deps  Deps
	opts  Options
	log   *logging.Logger
	state State
}

// New validates deps and returns an Engine.
func New(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Dispatcher == nil:
		return nil, errors.New("engine: dispatcher is required")
	case deps.Store == nil:
		return nil, errors.New("engine: manifest store is required")
	case deps.Changes == nil:
		return nil, errors.New("engine: change detector is required")
	}
	if deps.Guard == nil {
		deps.Guard = ownership.FSGuard{}
	}
	if deps.Detector == nil {
		deps.Detector = detect.SniffDetector{}
	}
	if deps.Scanner == nil {
		deps.Scanner = scanner.New(scanner.Options{})
	}
	if deps.EUID == nil {
		deps.EUID = ownership.EffectiveUID
	}
	if opts.LockPath == "" {
		opts.LockPath = strings.TrimSuffix(deps.Store.Path(), string(filepath.Separator)) + ".lock"
	}
	return &Engine{
		deps: deps,
		opts: opts,
		log:  logging.Get("engine"),
	}, nil
}

// State returns the current state.
func (e *Engine) State() State { return e.state }

func (e *Engine) transition(s State) {
	e.log.Debug("state", "from", e.state, "to", s)
	e.state = s
	if e.opts.OnState != nil {
		e.opts.OnState(s)
	}
}

func (e *Engine) progress(p types.Progress) {
	if e.opts.OnProgress != nil {
		e.opts.OnProgress(p)
	}
}

// NewRunID returns an identifier of the form run-<UTC timestamp>-<8 hex>.
func NewRunID(t time.Time) string {
	return fmt.Sprintf("run-%s-%s", t.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// Run processes items in order and returns the run report.
//
// A *PreconditionError means nothing was touched. A *scanner.AccessError
// (wrapped) means the run stopped at that item after saving the work done
// so far. Cancellation between files stops the run the same way and
// returns the context error. File-level failures are only counted.
func (e *Engine) Run(ctx context.Context, items []types.WorkItem) (*types.RunReport, error) {
	e.state = StateIdle
	start := time.Now()
	report := &types.RunReport{
		ID:           NewRunID(start),
		StartedAt:    start,
		DryRun:       e.opts.DryRun,
		ManifestPath: e.deps.Store.Path(),
		Items:        make([]types.ItemReport, 0, len(items)),
	}

	fail := func(err error) (*types.RunReport, error) {
		e.transition(StateAborted)
		report.FinishedAt = time.Now()
		report.Error = err.Error()
		return report, err
	}

	if err := e.deps.Dispatcher.Verify(); err != nil {
		e.log.Error("tool check failed", "error", err)
		return fail(err)
	}
	e.transition(StateToolsChecked)

	if e.opts.RequireRoot {
		if uid := e.deps.EUID(); uid != 0 {
			return fail(&PreconditionError{
				Reason: fmt.Sprintf("must run as root to preserve file ownership (effective uid %d)", uid),
			})
		}
	}
	e.transition(StatePrivilegeChecked)

	unlock, err := e.lock()
	if err != nil {
		return fail(err)
	}
	defer unlock()

	m, err := e.loadManifest(report)
	if err != nil {
		return fail(err)
	}
	e.transition(StateManifestLoaded)

	runErr := e.processItems(ctx, items, m, report)
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		report.Interrupted = true
	}

	if !e.opts.DryRun {
		if err := e.deps.Store.Save(m); err != nil {
			e.log.Error("failed to save manifest", "path", e.deps.Store.Path(), "error", err)
			return fail(errors.Join(runErr, err))
		}
	}
	e.transition(StateManifestSaved)

	if runErr != nil {
		return fail(runErr)
	}

	e.transition(StateDone)
	report.FinishedAt = time.Now()
	e.log.Info("run complete",
		"id", report.ID,
		"optimized", report.Optimized(),
		"failed", report.Failed(),
		"saved", types.FormatSize(report.BytesSaved()),
		"took", report.Elapsed())
	return report, nil
}

// lock takes the inter-process run lock.
func (e *Engine) lock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(e.opts.LockPath), 0o755); err != nil {
		return nil, &PreconditionError{Reason: fmt.Sprintf("create lock directory: %v", err)}
	}
	fl := flock.New(e.opts.LockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, &PreconditionError{Reason: fmt.Sprintf("acquire run lock %s: %v", e.opts.LockPath, err)}
	}
	if !locked {
		return nil, &PreconditionError{Reason: fmt.Sprintf("another run holds the lock %s", e.opts.LockPath)}
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			e.log.Warn("failed to release run lock", "path", e.opts.LockPath, "error", err)
		}
	}, nil
}

// loadManifest loads the manifest once. An unreadable manifest is replaced
// by an empty one unless the strict policy is set.
func (e *Engine) loadManifest(report *types.RunReport) (*manifest.Manifest, error) {
	m, err := e.deps.Store.Load()
	if err == nil {
		e.log.Debug("manifest loaded", "path", e.deps.Store.Path(), "entries", m.Len())
		return m, nil
	}

	var ioErr *manifest.IOError
	if !errors.As(err, &ioErr) || e.opts.StrictManifest {
		e.log.Error("failed to load manifest", "path", e.deps.Store.Path(), "error", err)
		return nil, err
	}

	e.log.Error("manifest unreadable, starting from an empty one", "path", e.deps.Store.Path(), "error", err)
	m = manifest.New()
	if !e.opts.DryRun {
		if err := e.deps.Store.Save(m); err != nil {
			return nil, err
		}
	}
	report.ManifestReset = true
	return m, nil
}

func (e *Engine) processItems(ctx context.Context, items []types.WorkItem, m *manifest.Manifest, report *types.RunReport) error {
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		ir := types.ItemReport{Item: item}
		if item.Inert() {
			e.log.Info("skipping work item with no supported types", "dir", item.Dir)
			ir.Skipped = true
			report.Items = append(report.Items, ir)
			continue
		}

		err := e.processItem(ctx, i, len(items), item, m, &ir)
		report.Items = append(report.Items, ir)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) processItem(ctx context.Context, index, count int, item types.WorkItem, m *manifest.Manifest, ir *types.ItemReport) error {
	base := types.Progress{
		ItemIndex: index,
		ItemCount: count,
		Dir:       item.Dir,
		Recursive: item.Recursive,
	}

	e.transition(StateScanning)
	p := base
	p.Phase = types.PhaseScanning
	e.progress(p)

	res, err := e.deps.Scanner.Scan(ctx, item.Dir, item.Recursive)
	if err != nil {
		var accessErr *scanner.AccessError
		if errors.As(err, &accessErr) {
			e.log.Error("cannot access work item directory", "dir", item.Dir, "error", err)
			return fmt.Errorf("work item %s: %w", item.Dir, err)
		}
		return err
	}
	for _, s := range res.Skipped {
		ir.Warnings = append(ir.Warnings, fmt.Sprintf("skipped unreadable directory %s: %s", s.Path, s.Err))
	}
	ir.Found = len(res.Files)
	e.log.Info("scanned", "dir", item.Dir, "recursive", item.Recursive, "files", ir.Found)

	sel, err := filter.New(filter.WithInclude(item.Include...), filter.WithExclude(item.Exclude...))
	if err != nil {
		e.log.Warn("ignoring invalid patterns", "dir", item.Dir, "error", err)
		ir.Warnings = append(ir.Warnings, err.Error())
	}

	e.transition(StateFiltering)
	for n, cand := range res.Files {
		if err := ctx.Err(); err != nil {
			return err
		}

		p := base
		p.Phase = types.PhaseOptimizing
		p.Done = n
		p.Total = len(res.Files)
		p.CurrentPath = cand.Path
		p.Optimized = ir.Optimized
		e.progress(p)

		if !sel.Match(item.Dir, cand.Path) {
			ir.Add(types.FileOutcome{Path: cand.Path, Status: types.StatusIgnored})
			continue
		}

		out, err := e.processFile(ctx, item, cand, m)
		if err != nil {
			return err
		}
		ir.Add(out)
	}

	p = base
	p.Phase = types.PhaseItemDone
	p.Done = len(res.Files)
	p.Total = len(res.Files)
	p.Optimized = ir.Optimized
	e.progress(p)
	return nil
}

// processFile carries one candidate through filtering and optimization. The
// returned error is non-nil only when the run was cancelled mid-file.
func (e *Engine) processFile(ctx context.Context, item types.WorkItem, cand types.Candidate, m *manifest.Manifest) (types.FileOutcome, error) {
	out := types.FileOutcome{Path: cand.Path, SizeBefore: cand.Size}
	failed := func(stage string, err error) (types.FileOutcome, error) {
		out.Status = types.StatusFailed
		out.Error = err.Error()
		e.log.Error(stage+" failed", "path", cand.Path, "error", err)
		return out, nil
	}

	ct, err := e.deps.Detector.Detect(cand.Path)
	if err != nil {
		return failed("detect", err)
	}
	out.Type = ct
	if !item.Accepts(ct) {
		out.Status = types.StatusIgnored
		return out, nil
	}

	changed, err := e.deps.Changes.HasChanged(cand.Path, m)
	if err != nil {
		return failed("hash", err)
	}
	if !changed {
		out.Status = types.StatusUnchanged
		return out, nil
	}

	if e.opts.DryRun {
		out.Status = types.StatusPending
		return out, nil
	}

	e.transition(StateOptimizing)
	defer e.transition(StateFiltering)

	owner, ownErr := e.deps.Guard.Snapshot(cand.Path)
	switch {
	case errors.Is(ownErr, ownership.ErrUnsupported):
	case ownErr != nil:
		return failed("ownership snapshot", ownErr)
	}

	// Tools rewrite the file in place, so cancellation waits for them and
	// is picked up before the next file.
	if err := e.deps.Dispatcher.Dispatch(context.WithoutCancel(ctx), cand.Path, ct); err != nil {
		return failed("optimize", err)
	}

	if ownErr == nil {
		if err := e.deps.Guard.Restore(cand.Path, owner); err != nil {
			out.Warning = err.Error()
			e.log.Warn("failed to restore ownership", "path", cand.Path, "owner", owner, "error", err)
		}
	}

	if _, err := e.deps.Changes.Record(cand.Path, m); err != nil {
		m.Delete(cand.Path)
		return failed("record digest", err)
	}

	if info, err := os.Lstat(cand.Path); err == nil {
		out.SizeAfter = info.Size()
	} else {
		out.SizeAfter = cand.Size
	}
	out.Status = types.StatusOptimized
	e.log.Info("optimized", "path", cand.Path, "type", ct,
		"before", types.FormatSize(out.SizeBefore), "after", types.FormatSize(out.SizeAfter))
	return out, nil
}
