package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/crush/pkg/crush/digest"
	"github.com/jamesainslie/crush/pkg/crush/manifest"
	"github.com/jamesainslie/crush/pkg/crush/optimizer"
	"github.com/jamesainslie/crush/pkg/crush/ownership"
	"github.com/jamesainslie/crush/pkg/crush/scanner"
	"github.com/jamesainslie/crush/pkg/crush/types"
)

var (
	pngData  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR original png payload")
	jpegData = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00 original jpeg payload")
	textData = []byte("just some notes\n")
)

// fakeDispatcher rewrites files with shorter content, or fails for paths in fail.
type fakeDispatcher struct {
	verifyErr error
	fail      map[string]bool
	calls     []string
	after     func(path string)
}

func (f *fakeDispatcher) Verify() error { return f.verifyErr }

func (f *fakeDispatcher) Dispatch(_ context.Context, path string, ct types.ContentType) error {
	f.calls = append(f.calls, filepath.Base(path))
	if f.after != nil {
		defer f.after(path)
	}
	if f.fail[filepath.Base(path)] {
		return &optimizer.OptimizationError{Path: path, Type: ct, Err: errors.New("tool exited 1")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data[:len(data)-4], 0o644)
}

// fakeGuard records restores and can be told to fail them.
type fakeGuard struct {
	restoreErr error
	restored   map[string]ownership.Record
}

func (g *fakeGuard) Snapshot(string) (ownership.Record, error) {
	return ownership.Record{UID: 33, GID: 33}, nil
}

func (g *fakeGuard) Restore(path string, rec ownership.Record) error {
	if g.restoreErr != nil {
		return g.restoreErr
	}
	if g.restored == nil {
		g.restored = make(map[string]ownership.Record)
	}
	g.restored[filepath.Base(path)] = rec
	return nil
}

type harness struct {
	t            *testing.T
	dir          string
	manifestPath string
	dispatcher   *fakeDispatcher
	guard        *fakeGuard
	opts         Options
	euid         int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:            t,
		dir:          t.TempDir(),
		manifestPath: filepath.Join(t.TempDir(), "state", "rev-manifest.json"),
		dispatcher:   &fakeDispatcher{fail: map[string]bool{}},
		guard:        &fakeGuard{},
	}
}

func (h *harness) write(rel string, data []byte) string {
	h.t.Helper()
	path := filepath.Join(h.dir, rel)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(h.t, os.WriteFile(path, data, 0o644))
	return path
}

func (h *harness) engine() *Engine {
	h.t.Helper()
	return h.engineWith(h.dispatcher)
}

func (h *harness) engineWith(d Dispatcher) *Engine {
	h.t.Helper()
	store, err := manifest.NewJSONStore(h.manifestPath)
	require.NoError(h.t, err)
	hasher, err := digest.NewHasher(digest.MD5)
	require.NoError(h.t, err)

	e, err := New(Deps{
		Dispatcher: d,
		Guard:      h.guard,
		Changes:    digest.NewChangeDetector(hasher),
		Store:      store,
		Scanner:    scanner.New(scanner.Options{}),
		EUID:       func() int { return h.euid },
	}, h.opts)
	require.NoError(h.t, err)
	return e
}

func (h *harness) run(items ...types.WorkItem) (*types.RunReport, error) {
	h.t.Helper()
	h.dispatcher.calls = nil
	return h.engine().Run(context.Background(), items)
}

func (h *harness) item(cts ...types.ContentType) types.WorkItem {
	if cts == nil {
		cts = types.SupportedTypes()
	}
	return types.WorkItem{Dir: h.dir, Types: cts, Recursive: true}
}

func (h *harness) manifestEntries() map[string]string {
	h.t.Helper()
	store, err := manifest.NewJSONStore(h.manifestPath)
	require.NoError(h.t, err)
	m, err := store.Load()
	require.NoError(h.t, err)
	return m.Map()
}

func TestRun_WorkedExample(t *testing.T) {
	h := newHarness(t)
	a := h.write("a.png", pngData)
	b := h.write("b.jpg", jpegData)
	h.write("c.txt", textData)

	report, err := h.run(h.item())
	require.NoError(t, err)
	require.Len(t, report.Items, 1)

	ir := report.Items[0]
	assert.Equal(t, 3, ir.Found)
	assert.Equal(t, 2, ir.Optimized)
	assert.Equal(t, 1, ir.Ignored)
	assert.Equal(t, "Optimized 2 images.", report.Summary())
	assert.Equal(t, []string{"a.png", "b.jpg"}, h.dispatcher.calls)
	assert.Equal(t, int64(8), report.BytesSaved())

	entries := h.manifestEntries()
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, a)
	assert.Contains(t, entries, b)

	// Second pass: nothing changed, nothing dispatched.
	report, err = h.run(h.item())
	require.NoError(t, err)
	assert.Equal(t, "Optimized 0 images.", report.Summary())
	assert.Equal(t, 2, report.Items[0].Unchanged)
	assert.Empty(t, h.dispatcher.calls)
}

func TestRun_ChangeSensitivity(t *testing.T) {
	h := newHarness(t)
	a := h.write("a.png", pngData)
	h.write("b.jpg", jpegData)

	_, err := h.run(h.item())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(a, append(append([]byte{}, pngData...), "edited"...), 0o644))

	report, err := h.run(h.item())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Optimized())
	assert.Equal(t, []string{"a.png"}, h.dispatcher.calls)
}

func TestRun_TypeFiltering(t *testing.T) {
	h := newHarness(t)
	h.write("a.png", pngData)
	b := h.write("b.jpg", jpegData)

	report, err := h.run(h.item(types.PNG))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Items[0].Optimized)
	assert.Equal(t, 1, report.Items[0].Ignored)
	assert.Equal(t, []string{"a.png"}, h.dispatcher.calls)
	assert.NotContains(t, h.manifestEntries(), b)
}

func TestRun_ExcludePatterns(t *testing.T) {
	h := newHarness(t)
	h.write("a.png", pngData)
	skipped := h.write("cache/b.png", pngData)
	h.write("c.min.jpg", jpegData)

	item := h.item()
	item.Exclude = []string{"cache/**", "*.min.jpg", "["}
	report, err := h.run(item)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Items[0].Found)
	assert.Equal(t, 1, report.Items[0].Optimized)
	assert.Equal(t, 2, report.Items[0].Ignored)
	assert.Equal(t, []string{"a.png"}, h.dispatcher.calls)
	assert.NotContains(t, h.manifestEntries(), skipped)
	require.Len(t, report.Items[0].Warnings, 1)
	assert.Contains(t, report.Items[0].Warnings[0], "invalid pattern")
}

func TestRun_Recursion(t *testing.T) {
	h := newHarness(t)
	h.write("top.png", pngData)
	h.write("nested/deep.png", pngData)

	flat := h.item()
	flat.Recursive = false
	report, err := h.run(flat)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Items[0].Found)
	assert.Equal(t, []string{"top.png"}, h.dispatcher.calls)

	report, err = h.run(h.item())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Items[0].Found)
	assert.Equal(t, []string{"deep.png"}, h.dispatcher.calls)
}

func TestRun_FailureIsolation(t *testing.T) {
	h := newHarness(t)
	a := h.write("a.png", pngData)
	b := h.write("b.png", pngData)
	c := h.write("c.png", pngData)
	h.dispatcher.fail["b.png"] = true

	report, err := h.run(h.item())
	require.NoError(t, err)
	ir := report.Items[0]
	assert.Equal(t, 2, ir.Optimized)
	assert.Equal(t, 1, ir.Failed)
	assert.Equal(t, []string{"a.png", "b.png", "c.png"}, h.dispatcher.calls)

	var failed []types.FileOutcome
	for _, o := range ir.Outcomes {
		if o.Status == types.StatusFailed {
			failed = append(failed, o)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, b, failed[0].Path)
	assert.Contains(t, failed[0].Error, "tool exited 1")

	entries := h.manifestEntries()
	assert.Contains(t, entries, a)
	assert.Contains(t, entries, c)
	assert.NotContains(t, entries, b)

	// The failed file is retried on the next run.
	delete(h.dispatcher.fail, "b.png")
	report, err = h.run(h.item())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Optimized())
	assert.Equal(t, []string{"b.png"}, h.dispatcher.calls)
}

func TestRun_OwnershipRestored(t *testing.T) {
	h := newHarness(t)
	h.write("a.png", pngData)

	_, err := h.run(h.item())
	require.NoError(t, err)
	assert.Equal(t, ownership.Record{UID: 33, GID: 33}, h.guard.restored["a.png"])
}

func TestRun_OwnershipRestoreFailureIsOnlyAWarning(t *testing.T) {
	h := newHarness(t)
	a := h.write("a.png", pngData)
	h.guard.restoreErr = errors.New("operation not permitted")

	report, err := h.run(h.item())
	require.NoError(t, err)
	ir := report.Items[0]
	assert.Equal(t, 1, ir.Optimized)
	require.Len(t, ir.Outcomes, 1)
	assert.Contains(t, ir.Outcomes[0].Warning, "operation not permitted")
	assert.Contains(t, h.manifestEntries(), a)
}

func TestRun_CorruptManifest(t *testing.T) {
	t.Run("reset by default", func(t *testing.T) {
		h := newHarness(t)
		h.write("a.png", pngData)
		require.NoError(t, os.MkdirAll(filepath.Dir(h.manifestPath), 0o755))
		require.NoError(t, os.WriteFile(h.manifestPath, []byte(`{"broken`), 0o644))

		report, err := h.run(h.item())
		require.NoError(t, err)
		assert.True(t, report.ManifestReset)
		assert.Equal(t, 1, report.Optimized())
		assert.Len(t, h.manifestEntries(), 1)
	})

	t.Run("strict aborts", func(t *testing.T) {
		h := newHarness(t)
		h.write("a.png", pngData)
		h.opts.StrictManifest = true
		require.NoError(t, os.MkdirAll(filepath.Dir(h.manifestPath), 0o755))
		require.NoError(t, os.WriteFile(h.manifestPath, []byte(`{"broken`), 0o644))

		e := h.engine()
		_, err := e.Run(context.Background(), []types.WorkItem{h.item()})
		var ioErr *manifest.IOError
		require.ErrorAs(t, err, &ioErr)
		assert.ErrorIs(t, err, manifest.ErrCorrupt)
		assert.Equal(t, StateAborted, e.State())
		assert.Empty(t, h.dispatcher.calls)

		data, err := os.ReadFile(h.manifestPath)
		require.NoError(t, err)
		assert.Equal(t, `{"broken`, string(data), "strict mode must leave the manifest alone")
	})
}

func TestRun_Preconditions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{
			name: "missing tool",
			setup: func(h *harness) {
				h.dispatcher.verifyErr = &optimizer.PreconditionError{
					Missing: []optimizer.Status{{Name: "optipng", Detail: `binary "optipng" not found`}},
				}
			},
		},
		{
			name: "not root",
			setup: func(h *harness) {
				h.opts.RequireRoot = true
				h.euid = 1000
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.write("a.png", pngData)
			tt.setup(h)

			e := h.engine()
			report, err := e.Run(context.Background(), []types.WorkItem{h.item()})
			var pre *PreconditionError
			require.ErrorAs(t, err, &pre)
			assert.Equal(t, StateAborted, e.State())
			assert.Empty(t, report.Items)
			assert.Empty(t, h.dispatcher.calls)

			_, statErr := os.Stat(h.manifestPath)
			assert.True(t, os.IsNotExist(statErr), "manifest must not be touched")
		})
	}
}

func TestRun_RootAllowed(t *testing.T) {
	h := newHarness(t)
	h.write("a.png", pngData)
	h.opts.RequireRoot = true
	h.euid = 0

	report, err := h.run(h.item())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Optimized())
}

func TestRun_LockHeld(t *testing.T) {
	h := newHarness(t)
	h.write("a.png", pngData)
	require.NoError(t, os.MkdirAll(filepath.Dir(h.manifestPath), 0o755))

	other := flock.New(h.manifestPath + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = other.Unlock() }()

	_, err = h.run(h.item())
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, err.Error(), "lock")
	assert.Empty(t, h.dispatcher.calls)
}

func TestRun_Cancellation(t *testing.T) {
	h := newHarness(t)
	a := h.write("a.png", pngData)
	h.write("b.png", pngData)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.dispatcher.after = func(string) { cancel() }

	report, err := h.engine().Run(ctx, []types.WorkItem{h.item()})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Interrupted)
	assert.Equal(t, []string{"a.png"}, h.dispatcher.calls)

	entries := h.manifestEntries()
	assert.Equal(t, []string{a}, keys(entries), "completed work is saved on cancellation")
}

// slowDispatcher cancels the run while the first file is being rewritten.
type slowDispatcher struct {
	cancel   context.CancelFunc
	ctxErr   error
	finished []string
}

func (d *slowDispatcher) Verify() error { return nil }

func (d *slowDispatcher) Dispatch(ctx context.Context, path string, _ types.ContentType) error {
	d.cancel()
	select {
	case <-ctx.Done():
		d.ctxErr = ctx.Err()
		return ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	d.finished = append(d.finished, filepath.Base(path))
	return os.WriteFile(path, []byte("optimized"), 0o644)
}

func TestRun_CancellationLetsToolFinish(t *testing.T) {
	h := newHarness(t)
	a := h.write("a.png", pngData)
	h.write("b.png", pngData)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &slowDispatcher{cancel: cancel}

	report, err := h.engineWith(d).Run(ctx, []types.WorkItem{h.item()})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Interrupted)
	assert.NoError(t, d.ctxErr, "tool context must not be cancelled mid-rewrite")
	assert.Equal(t, []string{"a.png"}, d.finished)

	data, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "optimized", string(data))
	assert.Equal(t, []string{a}, keys(h.manifestEntries()))
}

func TestRun_DryRun(t *testing.T) {
	h := newHarness(t)
	h.write("a.png", pngData)
	h.write("b.txt", textData)
	h.opts.DryRun = true

	report, err := h.run(h.item())
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Items[0].Pending)
	assert.Equal(t, 0, report.Optimized())
	assert.Empty(t, h.dispatcher.calls)

	_, statErr := os.Stat(h.manifestPath)
	assert.True(t, os.IsNotExist(statErr), "dry run records nothing")
}

func TestRun_AccessErrorStopsAfterSaving(t *testing.T) {
	h := newHarness(t)
	a := h.write("a.png", pngData)
	missing := types.WorkItem{Dir: filepath.Join(h.dir, "missing"), Types: types.SupportedTypes(), Recursive: true}
	later := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(later, "z.png"), pngData, 0o644))
	laterItem := types.WorkItem{Dir: later, Types: types.SupportedTypes(), Recursive: true}

	e := h.engine()
	report, err := e.Run(context.Background(), []types.WorkItem{h.item(), missing, laterItem})

	var accessErr *scanner.AccessError
	require.ErrorAs(t, err, &accessErr)
	assert.Equal(t, StateAborted, e.State())
	assert.Equal(t, 1, report.Optimized())
	assert.Equal(t, []string{"a.png"}, h.dispatcher.calls, "later items are not processed")
	assert.Equal(t, []string{a}, keys(h.manifestEntries()))
}

func TestRun_InertItemSkipped(t *testing.T) {
	h := newHarness(t)
	h.write("a.png", pngData)

	inert := h.item()
	inert.Types = []types.ContentType{}

	report, err := h.run(inert)
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.True(t, report.Items[0].Skipped)
	assert.Equal(t, 0, report.Items[0].Found)
	assert.Empty(t, h.dispatcher.calls)
}

func TestRun_EmptyDirectory(t *testing.T) {
	h := newHarness(t)

	report, err := h.run(h.item())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Found())
	assert.Equal(t, "Optimized 0 images.", report.Summary())
}

func TestRun_StatesAndProgress(t *testing.T) {
	h := newHarness(t)
	h.write("a.png", pngData)
	h.write("b.txt", textData)

	var states []State
	var phases []types.Phase
	h.opts.OnState = func(s State) { states = append(states, s) }
	h.opts.OnProgress = func(p types.Progress) { phases = append(phases, p.Phase) }

	_, err := h.run(h.item())
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateToolsChecked,
		StatePrivilegeChecked,
		StateManifestLoaded,
		StateScanning,
		StateFiltering,
		StateOptimizing,
		StateFiltering,
		StateManifestSaved,
		StateDone,
	}, states)
	assert.Equal(t, []types.Phase{
		types.PhaseScanning,
		types.PhaseOptimizing,
		types.PhaseOptimizing,
		types.PhaseItemDone,
	}, phases)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "manifest_loaded", StateManifestLoaded.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StateScanning.Terminal())
}

func TestNewRunID(t *testing.T) {
	id := NewRunID(time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^run-20260301T123000Z-[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewRunID(time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)))
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
