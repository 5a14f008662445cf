package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/crush/pkg/crush/types"
)

func report(id string, started time.Time, optimized int) *types.RunReport {
	return &types.RunReport{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Items: []types.ItemReport{{
			Item:        types.WorkItem{Dir: "/srv/img", Types: types.SupportedTypes(), Recursive: true},
			Found:       optimized,
			Optimized:   optimized,
			BytesBefore: 1000,
			BytesAfter:  600,
		}},
	}
}

func TestNew_EmptyDir(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestRecordAndGet(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "history"))
	require.NoError(t, err)

	r := report("run-1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), 3)
	require.NoError(t, s.Record(r))

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, 3, got.Optimized())
	assert.True(t, r.StartedAt.Equal(got.StartedAt))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestGet_Errors(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get("run-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get("../escape")
	assert.Error(t, err)

	_, err = s.Get("")
	assert.Error(t, err)
}

func TestRecord_RequiresID(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Record(&types.RunReport{}))
}

func TestList(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Record(report("run-a", base, 1)))
	require.NoError(t, s.Record(report("run-c", base.Add(2*time.Hour), 3)))
	require.NoError(t, s.Record(report("run-b", base.Add(time.Hour), 2)))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "junk.json"), []byte("{"), 0o644))

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-c", all[0].ID)
	assert.Equal(t, "run-b", all[1].ID)
	assert.Equal(t, "run-a", all[2].ID)
	assert.Equal(t, 3, all[0].Optimized)
	assert.Equal(t, int64(400), all[0].BytesSaved)

	limited, err := s.List(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "run-c", limited[0].ID)
}

func TestList_MissingDir(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)

	list, err := s.List(10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCleanup(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.Record(report("run-old", now.AddDate(0, 0, -40), 1)))
	require.NoError(t, s.Record(report("run-new", now, 1)))

	old := filepath.Join(s.Dir(), "run-old.json")
	past := now.AddDate(0, 0, -40)
	require.NoError(t, os.Chtimes(old, past, past))

	removed, err := s.Cleanup(30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	list, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "run-new", list[0].ID)
}
