package resolver

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/crush/pkg/crush/types"
)

var allTypes = []types.ContentType{types.PNG, types.JPEG}

func TestResolve_Shapes(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want []types.WorkItem
	}{
		{
			name: "nil",
			raw:  nil,
			want: nil,
		},
		{
			name: "bare path",
			raw:  []any{"/assets"},
			want: []types.WorkItem{{Dir: "/assets", Types: allTypes, Recursive: true}},
		},
		{
			name: "png only non-recursive",
			raw: []any{map[string]any{
				"/assets/icons": map[string]any{"types": []any{"image/png"}, "recursive": false},
			}},
			want: []types.WorkItem{{Dir: "/assets/icons", Types: []types.ContentType{types.PNG}}},
		},
		{
			name: "unsupported types silently dropped",
			raw: []any{map[string]any{
				"/a": map[string]any{"types": []any{"image/gif", "image/jpeg", "image/webp"}},
			}},
			want: []types.WorkItem{{Dir: "/a", Types: []types.ContentType{types.JPEG}, Recursive: true}},
		},
		{
			name: "all types unsupported yields inert item",
			raw: []any{map[string]any{
				"/a": map[string]any{"types": []any{"image/gif"}},
			}},
			want: []types.WorkItem{{Dir: "/a", Types: []types.ContentType{}, Recursive: true}},
		},
		{
			name: "recursive not a bool defaults to true",
			raw: []any{map[string]any{
				"/a": map[string]any{"recursive": "no"},
			}},
			want: []types.WorkItem{{Dir: "/a", Types: allTypes, Recursive: true}},
		},
		{
			name: "types not a list selects all",
			raw: []any{map[string]any{
				"/a": map[string]any{"types": "image/png"},
			}},
			want: []types.WorkItem{{Dir: "/a", Types: allTypes, Recursive: true}},
		},
		{
			name: "options not a mapping degrade to defaults",
			raw:  []any{map[string]any{"/a": 42}},
			want: []types.WorkItem{{Dir: "/a", Types: allTypes, Recursive: true}},
		},
		{
			name: "duplicate types collapse",
			raw: []any{map[string]any{
				"/a": map[string]any{"types": []any{"image/png", "image/png"}},
			}},
			want: []types.WorkItem{{Dir: "/a", Types: []types.ContentType{types.PNG}, Recursive: true}},
		},
		{
			name: "top-level mapping sorted by key",
			raw: map[string]any{
				"/b": nil,
				"/a": map[string]any{"recursive": false},
			},
			want: []types.WorkItem{
				{Dir: "/a", Types: allTypes, Recursive: false},
				{Dir: "/b", Types: allTypes, Recursive: true},
			},
		},
		{
			name: "yaml v2 style interface keys",
			raw: []any{map[any]any{
				"/a": map[any]any{"types": []any{"image/jpeg"}},
			}},
			want: []types.WorkItem{{Dir: "/a", Types: []types.ContentType{types.JPEG}, Recursive: true}},
		},
		{
			name: "comma separated env string",
			raw:  "/a, /b",
			want: []types.WorkItem{
				{Dir: "/a", Types: allTypes, Recursive: true},
				{Dir: "/b", Types: allTypes, Recursive: true},
			},
		},
		{
			name: "string slice",
			raw:  []string{"/a/../c/"},
			want: []types.WorkItem{{Dir: "/c", Types: allTypes, Recursive: true}},
		},
		{
			name: "empty and malformed entries dropped",
			raw:  []any{"", 17, nil, "  "},
			want: nil,
		},
		{
			name: "unexpected top-level type",
			raw:  42,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.raw))
		})
	}
}

func TestResolve_PreservesOrder(t *testing.T) {
	items := Resolve([]any{"/z", "/a", map[string]any{"/m": nil}})
	require.Len(t, items, 3)
	assert.Equal(t, "/z", items[0].Dir)
	assert.Equal(t, "/a", items[1].Dir)
	assert.Equal(t, "/m", items[2].Dir)
}

func TestResolve_RelativeAndHomePaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	items := Resolve([]any{"~/images", "rel/dir"})
	require.Len(t, items, 2)
	assert.Equal(t, filepath.Join(home, "images"), items[0].Dir)
	assert.True(t, filepath.IsAbs(items[1].Dir))
	assert.Equal(t, "dir", filepath.Base(items[1].Dir))
}

func TestFromPaths(t *testing.T) {
	items := FromPaths([]string{"/a", "/b"}, []string{"image/png", "image/tiff"}, false)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, []types.ContentType{types.PNG}, it.Types)
		assert.False(t, it.Recursive)
	}

	all := FromPaths([]string{"/a"}, nil, true)
	require.Len(t, all, 1)
	assert.Equal(t, allTypes, all[0].Types)
	assert.True(t, all[0].Recursive)
}

func TestResolve_Patterns(t *testing.T) {
	raw := []any{
		map[string]any{"/srv/img": map[string]any{
			"exclude": []any{"cache/**", "*.min.png"},
			"include": "uploads/**",
		}},
	}

	items := Resolve(raw)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"cache/**", "*.min.png"}, items[0].Exclude)
	assert.Equal(t, []string{"uploads/**"}, items[0].Include)

	plain := Resolve("/srv/img")
	require.Len(t, plain, 1)
	assert.Nil(t, plain[0].Exclude)
}
