package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	const root = "/srv/img"

	tests := []struct {
		name    string
		include []string
		exclude []string
		path    string
		want    bool
	}{
		{"no patterns", nil, nil, "/srv/img/a.png", true},
		{"exclude by name at depth", nil, []string{"*.min.png"}, "/srv/img/x/y/a.min.png", false},
		{"exclude by name keeps others", nil, []string{"*.min.png"}, "/srv/img/a.png", true},
		{"exclude directory tree", nil, []string{"cache/**"}, "/srv/img/cache/t/a.png", false},
		{"star stays in segment", nil, []string{"cache/*"}, "/srv/img/cache/t/a.png", true},
		{"include requires match", []string{"uploads/**"}, nil, "/srv/img/static/a.png", false},
		{"include matches", []string{"uploads/**"}, nil, "/srv/img/uploads/2024/a.png", true},
		{"exclude wins over include", []string{"uploads/**"}, []string{"*.tmp.png"}, "/srv/img/uploads/a.tmp.png", false},
		{"braces", nil, []string{"*.{gif,bmp}.png"}, "/srv/img/a.gif.png", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(WithInclude(tt.include...), WithExclude(tt.exclude...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(root, tt.path))
		})
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	f, err := New(WithExclude("[", "*.min.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid pattern "["`)

	// The valid pattern still applies.
	assert.False(t, f.Match("/r", "/r/a.min.png"))
	assert.True(t, f.Match("/r", "/r/a.png"))
}

func TestEmpty(t *testing.T) {
	var nilFilter *Filter
	assert.True(t, nilFilter.Empty())
	assert.True(t, nilFilter.Match("/r", "/r/a.png"))

	f, err := New(WithExclude("  "))
	require.NoError(t, err)
	assert.True(t, f.Empty())
}
