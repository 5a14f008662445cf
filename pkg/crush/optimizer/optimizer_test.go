package optimizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/crush/pkg/crush/types"
)

// writeStub creates an executable shell script in dir and returns its path.
func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestDispatch_DefaultArguments(t *testing.T) {
	bin := t.TempDir()
	argsFile := filepath.Join(bin, "args")
	png := writeStub(t, bin, "optipng", `echo "$@" >> `+argsFile)
	jpeg := writeStub(t, bin, "jpegoptim", `echo "$@" >> `+argsFile)

	d := New(Config{PNG: png, JPEG: jpeg, Timeout: time.Minute})
	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, "/img/a.png", types.PNG))
	require.NoError(t, d.Dispatch(ctx, "/img/b.jpg", types.JPEG))

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "-o7 -silent /img/a.png\n--strip-all /img/b.jpg\n", string(data))
}

func TestDispatch_NonZeroExit(t *testing.T) {
	bin := t.TempDir()
	png := writeStub(t, bin, "optipng", `echo "not a PNG file" >&2; exit 1`)

	d := New(Config{PNG: png, JPEG: "jpegoptim"})
	err := d.Dispatch(context.Background(), "/img/a.png", types.PNG)

	var optErr *OptimizationError
	require.ErrorAs(t, err, &optErr)
	assert.Equal(t, "/img/a.png", optErr.Path)
	assert.Equal(t, types.PNG, optErr.Type)
	assert.Contains(t, err.Error(), "not a PNG file")
}

func TestDispatch_OutputIsNotParsed(t *testing.T) {
	bin := t.TempDir()
	jpeg := writeStub(t, bin, "jpegoptim", `echo "ERROR: everything failed"; exit 0`)

	d := New(Config{JPEG: jpeg})
	assert.NoError(t, d.Dispatch(context.Background(), "/img/a.jpg", types.JPEG))
}

func TestDispatch_Timeout(t *testing.T) {
	bin := t.TempDir()
	png := writeStub(t, bin, "optipng", `exec sleep 5`)

	d := New(Config{PNG: png, Timeout: 50 * time.Millisecond})
	err := d.Dispatch(context.Background(), "/img/a.png", types.PNG)

	var optErr *OptimizationError
	require.ErrorAs(t, err, &optErr)
	assert.Contains(t, err.Error(), "timed out")
}

func TestDispatch_NoAction(t *testing.T) {
	d := NewEmpty()
	err := d.Dispatch(context.Background(), "/img/a.gif", "image/gif")
	assert.ErrorIs(t, err, ErrNoAction)
}

func TestWithAction(t *testing.T) {
	boom := errors.New("boom")
	var got []string

	d := NewEmpty().
		WithAction(types.PNG, func(_ context.Context, path string) error {
			got = append(got, path)
			return nil
		}).
		WithAction(types.JPEG, func(context.Context, string) error { return boom })

	require.NoError(t, d.Dispatch(context.Background(), "/a.png", types.PNG))
	assert.Equal(t, []string{"/a.png"}, got)

	err := d.Dispatch(context.Background(), "/b.jpg", types.JPEG)
	assert.ErrorIs(t, err, boom)
	assert.True(t, d.Supports(types.PNG))
	assert.False(t, d.Supports("image/gif"))

	// Fakes have no binaries to verify.
	assert.NoError(t, d.Verify())
}

func TestVerify(t *testing.T) {
	bin := t.TempDir()
	png := writeStub(t, bin, "optipng", "exit 0")

	tests := []struct {
		name    string
		jpeg    string
		missing []string
	}{
		{name: "all present", jpeg: writeStub(t, bin, "jpegoptim", "exit 0")},
		{name: "jpeg missing", jpeg: "clearly-not-present-jpegoptim", missing: []string{"jpegoptim"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(Config{PNG: png, JPEG: tt.jpeg}).Verify()
			if tt.missing == nil {
				assert.NoError(t, err)
				return
			}

			var pre *PreconditionError
			require.ErrorAs(t, err, &pre)
			var names []string
			for _, s := range pre.Missing {
				names = append(names, s.Name)
			}
			assert.Equal(t, tt.missing, names)
			assert.True(t, strings.Contains(err.Error(), tt.jpeg))
		})
	}
}

func TestCheckBinaries(t *testing.T) {
	bin := t.TempDir()
	present := writeStub(t, bin, "present", "exit 0")

	results := CheckBinaries([]Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	})
	require.Len(t, results, 3)

	assert.True(t, results[0].Available)
	assert.Equal(t, present, results[0].Path)
	assert.Empty(t, results[0].Detail)

	assert.False(t, results[1].Available)
	assert.Contains(t, results[1].Detail, "not found")

	assert.False(t, results[2].Available)
	assert.Equal(t, "command not configured", results[2].Detail)
}
