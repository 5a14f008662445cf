package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"

	"github.com/jamesainslie/crush/pkg/crush/resolver"
	"github.com/jamesainslie/crush/pkg/crush/types"
)

// isolate points HOME and the XDG directories at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_STATE_HOME", filepath.Join(tempDir, "state"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tempDir, "data"))
	xdg.Reload()
	t.Cleanup(xdg.Reload)
	return tempDir
}

func TestLoad_Defaults(t *testing.T) {
	tempDir := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Tools.PNG != DefaultPNGTool {
		t.Errorf("Tools.PNG = %q, want %q", cfg.Tools.PNG, DefaultPNGTool)
	}
	if cfg.Tools.JPEG != DefaultJPEGTool {
		t.Errorf("Tools.JPEG = %q, want %q", cfg.Tools.JPEG, DefaultJPEGTool)
	}
	if cfg.Tools.Timeout != DefaultToolTimeout {
		t.Errorf("Tools.Timeout = %v, want %v", cfg.Tools.Timeout, DefaultToolTimeout)
	}
	if !cfg.RequireRoot {
		t.Error("RequireRoot = false, want true")
	}
	if cfg.Hash.Algorithm != DefaultHashAlgorithm {
		t.Errorf("Hash.Algorithm = %q, want %q", cfg.Hash.Algorithm, DefaultHashAlgorithm)
	}
	if cfg.Manifest.Backend != DefaultManifestBackend {
		t.Errorf("Manifest.Backend = %q, want %q", cfg.Manifest.Backend, DefaultManifestBackend)
	}
	wantManifest := filepath.Join(tempDir, "state", "crush", DefaultManifestFile)
	if cfg.Manifest.Path != wantManifest {
		t.Errorf("Manifest.Path = %q, want %q", cfg.Manifest.Path, wantManifest)
	}
	if cfg.Manifest.Strict {
		t.Error("Manifest.Strict = true, want false")
	}
	if !cfg.History.Enabled {
		t.Error("History.Enabled = false, want true")
	}
	if cfg.History.RetentionDays != DefaultRetentionDays {
		t.Errorf("History.RetentionDays = %d, want %d", cfg.History.RetentionDays, DefaultRetentionDays)
	}
	if cfg.Watch.Debounce != DefaultWatchDebounce {
		t.Errorf("Watch.Debounce = %v, want %v", cfg.Watch.Debounce, DefaultWatchDebounce)
	}
}

func TestLoad_FromFile(t *testing.T) {
	tempDir := isolate(t)
	configDir := filepath.Join(tempDir, ".config", "crush")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	configContent := `
dirs:
  - /var/www/images
  - /var/www/uploads:
      types: ["image/png"]
      recursive: false
tools:
  png: /opt/bin/optipng
  timeout: 30s
require_root: false
hash:
  algorithm: blake3
manifest:
  backend: badger
  path: ~/manifest.db
  strict: true
`
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	dirs, ok := cfg.Dirs.([]any)
	if !ok {
		t.Fatalf("Dirs type = %T, want []any", cfg.Dirs)
	}
	if len(dirs) != 2 {
		t.Errorf("len(Dirs) = %d, want 2", len(dirs))
	}
	if cfg.Tools.PNG != "/opt/bin/optipng" {
		t.Errorf("Tools.PNG = %q", cfg.Tools.PNG)
	}
	if cfg.Tools.JPEG != DefaultJPEGTool {
		t.Errorf("Tools.JPEG = %q, want default", cfg.Tools.JPEG)
	}
	if cfg.Tools.Timeout != 30*time.Second {
		t.Errorf("Tools.Timeout = %v, want 30s", cfg.Tools.Timeout)
	}
	if cfg.RequireRoot {
		t.Error("RequireRoot = true, want false")
	}
	if cfg.Hash.Algorithm != "blake3" {
		t.Errorf("Hash.Algorithm = %q, want blake3", cfg.Hash.Algorithm)
	}
	if cfg.Manifest.Backend != "badger" || !cfg.Manifest.Strict {
		t.Errorf("Manifest = %+v", cfg.Manifest)
	}
	if want := filepath.Join(tempDir, "manifest.db"); cfg.Manifest.Path != want {
		t.Errorf("Manifest.Path = %q, want %q", cfg.Manifest.Path, want)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("CRUSH_TOOLS_JPEG", "/usr/local/bin/jpegoptim")
	t.Setenv("CRUSH_REQUIRE_ROOT", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Tools.JPEG != "/usr/local/bin/jpegoptim" {
		t.Errorf("Tools.JPEG = %q", cfg.Tools.JPEG)
	}
	if cfg.RequireRoot {
		t.Error("RequireRoot = true, want false from env")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	isolate(t)
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadFile() error = nil for a missing explicit file")
	}
}

func TestLoadFile_Explicit(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("dry_run: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if !cfg.DryRun {
		t.Error("DryRun = false, want true")
	}
}

func TestLoadFile_DirsKeepCase(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	content := `
dirs:
  - /srv/Public/Images
  - /srv/Uploads/Avatars:
      types: [image/png]
      recursive: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	items := resolver.Resolve(cfg.Dirs)
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2: %+v", len(items), items)
	}
	if items[0].Dir != "/srv/Public/Images" {
		t.Errorf("items[0].Dir = %q, want /srv/Public/Images", items[0].Dir)
	}
	if items[1].Dir != "/srv/Uploads/Avatars" {
		t.Errorf("items[1].Dir = %q, want /srv/Uploads/Avatars", items[1].Dir)
	}
	if items[1].Recursive {
		t.Error("items[1].Recursive = true, want false")
	}
	if len(items[1].Types) != 1 || items[1].Types[0] != types.PNG {
		t.Errorf("items[1].Types = %v, want [image/png]", items[1].Types)
	}
}

func TestLoadFile_TopLevelMappingKeepsCase(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	content := "dirs:\n  /srv/Media/Thumbs:\n    recursive: false\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	items := resolver.Resolve(cfg.Dirs)
	if len(items) != 1 || items[0].Dir != "/srv/Media/Thumbs" {
		t.Errorf("items = %+v, want one item for /srv/Media/Thumbs", items)
	}
}

func TestWriteDefault(t *testing.T) {
	tempDir := isolate(t)

	if err := WriteDefault(); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	path := filepath.Join(tempDir, ".config", "crush", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(string(data), "optipng") {
		t.Error("default config does not mention optipng")
	}

	// Existing files are left alone.
	if err := os.WriteFile(path, []byte("dry_run: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteDefault(); err != nil {
		t.Fatalf("second WriteDefault() error = %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "dry_run: true\n" {
		t.Error("WriteDefault() overwrote an existing config")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.DryRun {
		t.Error("DryRun = false after reading written config")
	}
}

func TestExpandPath(t *testing.T) {
	tempDir := isolate(t)

	tests := []struct {
		in   string
		want string
	}{
		{"~/images", filepath.Join(tempDir, "images")},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
	}
	for _, tt := range tests {
		got, err := ExpandPath(tt.in)
		if err != nil {
			t.Fatalf("ExpandPath(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
