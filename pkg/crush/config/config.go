package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// ToolsConfig names the external optimizer binaries.
type ToolsConfig struct {
	PNG     string        `mapstructure:"png"`
	JPEG    string        `mapstructure:"jpeg"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ManifestConfig configures change-detection state.
type ManifestConfig struct {
	Backend string `mapstructure:"backend"` // json or badger
	Path    string `mapstructure:"path"`

	// Strict aborts the run on an unreadable manifest instead of resetting it.
	Strict bool `mapstructure:"strict"`
}

// HistoryConfig configures the per-run history log.
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Config represents the application configuration.
type Config struct {
	// Dirs is the raw directory specification. Its shape is interpreted by
	// the resolver package.
	Dirs any `mapstructure:"dirs"`

	Tools       ToolsConfig `mapstructure:"tools"`
	RequireRoot bool        `mapstructure:"require_root"`
	DryRun      bool        `mapstructure:"dry_run"`
	Hash        struct {
		Algorithm string `mapstructure:"algorithm"`
	} `mapstructure:"hash"`
	Manifest ManifestConfig `mapstructure:"manifest"`
	History  HistoryConfig  `mapstructure:"history"`
	Watch    struct {
		Debounce time.Duration `mapstructure:"debounce"`
	} `mapstructure:"watch"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Load loads configuration from file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/crush/config.yaml
//   - $HOME/.config/crush/config.yaml
//
// Environment variables are prefixed with CRUSH_ (e.g., CRUSH_TOOLS_PNG).
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from an explicit file. An empty path falls
// back to the search locations used by Load.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, "crush"))
		}
		v.AddConfigPath(filepath.Join(homeDir, ".config", "crush"))
	}

	v.SetEnvPrefix("CRUSH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if used := v.ConfigFileUsed(); used != "" && os.Getenv("CRUSH_DIRS") == "" {
		dirs, ok, err := readDirs(used)
		if err != nil {
			return nil, err
		}
		if ok {
			cfg.Dirs = dirs
		}
	}

	for _, p := range []*string{&cfg.Manifest.Path, &cfg.History.Path, &cfg.Logging.Path} {
		if strings.HasPrefix(*p, "~") {
			*p = filepath.Join(homeDir, (*p)[1:])
		}
	}

	return &cfg, nil
}

// readDirs decodes the dirs node straight from a YAML config file. Viper
// lower-cases every map key, and directory paths used as keys must keep
// their case.
func readDirs(path string) (any, bool, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return nil, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read config file: %w", err)
	}

	var doc struct {
		Dirs any `yaml:"dirs"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("failed to parse dirs: %w", err)
	}
	if doc.Dirs == nil {
		return nil, false, nil
	}
	return doc.Dirs, true, nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("dirs", DefaultDirs)
	v.SetDefault("tools.png", DefaultPNGTool)
	v.SetDefault("tools.jpeg", DefaultJPEGTool)
	v.SetDefault("tools.timeout", DefaultToolTimeout)
	v.SetDefault("require_root", true)
	v.SetDefault("dry_run", false)
	v.SetDefault("hash.algorithm", DefaultHashAlgorithm)
	v.SetDefault("manifest.backend", DefaultManifestBackend)
	v.SetDefault("manifest.path", DefaultManifestPath())
	v.SetDefault("manifest.strict", false)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", HistoryDir())
	v.SetDefault("history.retention_days", DefaultRetentionDays)
	v.SetDefault("watch.debounce", DefaultWatchDebounce)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"engine":    "info",
		"scanner":   "info",
		"optimizer": "info",
		"manifest":  "info",
		"watcher":   "warn",
	})
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "crush"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "crush"), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}

// WriteDefault writes a default config file if none exists.
// Returns nil if a config file already exists.
func WriteDefault() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	configPath, err := ConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# Crush Image Optimizer Configuration

# Directories to optimize. Each entry is either a bare path (all supported
# types, recursive) or a single-key mapping with options.
dirs:
  # - /var/www/public/images
  # - /var/www/public/uploads:
  #     types: ["image/png"]
  #     recursive: false
  #     exclude: ["*.min.png", "cache/**"]

# External optimizer binaries
tools:
  png: %s
  jpeg: %s
  timeout: %s

# Refuse to run unless the effective user is root
require_root: true

# Content digest used for change detection: md5, sha256, blake3
hash:
  algorithm: %s

# Change-detection manifest
manifest:
  # json (single file) or badger (embedded key/value store)
  backend: %s
  path: %s
  # Abort instead of resetting when the manifest cannot be read
  strict: false

# Per-run history records
history:
  enabled: true
  path: %s
  retention_days: %d

# crush watch settings
watch:
  debounce: %s

# Logging configuration
logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/crush/crush.log)
  path: ""
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  components:
    engine: info
    scanner: info
    optimizer: info
    manifest: info
    watcher: warn
`, DefaultPNGTool, DefaultJPEGTool, DefaultToolTimeout, DefaultHashAlgorithm,
		DefaultManifestBackend, DefaultManifestPath(), HistoryDir(), DefaultRetentionDays,
		DefaultWatchDebounce)

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/crush/ for run history.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "crush")
}

// StateDir returns $XDG_STATE_HOME/crush/ for the manifest and log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "crush")
}

// DefaultManifestPath returns the default manifest file path.
func DefaultManifestPath() string {
	return filepath.Join(StateDir(), DefaultManifestFile)
}

// HistoryDir returns the default run history directory.
func HistoryDir() string {
	return filepath.Join(DataDir(), "history")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "crush.log")
}

// EnsureStateDir creates the state directory if it doesn't exist.
func EnsureStateDir() error {
	if err := os.MkdirAll(StateDir(), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return nil
}
