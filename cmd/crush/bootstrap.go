package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/crush/pkg/crush/config"
	"github.com/jamesainslie/crush/pkg/crush/logging"
	"github.com/jamesainslie/crush/pkg/crush/types"
)

// initializeLogging prepares the XDG directories and starts file logging.
// It runs before every command. A broken config falls back to default
// logging so that `crush config` subcommands still work.
func initializeLogging(_ *cobra.Command, _ []string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	if err := os.MkdirAll(config.DataDir(), 0o755); err != nil {
		return err
	}
	if err := config.EnsureStateDir(); err != nil {
		return err
	}

	c, err := loadedConfig()
	if err != nil {
		printVerbose("%v; using default logging", err)
		return logging.Init(logging.Config{Level: "info", ConsoleLevel: consoleLevel()})
	}
	return logging.Init(loggingConfig(c, false))
}

// initTUILogging re-initializes logging with console output disabled.
func initTUILogging(c *config.Config) error {
	return logging.Init(loggingConfig(c, true))
}

func loggingConfig(c *config.Config, tui bool) logging.Config {
	path := c.Logging.Path
	if path == "" {
		path = config.DefaultLogPath()
	}
	return logging.Config{
		Level:        c.Logging.Level,
		Path:         path,
		Rotation:     parseRotationConfig(c.Logging.Rotation),
		Components:   c.Logging.Components,
		ConsoleLevel: consoleLevel(),
		TUIMode:      tui,
	}
}

// consoleLevel mirrors warnings to stderr, or everything with --verbose.
func consoleLevel() string {
	switch {
	case getQuiet():
		return "error"
	case getVerbose():
		return "debug"
	default:
		return "warn"
	}
}

// parseRotationConfig converts the configured rotation settings. An empty
// or invalid max_size falls back to the default.
func parseRotationConfig(rc config.RotationConfig) logging.RotationConfig {
	out := logging.RotationConfig{
		MaxSize:    logging.DefaultRotationConfig().MaxSize,
		MaxAge:     rc.MaxAge,
		MaxBackups: rc.MaxBackups,
		Daily:      rc.Daily,
	}
	if rc.MaxSize != "" {
		if size, err := types.ParseSize(rc.MaxSize); err == nil && size > 0 {
			out.MaxSize = size
		}
	}
	return out
}
