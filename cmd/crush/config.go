package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/crush/pkg/crush/config"
	"github.com/jamesainslie/crush/pkg/crush/resolver"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage crush configuration settings.

Configuration is loaded from:
  1. --config <file> (if given)
  2. $XDG_CONFIG_HOME/crush/config.yaml (if set)
  3. ~/.config/crush/config.yaml

Environment variables can override config file settings using the CRUSH_ prefix:
  CRUSH_TOOLS_PNG=/usr/local/bin/optipng
  CRUSH_REQUIRE_ROOT=false
  CRUSH_MANIFEST_BACKEND=badger`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration and the work items it resolves to.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// configFilePath returns the file in use: --config or the default location.
func configFilePath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.ConfigPath()
}

// runConfigShow displays the current configuration.
func runConfigShow(_ *cobra.Command, _ []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}

	path, err := configFilePath()
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		fmt.Printf("Config file: %s\n\n", path)
	} else {
		fmt.Println("Config file: (using defaults, no file found)")
		fmt.Println()
	}

	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("tools.png:              %s\n", c.Tools.PNG)
	fmt.Printf("tools.jpeg:             %s\n", c.Tools.JPEG)
	fmt.Printf("tools.timeout:          %s\n", c.Tools.Timeout)
	fmt.Printf("require_root:           %t\n", c.RequireRoot)
	fmt.Printf("dry_run:                %t\n", c.DryRun)
	fmt.Printf("hash.algorithm:         %s\n", c.Hash.Algorithm)
	fmt.Printf("manifest.backend:       %s\n", c.Manifest.Backend)
	fmt.Printf("manifest.path:          %s\n", manifestPath(c))
	fmt.Printf("manifest.strict:        %t\n", c.Manifest.Strict)
	fmt.Printf("history.enabled:        %t\n", c.History.Enabled)
	fmt.Printf("history.path:           %s\n", c.History.Path)
	fmt.Printf("history.retention_days: %d\n", c.History.RetentionDays)
	fmt.Printf("watch.debounce:         %s\n", c.Watch.Debounce)
	fmt.Printf("logging.level:          %s\n", c.Logging.Level)

	fmt.Println("\nWork Items:")
	fmt.Println("-----------")
	items := resolver.Resolve(c.Dirs)
	if len(items) == 0 {
		fmt.Println("(none)")
	} else {
		out, err := yaml.Marshal(items)
		if err != nil {
			return fmt.Errorf("failed to render work items: %w", err)
		}
		fmt.Print(string(out))
	}

	fmt.Println("\nEnvironment Overrides:")
	fmt.Println("----------------------")
	envVars := []string{
		"CRUSH_TOOLS_PNG",
		"CRUSH_TOOLS_JPEG",
		"CRUSH_TOOLS_TIMEOUT",
		"CRUSH_REQUIRE_ROOT",
		"CRUSH_DRY_RUN",
		"CRUSH_HASH_ALGORITHM",
		"CRUSH_MANIFEST_BACKEND",
		"CRUSH_MANIFEST_PATH",
		"CRUSH_MANIFEST_STRICT",
		"CRUSH_HISTORY_ENABLED",
		"CRUSH_HISTORY_PATH",
		"CRUSH_LOGGING_LEVEL",
	}

	anyOverrides := false
	for _, name := range envVars {
		if val := os.Getenv(name); val != "" {
			fmt.Printf("%s=%s\n", name, val)
			anyOverrides = true
		}
	}
	if !anyOverrides {
		fmt.Println("(none)")
	}

	return nil
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit(_ *cobra.Command, _ []string) error {
	if cfgFile == "" {
		if err := config.WriteDefault(); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
	}

	path, err := configFilePath()
	if err != nil {
		return err
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", path, editor)

	editorCmd := exec.Command(editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(_ *cobra.Command, _ []string) error {
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		printInfo("Config file already exists: %s", path)
		printInfo("Use 'crush config edit' to modify it.")
		return nil
	}

	if err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	printInfo("Created default config file: %s", path)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(_ *cobra.Command, _ []string) error {
	path, err := configFilePath()
	if err != nil {
		return err
	}

	fmt.Println(path)

	if _, err := os.Stat(path); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}
	return nil
}
