package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/crush/pkg/crush/config"
	"github.com/jamesainslie/crush/pkg/crush/logging"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "crush [dir...]",
		Short: "Losslessly optimize PNG and JPEG images, once",
		Long: `Crush walks configured directories and hands every PNG and JPEG to an
external lossless optimizer (optipng, jpegoptim). A manifest of content
digests makes repeated runs cheap: files already optimized are skipped until
their content changes.

Examples:
  crush                          # Optimize the directories from the config file
  crush /var/www/img             # Optimize one directory, all types, recursively
  crush --types image/png --recursive=false ./static
  crush --dry-run -o plain       # Show what would be optimized
  crush watch                    # Re-run whenever images change
  crush manifest stats           # Inspect change-detection state
  crush history                  # List past runs`,
		Args:              cobra.ArbitraryArgs,
		SilenceUsage:      true,
		PersistentPreRunE: initializeLogging,
		RunE:              runRun,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/crush/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	addRunFlags(rootCmd)
}

// cfg holds the configuration loaded by initConfig.
var (
	cfg    *config.Config
	cfgErr error
)

// initConfig loads configuration from file and environment variables.
func initConfig() {
	cfg, cfgErr = config.LoadFile(cfgFile)
}

// loadedConfig returns the configuration or the error that prevented loading it.
func loadedConfig() (*config.Config, error) {
	if cfg == nil && cfgErr == nil {
		initConfig()
	}
	if cfgErr != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", cfgErr)
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = logging.Close() }()
	return rootCmd.Execute()
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
