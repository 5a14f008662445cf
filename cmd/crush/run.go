package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/crush/cmd/crush/tui"
	"github.com/jamesainslie/crush/pkg/crush/config"
	"github.com/jamesainslie/crush/pkg/crush/digest"
	"github.com/jamesainslie/crush/pkg/crush/engine"
	"github.com/jamesainslie/crush/pkg/crush/history"
	"github.com/jamesainslie/crush/pkg/crush/logging"
	"github.com/jamesainslie/crush/pkg/crush/manifest"
	"github.com/jamesainslie/crush/pkg/crush/optimizer"
	"github.com/jamesainslie/crush/pkg/crush/output"
	"github.com/jamesainslie/crush/pkg/crush/resolver"
	"github.com/jamesainslie/crush/pkg/crush/scanner"
	"github.com/jamesainslie/crush/pkg/crush/types"
)

var runCmd = &cobra.Command{
	Use:   "run [dir...]",
	Short: "Optimize images in the configured or given directories",
	Long: `Run one optimization pass.

Without arguments the directories come from the "dirs" key of the config
file. Directories given on the command line share the --types and
--recursive options.

Only files whose content differs from the digest recorded in the manifest
are handed to the optimizer. Per-file failures are reported and retried on
the next run; a missing tool, missing privileges, or an unreadable
directory stop the run.`,
	RunE: runRun,
}

// Run flags shared by the root command and `crush run`.
var (
	runTypes     []string
	runExclude   []string
	runRecursive bool
	runDryRun    bool
	outputFormat string
	useTUI       bool
	noRootCheck  bool
	noHistory    bool
)

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVar(&runTypes, "types", nil, "content types for directories given as arguments (image/png, image/jpeg)")
	f.StringSliceVar(&runExclude, "exclude", nil, "glob patterns to skip in directories given as arguments (e.g. '*.min.png', 'cache/**')")
	f.BoolVar(&runRecursive, "recursive", true, "descend into subdirectories of directories given as arguments")
	f.BoolVarP(&runDryRun, "dry-run", "n", false, "report files that would be optimized without touching them")
	f.StringVarP(&outputFormat, "output", "o", "pretty", "report format: "+strings.Join(output.Available(), ", "))
	f.BoolVar(&useTUI, "tui", false, "show a live terminal view while running")
	f.BoolVar(&noRootCheck, "no-root-check", false, "do not require root even if require_root is set")
	f.BoolVar(&noHistory, "no-history", false, "do not record this run in the history")
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

// runRun is the main optimization command handler.
func runRun(_ *cobra.Command, args []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}

	items, err := workItems(c, args)
	if err != nil {
		return err
	}

	formatter, err := output.Get(outputFormat)
	if err != nil {
		return fmt.Errorf("unknown output format %q: available formats are %v", outputFormat, output.Available())
	}

	ctx, cancel := signalContext()
	defer cancel()

	var report *types.RunReport
	if useTUI && isTerminal(os.Stdout) {
		if err := initTUILogging(c); err != nil {
			return fmt.Errorf("failed to initialize TUI logging: %w", err)
		}
		report, err = tui.Run(ctx, func(ctx context.Context, onProgress func(types.Progress)) (*types.RunReport, error) {
			return executeRun(ctx, c, items, onProgress)
		})
	} else {
		var onProgress func(types.Progress)
		if !getQuiet() {
			onProgress = newConsoleProgress(progressWriter(), os.Stderr, isTerminal(os.Stderr)).Update
		}
		report, err = executeRun(ctx, c, items, onProgress)
	}

	recordHistory(c, report)

	if report != nil {
		if getQuiet() && outputFormat == "pretty" {
			fmt.Println(report.Summary())
		} else {
			var buf bytes.Buffer
			if ferr := formatter.Format(&buf, report); ferr != nil {
				return fmt.Errorf("failed to format output: %w", ferr)
			}
			fmt.Print(buf.String())
		}
	}

	if errors.Is(err, context.Canceled) {
		printInfo("Run interrupted; completed files were recorded.")
		return nil
	}
	return err
}

// workItems resolves positional directories, or the configured ones when
// none are given.
func workItems(c *config.Config, args []string) ([]types.WorkItem, error) {
	if len(args) > 0 {
		var names []string
		for _, t := range runTypes {
			ct, ok := types.ParseContentType(t)
			if !ok {
				return nil, fmt.Errorf("unsupported content type %q (supported: %v)", t, types.SupportedTypes())
			}
			names = append(names, string(ct))
		}
		items := resolver.FromPaths(args, names, runRecursive)
		if len(items) == 0 {
			return nil, errors.New("no usable directories given")
		}
		for i := range items {
			items[i].Exclude = runExclude
		}
		return items, nil
	}

	items := resolver.Resolve(c.Dirs)
	if len(items) == 0 {
		path, _ := config.ConfigPath()
		return nil, fmt.Errorf("no directories to optimize: pass directories as arguments or set dirs in %s", path)
	}
	return items, nil
}

// manifestPath returns the store location for the configured backend.
// The badger backend needs a directory, so a .json default is swapped for
// a sibling directory.
func manifestPath(c *config.Config) string {
	path := c.Manifest.Path
	if manifest.Backend(c.Manifest.Backend) == manifest.BackendBadger && filepath.Ext(path) == ".json" {
		path = strings.TrimSuffix(path, ".json") + ".badger"
	}
	return path
}

// openStore opens the configured manifest store.
func openStore(c *config.Config) (manifest.Store, error) {
	return manifest.Open(manifest.Backend(c.Manifest.Backend), manifestPath(c))
}

// newEngine wires the engine from configuration.
func newEngine(c *config.Config, store manifest.Store, onProgress func(types.Progress)) (*engine.Engine, error) {
	algo, err := digest.ParseAlgorithm(c.Hash.Algorithm)
	if err != nil {
		return nil, err
	}
	hasher, err := digest.NewHasher(algo)
	if err != nil {
		return nil, err
	}

	dispatcher := optimizer.New(optimizer.Config{
		PNG:     c.Tools.PNG,
		JPEG:    c.Tools.JPEG,
		Timeout: c.Tools.Timeout,
	})

	return engine.New(engine.Deps{
		Dispatcher: dispatcher,
		Changes:    digest.NewChangeDetector(hasher),
		Store:      store,
		Scanner:    scanner.New(scanner.Options{}),
	}, engine.Options{
		RequireRoot:    c.RequireRoot && !noRootCheck,
		DryRun:         c.DryRun || runDryRun,
		StrictManifest: c.Manifest.Strict,
		OnProgress:     onProgress,
	})
}

// executeRun performs one engine run over items.
func executeRun(ctx context.Context, c *config.Config, items []types.WorkItem, onProgress func(types.Progress)) (*types.RunReport, error) {
	store, err := openStore(c)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			printVerbose("closing manifest: %v", err)
		}
	}()

	eng, err := newEngine(c, store, onProgress)
	if err != nil {
		return nil, err
	}

	printVerbose("Running %d work item(s) with manifest %s", len(items), store.Path())
	return eng.Run(ctx, items)
}

// recordHistory stores the report unless history is disabled.
func recordHistory(c *config.Config, r *types.RunReport) {
	if r == nil || noHistory || !c.History.Enabled {
		return
	}
	h, err := history.New(c.History.Path)
	if err == nil {
		err = h.Record(r)
	}
	if err != nil {
		logging.Get("history").Warn("failed to record run", "id", r.ID, "error", err)
		printVerbose("failed to record run history: %v", err)
	}
}

// progressWriter keeps stdout clean for machine-readable formats.
func progressWriter() *os.File {
	switch outputFormat {
	case "json", "jsonl", "yaml", "paths":
		return os.Stderr
	default:
		return os.Stdout
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted, finishing the current file...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
