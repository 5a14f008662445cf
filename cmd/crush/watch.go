package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/crush/pkg/crush/config"
	"github.com/jamesainslie/crush/pkg/crush/logging"
	"github.com/jamesainslie/crush/pkg/crush/output"
	"github.com/jamesainslie/crush/pkg/crush/types"
	"github.com/jamesainslie/crush/pkg/crush/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir...]",
	Short: "Optimize now, then again whenever images change",
	Long: `Run once, then watch the directories and start a new run after file
changes settle for watch.debounce. Only changed files are optimized because
every run consults the manifest.

Stop with Ctrl+C.`,
	RunE: runWatch,
}

func init() {
	addRunFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, args []string) error {
	if useTUI {
		return errors.New("--tui is not supported by watch")
	}

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

	log := logging.Get("watcher")
	runOnce := func(ctx context.Context) error {
		var onProgress func(types.Progress)
		if !getQuiet() {
			onProgress = newConsoleProgress(progressWriter(), os.Stderr, isTerminal(os.Stderr)).Update
		}
		report, err := executeRun(ctx, c, items, onProgress)
		recordHistory(c, report)
		if report != nil {
			var buf bytes.Buffer
			if ferr := formatter.Format(&buf, report); ferr == nil {
				fmt.Print(buf.String())
			}
		}
		return err
	}

	if err := runOnce(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	w, err := watcher.New()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	for _, item := range items {
		if item.Inert() {
			continue
		}
		if err := w.Watch(item.Dir, item.Recursive); err != nil {
			return fmt.Errorf("failed to watch %s: %w", item.Dir, err)
		}
	}

	debounce := c.Watch.Debounce
	if debounce <= 0 {
		debounce = config.DefaultWatchDebounce
	}
	printInfo("Watching %d directories for changes (Ctrl+C to stop)...", len(w.Paths()))

	w.Run(ctx, debounce, func(ctx context.Context, paths []string) {
		log.Info("changes detected", "paths", len(paths))
		printVerbose("%d paths changed", len(paths))

		// A failed run does not stop watching; the next change retries.
		if err := runOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("run failed", "error", err)
			printError("%v", err)
		}
	})

	printInfo("Stopped watching.")
	return nil
}
