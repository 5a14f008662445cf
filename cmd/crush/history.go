package main

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/crush/pkg/crush/config"
	"github.com/jamesainslie/crush/pkg/crush/history"
	"github.com/jamesainslie/crush/pkg/crush/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View run history",
	Long: `View past optimization runs.

Each run is recorded with its per-directory counts, the files it optimized
or failed on, and how many bytes it saved.`,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show details of a specific run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old history entries",
	Long:  `Remove history entries older than history.retention_days.`,
	RunE:  runHistoryClean,
}

var (
	historyLimit  int
	historyOutput string
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")
	historyShowCmd.Flags().StringVarP(&historyOutput, "output", "o", "pretty", "report format")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyStore() (*history.Store, error) {
	c, err := loadedConfig()
	if err != nil {
		return nil, err
	}
	return history.New(c.History.Path)
}

// runHistory lists recent runs.
func runHistory(_ *cobra.Command, _ []string) error {
	store, err := historyStore()
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}

	entries, err := store.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if len(entries) == 0 {
		printInfo("No history entries found.")
		printInfo("Run 'crush' to optimize the configured directories.")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		status := "ok"
		switch {
		case e.Error != "":
			status = "error"
		case e.Interrupted:
			status = "interrupted"
		case e.DryRun:
			status = "dry run"
		}
		rows = append(rows, []string{
			e.ID,
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			strconv.Itoa(e.Found),
			strconv.Itoa(e.Optimized),
			strconv.Itoa(e.Failed),
			humanize.IBytes(uint64(e.BytesSaved)),
			status,
		})
	}

	fmt.Println(renderTable(
		[]string{"ID", "STARTED", "FOUND", "OPTIMIZED", "FAILED", "SAVED", "STATUS"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
	fmt.Printf("\nShowing %d entries. Use --limit to see more.\n", len(entries))
	fmt.Println("Use 'crush history show <id>' for details on a specific run.")
	return nil
}

// runHistoryShow prints a recorded run with the chosen formatter.
func runHistoryShow(_ *cobra.Command, args []string) error {
	store, err := historyStore()
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}

	report, err := store.Get(args[0])
	if errors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("no run with id %q", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	formatter, err := output.Get(historyOutput)
	if err != nil {
		return fmt.Errorf("unknown output format %q: available formats are %v", historyOutput, output.Available())
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, report); err != nil {
		return fmt.Errorf("failed to format run: %w", err)
	}
	fmt.Print(buf.String())
	return nil
}

// runHistoryClean removes old history entries.
func runHistoryClean(_ *cobra.Command, _ []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}
	store, err := history.New(c.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}

	retentionDays := c.History.RetentionDays
	if retentionDays <= 0 {
		retentionDays = config.DefaultRetentionDays
	}

	printInfo("Cleaning history entries older than %d days...", retentionDays)

	removed, err := store.Cleanup(retentionDays)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}

	printInfo("Removed %d history entries.", removed)
	return nil
}
