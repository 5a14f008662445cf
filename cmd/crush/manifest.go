package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/crush/pkg/crush/config"
	"github.com/jamesainslie/crush/pkg/crush/manifest"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect and maintain the change-detection manifest",
	Long: `The manifest maps every optimized file to the digest of its content
after optimization. A file whose current digest matches its entry is
skipped. Removing an entry makes the next run optimize that file again.`,
}

var manifestPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the manifest location",
	RunE:  runManifestPath,
}

var manifestShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List manifest entries as '<digest>  <path>'",
	RunE:  runManifestShow,
}

var manifestStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the manifest",
	RunE:  runManifestStats,
}

var manifestClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all entries so every file is optimized again",
	RunE:  runManifestClear,
}

var manifestPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove entries for files that no longer exist",
	RunE:  runManifestPrune,
}

var manifestExportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Copy the manifest into another store",
	Long: `Copy every entry of the configured manifest into a new store, for
example to move from the json backend to badger:

  crush manifest export --backend badger ~/.local/state/crush/manifest.badger`,
	Args: cobra.ExactArgs(1),
	RunE: runManifestExport,
}

var (
	manifestForce         bool
	manifestPruneDryRun   bool
	manifestExportBackend string
)

func init() {
	manifestClearCmd.Flags().BoolVarP(&manifestForce, "force", "f", false, "do not ask for confirmation")
	manifestPruneCmd.Flags().BoolVarP(&manifestPruneDryRun, "dry-run", "n", false, "list stale entries without removing them")
	manifestExportCmd.Flags().StringVar(&manifestExportBackend, "backend", string(manifest.BackendJSON), "destination backend: json or badger")

	manifestCmd.AddCommand(manifestPathCmd)
	manifestCmd.AddCommand(manifestShowCmd)
	manifestCmd.AddCommand(manifestStatsCmd)
	manifestCmd.AddCommand(manifestClearCmd)
	manifestCmd.AddCommand(manifestPruneCmd)
	manifestCmd.AddCommand(manifestExportCmd)
	rootCmd.AddCommand(manifestCmd)
}

// withManifest opens the configured store, loads it and calls fn. When
// write is set the run lock is held so that no run modifies the manifest
// concurrently.
func withManifest(write bool, fn func(c *config.Config, store manifest.Store, m *manifest.Manifest) error) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}

	if write {
		lockPath := manifestPath(c) + ".lock"
		if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
			return err
		}
		lock := flock.New(lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to acquire manifest lock: %w", err)
		}
		if !locked {
			return errors.New("a run is in progress; try again when it finishes")
		}
		defer func() { _ = lock.Unlock() }()
	}

	store, err := openStore(c)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() { _ = store.Close() }()

	m, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	return fn(c, store, m)
}

func runManifestPath(_ *cobra.Command, _ []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}
	fmt.Println(manifestPath(c))
	return nil
}

func runManifestShow(_ *cobra.Command, _ []string) error {
	return withManifest(false, func(_ *config.Config, _ manifest.Store, m *manifest.Manifest) error {
		for _, p := range m.Paths() {
			digest, _ := m.Get(p)
			fmt.Printf("%s  %s\n", digest, p)
		}
		return nil
	})
}

func runManifestStats(_ *cobra.Command, _ []string) error {
	return withManifest(false, func(c *config.Config, store manifest.Store, m *manifest.Manifest) error {
		missing := 0
		for _, p := range m.Paths() {
			if _, err := os.Lstat(p); errors.Is(err, os.ErrNotExist) {
				missing++
			}
		}

		backend := c.Manifest.Backend
		if backend == "" {
			backend = string(manifest.BackendJSON)
		}

		rows := [][]string{
			{"Path", store.Path()},
			{"Backend", backend},
			{"Digest", c.Hash.Algorithm},
			{"Entries", humanize.Comma(int64(m.Len()))},
			{"Missing files", strconv.Itoa(missing)},
			{"Size on disk", humanize.IBytes(uint64(diskUsage(store.Path())))},
		}
		fmt.Println(renderTable([]string{"MANIFEST", ""}, rows, nil))
		if missing > 0 {
			fmt.Println("\nRun 'crush manifest prune' to drop entries for missing files.")
		}
		return nil
	})
}

func runManifestClear(_ *cobra.Command, _ []string) error {
	if !manifestForce {
		return errors.New("clearing forces every image to be optimized again; rerun with --force to confirm")
	}
	return withManifest(true, func(_ *config.Config, store manifest.Store, m *manifest.Manifest) error {
		n := m.Len()
		if err := store.Save(manifest.New()); err != nil {
			return fmt.Errorf("failed to save manifest: %w", err)
		}
		printInfo("Removed %d entries from %s", n, store.Path())
		return nil
	})
}

func runManifestPrune(_ *cobra.Command, _ []string) error {
	return withManifest(!manifestPruneDryRun, func(_ *config.Config, store manifest.Store, m *manifest.Manifest) error {
		removed := manifest.Prune(m)
		for _, p := range removed {
			printVerbose("stale: %s", p)
		}

		if manifestPruneDryRun {
			for _, p := range removed {
				fmt.Println(p)
			}
			printInfo("%d stale entries (dry run, nothing removed)", len(removed))
			return nil
		}

		if len(removed) > 0 {
			if err := store.Save(m); err != nil {
				return fmt.Errorf("failed to save manifest: %w", err)
			}
		}
		printInfo("Pruned %d stale entries, %d remain.", len(removed), m.Len())
		return nil
	})
}

func runManifestExport(_ *cobra.Command, args []string) error {
	dest, err := config.ExpandPath(args[0])
	if err != nil {
		return err
	}

	return withManifest(false, func(_ *config.Config, store manifest.Store, m *manifest.Manifest) error {
		if abs, err := filepath.Abs(dest); err == nil && abs == store.Path() {
			return errors.New("destination is the configured manifest")
		}

		out, err := manifest.Open(manifest.Backend(manifestExportBackend), dest)
		if err != nil {
			return fmt.Errorf("failed to open destination: %w", err)
		}
		defer func() { _ = out.Close() }()

		if err := out.Save(m); err != nil {
			return fmt.Errorf("failed to write destination: %w", err)
		}
		printInfo("Exported %d entries to %s (%s)", m.Len(), out.Path(), manifestExportBackend)
		return nil
	})
}

// diskUsage returns the size of a file, or the total size of a directory tree.
func diskUsage(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := d.Info(); err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
