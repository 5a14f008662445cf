package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/mattn/go-isatty"

	"github.com/jamesainslie/crush/pkg/crush/types"
)

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// consoleProgress prints per-item messages and a running completion
// indicator. On a terminal the indicator is a progress bar redrawn in
// place; otherwise a done/total counter line is printed every tenth of
// the item.
type consoleProgress struct {
	out   io.Writer
	live  io.Writer
	tty   bool
	bar   progress.Model
	shown bool
}

func newConsoleProgress(out, live io.Writer, tty bool) *consoleProgress {
	return &consoleProgress{
		out:  out,
		live: live,
		tty:  tty,
		bar:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

// Update handles one engine progress event.
func (c *consoleProgress) Update(p types.Progress) {
	switch p.Phase {
	case types.PhaseScanning:
		if p.Recursive {
			fmt.Fprintf(c.out, "Search files in folder (recursively): %s\n", p.Dir)
		} else {
			fmt.Fprintf(c.out, "Search files in folder: %s\n", p.Dir)
		}

	case types.PhaseOptimizing:
		if p.Done == 0 {
			fmt.Fprintf(c.out, "Found %d files. Start optimizing...\n", p.Total)
		}
		c.indicate(p)

	case types.PhaseItemDone:
		if p.Total == 0 {
			fmt.Fprintf(c.out, "Found 0 files. Start optimizing...\n")
		} else {
			c.indicate(p)
			if c.tty && c.shown {
				fmt.Fprintln(c.live)
			}
		}
		c.shown = false
		fmt.Fprintf(c.out, "Optimized %d images.\n", p.Optimized)
	}
}

func (c *consoleProgress) indicate(p types.Progress) {
	if c.tty {
		fmt.Fprintf(c.live, "\r%s %d/%d", c.bar.ViewAs(p.Percent()), p.Done, p.Total)
		c.shown = true
		return
	}

	step := p.Total / 10
	if step < 1 {
		step = 1
	}
	if p.Done == p.Total || (p.Done > 0 && p.Done%step == 0) {
		fmt.Fprintf(c.live, "%d/%d\n", p.Done, p.Total)
	}
}
