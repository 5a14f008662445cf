package output

import (
	"bytes"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/jamesainslie/crush/pkg/crush/types"
)

// PlainFormatter formats the report as an unstyled table, one row per
// work item, followed by failures and the summary line.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *types.RunReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	if _, err := tw.Write([]byte("DIR\tRECURSIVE\tFOUND\tOPTIMIZED\tUNCHANGED\tIGNORED\tFAILED\n")); err != nil {
		return err
	}
	for _, it := range r.Items {
		row := fmt.Sprintf("%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			it.Item.Dir, strconv.FormatBool(it.Item.Recursive),
			it.Found, it.Optimized+it.Pending, it.Unchanged, it.Ignored, it.Failed)
		if it.Skipped {
			row = fmt.Sprintf("%s\t%s\t-\t-\t-\t-\t-\n", it.Item.Dir, strconv.FormatBool(it.Item.Recursive))
		}
		if _, err := tw.Write([]byte(row)); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, o := range failures(r) {
		fmt.Fprintf(w, "failed: %s: %s\n", o.Path, o.Error)
	}
	for _, warning := range warnings(r) {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "error: %s\n", r.Error)
	}
	if r.DryRun {
		w.WriteString("dry run: no files were modified\n")
	}

	w.WriteString(r.Summary())
	w.WriteByte('\n')
	return nil
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

var _ Formatter = (*PlainFormatter)(nil)

// PathsFormatter writes one path per line for every file that was
// optimized, or would be in a dry run.
type PathsFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PathsFormatter) Format(w *bytes.Buffer, r *types.RunReport) error {
	for _, it := range r.Items {
		for _, o := range it.Outcomes {
			if o.Status == types.StatusOptimized || o.Status == types.StatusPending {
				w.WriteString(o.Path)
				w.WriteByte('\n')
			}
		}
	}
	return nil
}

func init() {
	Register("paths", func() Formatter {
		return &PathsFormatter{}
	})
}

var _ Formatter = (*PathsFormatter)(nil)
