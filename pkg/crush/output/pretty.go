package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jamesainslie/crush/pkg/crush/types"
)

// PrettyFormatter renders a styled report for terminals.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *types.RunReport) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")

	for _, it := range r.Items {
		w.WriteString(f.formatItem(it))
	}

	if fails := failures(r); len(fails) > 0 {
		w.WriteString("\n")
		w.WriteString(ErrorStyle.Bold(true).Render("Failures:"))
		w.WriteString("\n")
		for _, o := range fails {
			w.WriteString(fmt.Sprintf("  %s  %s\n", PathStyle.Render(o.Path), ErrorStyle.Render(o.Error)))
		}
	}

	if warns := warnings(r); len(warns) > 0 {
		w.WriteString("\n")
		w.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
		w.WriteString("\n")
		for _, warning := range warns {
			w.WriteString(WarningStyle.Render("  " + warning))
			w.WriteString("\n")
		}
	}

	w.WriteString(f.formatFooter(r))
	w.WriteString("\n")
	return nil
}

func (f *PrettyFormatter) formatHeader(r *types.RunReport) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("%s %s", LabelStyle.Render("Run:"), ValueStyle.Render(r.ID)))
	lines = append(lines, fmt.Sprintf("%s %s", LabelStyle.Render("Manifest:"), ValueStyle.Render(r.ManifestPath)))

	if r.DryRun {
		lines = append(lines, WarningStyle.Bold(true).Render("Dry run: no files were modified"))
	}
	if r.ManifestReset {
		lines = append(lines, WarningStyle.Render("Manifest was unreadable and has been reset"))
	}
	if r.Interrupted {
		lines = append(lines, WarningStyle.Bold(true).Render("Run interrupted by user"))
	}
	if r.Error != "" {
		lines = append(lines, ErrorStyle.Render(r.Error))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatItem(it types.ItemReport) string {
	var sb strings.Builder

	mode := "recursive"
	if !it.Item.Recursive {
		mode = "top level"
	}
	sb.WriteString(fmt.Sprintf("%s %s\n", TitleStyle.Render(it.Item.Dir), MutedStyle.Render("("+mode+")")))

	if it.Skipped {
		sb.WriteString(MutedStyle.Render("  skipped: no supported content types"))
		sb.WriteString("\n")
		return sb.String()
	}

	counts := []string{
		fmt.Sprintf("%s %d", LabelStyle.Render("found"), it.Found),
		SuccessStyle.Render(fmt.Sprintf("optimized %d", it.Optimized)),
		fmt.Sprintf("%s %d", LabelStyle.Render("unchanged"), it.Unchanged),
		fmt.Sprintf("%s %d", LabelStyle.Render("ignored"), it.Ignored),
	}
	if it.Pending > 0 {
		counts = append(counts, WarningStyle.Render(fmt.Sprintf("pending %d", it.Pending)))
	}
	if it.Failed > 0 {
		counts = append(counts, ErrorStyle.Render(fmt.Sprintf("failed %d", it.Failed)))
	}
	sb.WriteString("  " + strings.Join(counts, "  ") + "\n")

	for _, o := range it.Outcomes {
		switch o.Status {
		case types.StatusOptimized:
			sb.WriteString(fmt.Sprintf("  %s  %s %s %s\n",
				PathStyle.Render(o.Path),
				MutedStyle.Render(types.FormatSize(o.SizeBefore)),
				MutedStyle.Render("->"),
				SizeStyle.Render(types.FormatSize(o.SizeAfter))))
		case types.StatusPending:
			sb.WriteString(fmt.Sprintf("  %s  %s\n", PathStyle.Render(o.Path), WarningStyle.Render("would optimize")))
		}
	}
	return sb.String()
}

func (f *PrettyFormatter) formatFooter(r *types.RunReport) string {
	parts := []string{
		SuccessStyle.Bold(true).Render(r.Summary()),
		fmt.Sprintf("%s %s", LabelStyle.Render("Saved:"), SizeStyle.Render(types.FormatSize(r.BytesSaved()))),
		fmt.Sprintf("%s %s", LabelStyle.Render("Took:"), ValueStyle.Render(formatDuration(r.Elapsed()))),
	}
	if n := r.Failed(); n > 0 {
		parts = append(parts, ErrorStyle.Render(fmt.Sprintf("%d failed", n)))
	}
	return FooterBox.Render(strings.Join(parts, "  "))
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

var _ Formatter = (*PrettyFormatter)(nil)
