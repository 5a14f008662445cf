// Package types provides core data types for the crush image optimizer.
// It includes work item and content type definitions, per-file and per-run
// outcome records, and helpers for parsing and formatting sizes.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// ContentType identifies the sniffed format of a file by MIME identifier.
type ContentType string

// Supported content types.
const (
	Unknown ContentType = ""
	PNG     ContentType = "image/png"
	JPEG    ContentType = "image/jpeg"
)

// SupportedTypes returns every content type crush can optimize, in a fixed order.
func SupportedTypes() []ContentType {
	return []ContentType{PNG, JPEG}
}

// ParseContentType returns the supported content type named by s.
// Matching is exact on the MIME identifier after trimming whitespace.
func ParseContentType(s string) (ContentType, bool) {
	switch ContentType(strings.TrimSpace(s)) {
	case PNG:
		return PNG, true
	case JPEG:
		return JPEG, true
	default:
		return Unknown, false
	}
}

// String returns the MIME identifier, or "unknown".
func (c ContentType) String() string {
	if c == Unknown {
		return "unknown"
	}
	return string(c)
}

// WorkItem is one normalized unit of configured work.
// It is immutable after resolution.
type WorkItem struct {
	// Dir is the absolute, cleaned directory path.
	Dir string `json:"dir" yaml:"dir"`

	// Types is the set of content types eligible for optimization.
	// An empty set makes the item inert.
	Types []ContentType `json:"types" yaml:"types"`

	// Recursive controls descent into subdirectories.
	Recursive bool `json:"recursive" yaml:"recursive"`

	// Include and Exclude are glob patterns relative to Dir that narrow
	// the files considered. Files they reject are counted as ignored.
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// Accepts reports whether ct is in the item's type set.
func (w WorkItem) Accepts(ct ContentType) bool {
	for _, t := range w.Types {
		if t == ct {
			return true
		}
	}
	return false
}

// Inert reports whether the item has no eligible content types.
func (w WorkItem) Inert() bool {
	return len(w.Types) == 0
}

// Candidate is a regular file discovered during scanning.
type Candidate struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// FileStatus is the outcome of processing a single candidate.
type FileStatus string

// File statuses.
const (
	StatusOptimized FileStatus = "optimized"
	StatusUnchanged FileStatus = "unchanged"
	StatusIgnored   FileStatus = "ignored"
	StatusFailed    FileStatus = "failed"
	StatusPending   FileStatus = "pending"
)

// FileOutcome records what happened to one file.
type FileOutcome struct {
	Path       string      `json:"path" yaml:"path"`
	Type       ContentType `json:"type,omitempty" yaml:"type,omitempty"`
	Status     FileStatus  `json:"status" yaml:"status"`
	SizeBefore int64       `json:"size_before,omitempty" yaml:"size_before,omitempty"`
	SizeAfter  int64       `json:"size_after,omitempty" yaml:"size_after,omitempty"`
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`

	// Warning carries a non-fatal problem, such as a failed ownership restore.
	Warning string `json:"warning,omitempty" yaml:"warning,omitempty"`
}

// Saved returns the bytes saved by the optimization, never negative.
func (o FileOutcome) Saved() int64 {
	if o.SizeAfter >= o.SizeBefore {
		return 0
	}
	return o.SizeBefore - o.SizeAfter
}

// ItemReport aggregates outcomes for one work item.
type ItemReport struct {
	Item      WorkItem `json:"item" yaml:"item"`
	Skipped   bool     `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Found     int      `json:"found" yaml:"found"`
	Optimized int      `json:"optimized" yaml:"optimized"`
	Pending   int      `json:"pending,omitempty" yaml:"pending,omitempty"`
	Unchanged int      `json:"unchanged" yaml:"unchanged"`
	Ignored   int      `json:"ignored" yaml:"ignored"`
	Failed    int      `json:"failed" yaml:"failed"`

	// Outcomes lists optimized, pending, and failed files. Unchanged and
	// ignored files are only counted.
	Outcomes []FileOutcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`

	// Warnings lists non-fatal problems such as unreadable subdirectories.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	BytesBefore int64 `json:"bytes_before" yaml:"bytes_before"`
	BytesAfter  int64 `json:"bytes_after" yaml:"bytes_after"`
}

// Add folds a file outcome into the report counters.
func (r *ItemReport) Add(o FileOutcome) {
	switch o.Status {
	case StatusOptimized:
		r.Optimized++
		r.BytesBefore += o.SizeBefore
		r.BytesAfter += o.SizeAfter
		r.Outcomes = append(r.Outcomes, o)
	case StatusPending:
		r.Pending++
		r.Outcomes = append(r.Outcomes, o)
	case StatusUnchanged:
		r.Unchanged++
	case StatusIgnored:
		r.Ignored++
	case StatusFailed:
		r.Failed++
		r.Outcomes = append(r.Outcomes, o)
	}
}

// RunReport summarizes a complete run.
type RunReport struct {
	ID         string       `json:"id" yaml:"id"`
	StartedAt  time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time    `json:"finished_at" yaml:"finished_at"`
	Items      []ItemReport `json:"items" yaml:"items"`
	DryRun     bool         `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`

	// ManifestPath is where change-detection state was persisted.
	ManifestPath string `json:"manifest_path" yaml:"manifest_path"`

	// ManifestReset is set when an unreadable manifest was replaced by an empty one.
	ManifestReset bool `json:"manifest_reset,omitempty" yaml:"manifest_reset,omitempty"`

	// Interrupted is set when the run was cancelled between files.
	Interrupted bool `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`

	// Error holds the run-ending error, if any.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Optimized returns the total number of files optimized across all items.
func (r *RunReport) Optimized() int {
	n := 0
	for _, it := range r.Items {
		n += it.Optimized
	}
	return n
}

// Failed returns the total number of failed files across all items.
func (r *RunReport) Failed() int {
	n := 0
	for _, it := range r.Items {
		n += it.Failed
	}
	return n
}

// Found returns the total number of regular files discovered.
func (r *RunReport) Found() int {
	n := 0
	for _, it := range r.Items {
		n += it.Found
	}
	return n
}

// BytesSaved returns the total reduction in size over all optimized files.
func (r *RunReport) BytesSaved() int64 {
	var saved int64
	for _, it := range r.Items {
		if it.BytesAfter < it.BytesBefore {
			saved += it.BytesBefore - it.BytesAfter
		}
	}
	return saved
}

// Elapsed returns the wall-clock duration of the run.
func (r *RunReport) Elapsed() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary returns the final one-line summary printed after every run.
func (r *RunReport) Summary() string {
	return fmt.Sprintf("Optimized %d images.", r.Optimized())
}

// Phase identifies what a progress update refers to.
type Phase string

// Progress phases.
const (
	PhaseScanning   Phase = "scanning"
	PhaseOptimizing Phase = "optimizing"
	PhaseItemDone   Phase = "item_done"
)

// Progress reports run progress to an observer.
type Progress struct {
	Phase       Phase  `json:"phase"`
	ItemIndex   int    `json:"item_index"`
	ItemCount   int    `json:"item_count"`
	Dir         string `json:"dir"`
	Recursive   bool   `json:"recursive"`
	Done        int    `json:"done"`
	Total       int    `json:"total"`
	CurrentPath string `json:"current_path,omitempty"`
	Optimized   int    `json:"optimized"`
}

// Percent returns completion of the current item in the range [0, 1].
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 1
	}
	return float64(p.Done) / float64(p.Total)
}

// sizePattern matches size strings like "100M", "2G", "500K", "1.5GB", etc.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ErrNegativeSize indicates that a negative size value was provided.
var ErrNegativeSize = errors.New("size cannot be negative")

// ParseSize parses a human-readable size string and returns the size in bytes.
// Suffixes K, M, G and T (with optional B or iB) are binary multiples.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}

	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	suffix := strings.ToUpper(matches[2])
	suffix = strings.TrimSuffix(suffix, "IB")
	suffix = strings.TrimSuffix(suffix, "B")

	var multiplier int64
	switch suffix {
	case "":
		multiplier = 1
	case "K":
		multiplier = KiB
	case "M":
		multiplier = MiB
	case "G":
		multiplier = GiB
	case "T":
		multiplier = TiB
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, suffix)
	}

	return int64(value * float64(multiplier)), nil
}

// FormatSize converts a size in bytes to a human-readable IEC string.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}
