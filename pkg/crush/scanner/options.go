// Package scanner lists the regular files under a work item's directory
// using fastwalk. Results are materialized and sorted so downstream
// processing order is deterministic even though the walk is concurrent.
package scanner

import "time"

// Progress reports how far a scan has got.
type Progress struct {
	DirsScanned  int64
	FilesFound   int64
	CurrentPath  string
	WalkComplete bool
}

// Options configures the scanner behavior.
type Options struct {
	// Workers is the number of fastwalk workers. Zero lets fastwalk decide.
	Workers int

	// ProgressInterval throttles OnProgress calls.
	ProgressInterval time.Duration

	// OnProgress is called periodically during the walk. It must be safe
	// to call from multiple goroutines.
	OnProgress func(Progress)
}

// DefaultProgressInterval is the minimum gap between progress callbacks.
const DefaultProgressInterval = 50 * time.Millisecond

// withDefaults fills unset or out-of-range fields. Every Options value is
// usable, so there is nothing to reject.
func (o Options) withDefaults() Options {
	if o.Workers < 0 {
		o.Workers = 0
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	return o
}
