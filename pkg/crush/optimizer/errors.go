package optimizer

import (
	"fmt"
	"strings"

	"github.com/jamesainslie/crush/pkg/crush/types"
)

// OptimizationError is a per-file failure to optimize. It never ends a run.
type OptimizationError struct {
	Path string
	Type types.ContentType
	Err  error
}

func (e *OptimizationError) Error() string {
	return fmt.Sprintf("optimize %s (%s): %v", e.Path, e.Type, e.Err)
}

func (e *OptimizationError) Unwrap() error { return e.Err }

// PreconditionError reports a condition that must hold before a run may
// touch the filesystem.
type PreconditionError struct {
	// Missing lists tools that could not be located.
	Missing []Status

	// Reason describes a non-tool precondition, such as missing privileges.
	Reason string
}

func (e *PreconditionError) Error() string {
	if len(e.Missing) == 0 {
		return "precondition failed: " + e.Reason
	}
	parts := make([]string, 0, len(e.Missing))
	for _, s := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s (%s)", s.Name, s.Detail))
	}
	msg := "required tools not available: " + strings.Join(parts, ", ")
	if e.Reason != "" {
		msg += "; " + e.Reason
	}
	return msg
}
