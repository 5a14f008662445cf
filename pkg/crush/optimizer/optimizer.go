// Package optimizer dispatches files to the external tool registered for
// their content type.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jamesainslie/crush/pkg/crush/logging"
	"github.com/jamesainslie/crush/pkg/crush/types"
)

// Action optimizes the file at path in place.
type Action func(ctx context.Context, path string) error

// ErrNoAction is wrapped when a content type has no registered action.
var ErrNoAction = errors.New("no optimizer registered")

// Config selects the tool binaries.
type Config struct {
	PNG     string
	JPEG    string
	Timeout time.Duration
}

// Dispatcher maps content types to actions.
type Dispatcher struct {
	actions map[types.ContentType]Action
	tools   map[types.ContentType]Tool
	log     *logging.Logger
}

// New returns a dispatcher with the default PNG and JPEG tools.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		actions: make(map[types.ContentType]Action),
		tools:   make(map[types.ContentType]Tool),
		log:     logging.Get("optimizer"),
	}
	if cfg.PNG == "" {
		cfg.PNG = "optipng"
	}
	if cfg.JPEG == "" {
		cfg.JPEG = "jpegoptim"
	}
	d.WithTool(types.PNG, PNGTool(cfg.PNG, cfg.Timeout))
	d.WithTool(types.JPEG, JPEGTool(cfg.JPEG, cfg.Timeout))
	return d
}

// NewEmpty returns a dispatcher with no registered actions.
func NewEmpty() *Dispatcher {
	return &Dispatcher{
		actions: make(map[types.ContentType]Action),
		tools:   make(map[types.ContentType]Tool),
		log:     logging.Get("optimizer"),
	}
}

// WithTool registers an external tool for ct, replacing any previous action.
func (d *Dispatcher) WithTool(ct types.ContentType, t Tool) *Dispatcher {
	d.tools[ct] = t
	d.actions[ct] = t.Run
	return d
}

// WithAction registers fn for ct. Actions registered this way have no
// binary to verify.
func (d *Dispatcher) WithAction(ct types.ContentType, fn Action) *Dispatcher {
	delete(d.tools, ct)
	d.actions[ct] = fn
	return d
}

// Supports reports whether an action is registered for ct.
func (d *Dispatcher) Supports(ct types.ContentType) bool {
	_, ok := d.actions[ct]
	return ok
}

// Requirements lists the external binaries of registered tools in a fixed order.
func (d *Dispatcher) Requirements() []Requirement {
	var reqs []Requirement
	for _, ct := range types.SupportedTypes() {
		t, ok := d.tools[ct]
		if !ok {
			continue
		}
		reqs = append(reqs, Requirement{
			Name:        t.Name,
			Command:     t.Command,
			Description: fmt.Sprintf("optimizes %s files", ct),
		})
	}
	return reqs
}

// Verify checks that every registered external tool is on PATH.
func (d *Dispatcher) Verify() error {
	var missing []Status
	for _, s := range CheckBinaries(d.Requirements()) {
		if s.Available {
			d.log.Debug("tool available", "name", s.Name, "path", s.Path)
			continue
		}
		if !s.Optional {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return &PreconditionError{Missing: missing}
	}
	return nil
}

// Dispatch runs the action registered for ct on path. Every failure is an
// *OptimizationError scoped to path.
func (d *Dispatcher) Dispatch(ctx context.Context, path string, ct types.ContentType) error {
	fn, ok := d.actions[ct]
	if !ok {
		return &OptimizationError{Path: path, Type: ct, Err: ErrNoAction}
	}

	start := time.Now()
	if err := fn(ctx, path); err != nil {
		return &OptimizationError{Path: path, Type: ct, Err: err}
	}
	d.log.Debug("optimized", "path", path, "type", ct, "took", time.Since(start))
	return nil
}
