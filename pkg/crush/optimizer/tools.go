package optimizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Tool is an external optimizer invoked as `Command Args... <path>`.
type Tool struct {
	Name    string
	Command string
	Args    []string
	Timeout time.Duration
}

// PNGTool returns the lossless PNG optimizer invocation.
func PNGTool(command string, timeout time.Duration) Tool {
	return Tool{Name: "optipng", Command: command, Args: []string{"-o7", "-silent"}, Timeout: timeout}
}

// JPEGTool returns the JPEG metadata stripper invocation.
func JPEGTool(command string, timeout time.Duration) Tool {
	return Tool{Name: "jpegoptim", Command: command, Args: []string{"--strip-all"}, Timeout: timeout}
}

// argv returns the full argument list for path.
func (t Tool) argv(path string) []string {
	args := make([]string, 0, len(t.Args)+1)
	args = append(args, t.Args...)
	return append(args, path)
}

// Run rewrites path in place. Only the exit status decides success; the
// captured output is attached to the error.
func (t Tool) Run(ctx context.Context, path string) error {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, t.Command, t.argv(path)...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out after %s", t.Name, t.Timeout)
		} else if ctxErr != nil {
			return ctxErr
		}
		detail := strings.TrimSpace(out.String())
		if detail != "" {
			return fmt.Errorf("%s: %w: %s", t.Name, err, detail)
		}
		return fmt.Errorf("%s: %w", t.Name, err)
	}
	return nil
}

// Requirement defines an external binary the optimizer relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
	Available   bool   `json:"available"`
	Path        string `json:"path,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}
