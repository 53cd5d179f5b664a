// Package shell runs external processes behind an allowlist. Arguments are
// always passed as discrete argv entries, never through a shell, so nothing
// an LLM produces can be interpolated into a command line.
package shell

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"autodev/internal/logging"
)

// Spec describes one command invocation.
type Spec struct {
	Binary  string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Result is the outcome of one invocation.
type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// Runner executes allowlisted binaries with a timeout.
type Runner struct {
	Allowed        map[string]bool
	DefaultTimeout time.Duration
}

// NewRunner creates a runner permitting only the given binaries.
func NewRunner(allowed []string, defaultTimeout time.Duration) *Runner {
	m := make(map[string]bool, len(allowed))
	for _, b := range allowed {
		m[b] = true
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &Runner{Allowed: m, DefaultTimeout: defaultTimeout}
}

// Run executes the spec. The combined output is returned even on failure so
// callers can include it in diagnostics.
func (r *Runner) Run(ctx context.Context, spec Spec) (Result, error) {
	if !r.Allowed[spec.Binary] {
		return Result{ExitCode: -1}, fmt.Errorf("binary not allowed: %s", spec.Binary)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logging.ToolsDebug("exec: %s %s (dir=%s, timeout=%v)", spec.Binary, strings.Join(spec.Args, " "), spec.Dir, timeout)

	start := time.Now()
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	output, err := cmd.CombinedOutput()

	result := Result{
		Output:   string(output),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("command timed out after %v: %s", timeout, spec.Binary)
	}
	if err != nil {
		return result, fmt.Errorf("command failed: %w, output: %s", err, truncate(result.Output, 2000))
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
