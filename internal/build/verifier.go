// Package build runs the configured build command as the verification gate.
// It is the one place in the pipeline with a hard wall-clock timeout.
package build

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autodev/internal/logging"
	"autodev/internal/shell"
)

// Result is one verification outcome. A failed or timed-out build is a
// Result with Passed=false, not an error; errors are reserved for the
// verifier itself being misconfigured.
type Result struct {
	Passed   bool
	Output   string
	Duration time.Duration
}

// Verifier runs one build command in the repository.
type Verifier struct {
	Runner  *shell.Runner
	Command []string
	Timeout time.Duration
	WorkDir string
}

// NewVerifier creates a verifier from a space-separated command string.
func NewVerifier(runner *shell.Runner, command string, timeout time.Duration, workDir string) *Verifier {
	return &Verifier{
		Runner:  runner,
		Command: strings.Fields(command),
		Timeout: timeout,
		WorkDir: workDir,
	}
}

// Verify runs the build once.
func (v *Verifier) Verify(ctx context.Context) (*Result, error) {
	if len(v.Command) == 0 {
		return nil, fmt.Errorf("no build command configured")
	}

	logging.Build("verifying with: %s", strings.Join(v.Command, " "))
	result, err := v.Runner.Run(ctx, shell.Spec{
		Binary:  v.Command[0],
		Args:    v.Command[1:],
		Dir:     v.WorkDir,
		Timeout: v.Timeout,
	})

	out := &Result{
		Passed:   err == nil,
		Output:   result.Output,
		Duration: result.Duration,
	}
	if err != nil {
		if strings.Contains(err.Error(), "timed out") {
			out.Output = fmt.Sprintf("build timed out after %v\n%s", v.Timeout, result.Output)
		} else if out.Output == "" {
			out.Output = err.Error()
		}
		logging.Build("build failed in %v: %s", result.Duration, firstLine(out.Output))
		return out, nil
	}

	logging.Build("build passed in %v", result.Duration)
	return out, nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
