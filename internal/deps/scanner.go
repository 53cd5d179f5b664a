// Package deps is the dependency-scanner boundary: vulnerability audits and
// outdated-package checks, implemented over the package-manager CLIs present
// in the target repository. Missing tooling degrades to empty results.
package deps

import (
	"context"
	"os"
	"path/filepath"

	"autodev/internal/logging"
	"autodev/internal/shell"
)

// Vulnerability is one audit finding.
type Vulnerability struct {
	Package  string `json:"package"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
}

// Package is one outdated dependency.
type Package struct {
	Name    string `json:"name"`
	Current string `json:"current"`
	Latest  string `json:"latest"`
}

// Scanner audits one repository's dependencies.
type Scanner interface {
	Audit(ctx context.Context) ([]Vulnerability, error)
	Outdated(ctx context.Context) ([]Package, error)
}

// Detect picks a scanner by manifest file. Repositories without a known
// manifest get a no-op scanner.
func Detect(root string, runner *shell.Runner) Scanner {
	if _, err := os.Stat(filepath.Join(root, "package.json")); err == nil {
		logging.Research("dependency scanner: npm (package.json found)")
		return &NPMScanner{Root: root, Runner: runner}
	}
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
		logging.Research("dependency scanner: go (go.mod found)")
		return &GoScanner{Root: root, Runner: runner}
	}
	logging.Research("dependency scanner: none (no known manifest)")
	return noopScanner{}
}

type noopScanner struct{}

func (noopScanner) Audit(ctx context.Context) ([]Vulnerability, error) { return nil, nil }
func (noopScanner) Outdated(ctx context.Context) ([]Package, error)   { return nil, nil }
