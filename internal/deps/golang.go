package deps

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"

	"autodev/internal/logging"
	"autodev/internal/shell"
)

// GoScanner audits a Go repository through govulncheck and the go CLI.
type GoScanner struct {
	Root   string
	Runner *shell.Runner
}

// Audit runs `govulncheck -json ./...` and collects OSV findings from the
// JSON stream. An absent govulncheck binary degrades to empty results.
func (s *GoScanner) Audit(ctx context.Context) ([]Vulnerability, error) {
	result, err := s.Runner.Run(ctx, shell.Spec{
		Binary: "govulncheck",
		Args:   []string{"-json", "./..."},
		Dir:    s.Root,
	})
	if err != nil && strings.TrimSpace(result.Output) == "" {
		logging.Research("govulncheck unavailable: %v", err)
		return nil, nil
	}

	// The output is a stream of JSON objects; OSV entries carry the finding.
	var vulns []Vulnerability
	decoder := json.NewDecoder(strings.NewReader(result.Output))
	for decoder.More() {
		var msg struct {
			OSV *struct {
				ID      string `json:"id"`
				Summary string `json:"summary"`
				Affected []struct {
					Package struct {
						Name string `json:"name"`
					} `json:"package"`
				} `json:"affected"`
			} `json:"osv"`
		}
		if err := decoder.Decode(&msg); err != nil {
			break
		}
		if msg.OSV == nil {
			continue
		}
		pkg := ""
		if len(msg.OSV.Affected) > 0 {
			pkg = msg.OSV.Affected[0].Package.Name
		}
		vulns = append(vulns, Vulnerability{
			Package:  pkg,
			Severity: "unknown",
			Title:    msg.OSV.Summary,
			URL:      "https://pkg.go.dev/vuln/" + msg.OSV.ID,
		})
	}
	return vulns, nil
}

// Outdated runs `go list -m -u -json all` and reports modules with an
// available update.
func (s *GoScanner) Outdated(ctx context.Context) ([]Package, error) {
	result, err := s.Runner.Run(ctx, shell.Spec{
		Binary: "go",
		Args:   []string{"list", "-m", "-u", "-json", "all"},
		Dir:    s.Root,
	})
	if err != nil && strings.TrimSpace(result.Output) == "" {
		logging.Research("go list unavailable: %v", err)
		return nil, nil
	}

	var packages []Package
	decoder := json.NewDecoder(bufio.NewReader(strings.NewReader(result.Output)))
	for decoder.More() {
		var mod struct {
			Path    string `json:"Path"`
			Version string `json:"Version"`
			Update  *struct {
				Version string `json:"Version"`
			} `json:"Update"`
		}
		if err := decoder.Decode(&mod); err != nil {
			break
		}
		if mod.Update != nil {
			packages = append(packages, Package{
				Name:    mod.Path,
				Current: mod.Version,
				Latest:  mod.Update.Version,
			})
		}
	}
	return packages, nil
}
