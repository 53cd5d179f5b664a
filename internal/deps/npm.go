package deps

import (
	"context"
	"encoding/json"
	"strings"

	"autodev/internal/logging"
	"autodev/internal/shell"
)

// NPMScanner audits a Node repository through the npm CLI.
type NPMScanner struct {
	Root   string
	Runner *shell.Runner
}

// npmAuditOutput mirrors the npm v7+ `npm audit --json` shape, reduced to
// the fields consumed here.
type npmAuditOutput struct {
	Vulnerabilities map[string]struct {
		Name     string `json:"name"`
		Severity string `json:"severity"`
		Via      []json.RawMessage `json:"via"`
	} `json:"vulnerabilities"`
}

// npmVia is an object entry of the "via" array (string entries are
// transitive references and are skipped).
type npmVia struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Audit runs `npm audit --json`. npm exits non-zero when vulnerabilities
// exist, so the output is parsed regardless of the exit status; only
// unparseable output degrades to empty results.
func (s *NPMScanner) Audit(ctx context.Context) ([]Vulnerability, error) {
	result, err := s.Runner.Run(ctx, shell.Spec{
		Binary: "npm",
		Args:   []string{"audit", "--json"},
		Dir:    s.Root,
	})
	if err != nil && strings.TrimSpace(result.Output) == "" {
		logging.Research("npm audit unavailable: %v", err)
		return nil, nil
	}

	var parsed npmAuditOutput
	if err := json.Unmarshal([]byte(result.Output), &parsed); err != nil {
		logging.Research("npm audit output not parseable: %v", err)
		return nil, nil
	}

	var vulns []Vulnerability
	for name, v := range parsed.Vulnerabilities {
		vuln := Vulnerability{Package: name, Severity: v.Severity}
		for _, raw := range v.Via {
			var via npmVia
			if json.Unmarshal(raw, &via) == nil && via.Title != "" {
				vuln.Title = via.Title
				vuln.URL = via.URL
				break
			}
		}
		if vuln.Title == "" {
			vuln.Title = "vulnerability in " + name
		}
		vulns = append(vulns, vuln)
	}
	return vulns, nil
}

// Outdated runs `npm outdated --json` (non-zero exit when anything is
// outdated, same tolerance as Audit).
func (s *NPMScanner) Outdated(ctx context.Context) ([]Package, error) {
	result, err := s.Runner.Run(ctx, shell.Spec{
		Binary: "npm",
		Args:   []string{"outdated", "--json"},
		Dir:    s.Root,
	})
	if err != nil && strings.TrimSpace(result.Output) == "" {
		logging.Research("npm outdated unavailable: %v", err)
		return nil, nil
	}

	var parsed map[string]struct {
		Current string `json:"current"`
		Latest  string `json:"latest"`
	}
	if err := json.Unmarshal([]byte(result.Output), &parsed); err != nil {
		return nil, nil
	}

	var packages []Package
	for name, p := range parsed {
		packages = append(packages, Package{Name: name, Current: p.Current, Latest: p.Latest})
	}
	return packages, nil
}
