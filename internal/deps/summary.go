package deps

import (
	"fmt"
	"strings"
)

// Summarize renders audit output as plain text for research context.
// Returns the empty string when there is nothing to report.
func Summarize(vulns []Vulnerability, outdated []Package) string {
	if len(vulns) == 0 && len(outdated) == 0 {
		return ""
	}

	var b strings.Builder
	if len(vulns) > 0 {
		b.WriteString(fmt.Sprintf("Known vulnerabilities (%d):\n", len(vulns)))
		for _, v := range vulns {
			b.WriteString(fmt.Sprintf("- %s [%s]: %s", v.Package, v.Severity, v.Title))
			if v.URL != "" {
				b.WriteString(" (" + v.URL + ")")
			}
			b.WriteString("\n")
		}
	}
	if len(outdated) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("Outdated packages (%d):\n", len(outdated)))
		for _, p := range outdated {
			b.WriteString(fmt.Sprintf("- %s: %s -> %s\n", p.Name, p.Current, p.Latest))
		}
	}
	return b.String()
}
