// Package ledger is the append-only failure record shared across runs.
// Entries live in a human-readable markdown file under the state dir;
// pending entries are rendered into the next run's research context, so
// the pipeline carries its own failure history forward.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autodev/internal/logging"
)

// Category classifies ledger entries.
type Category string

const (
	CategoryBuildFailure    Category = "build_failure"
	CategoryReviewRejection Category = "review_rejection"
	CategoryRuntimeError    Category = "runtime_error"
	CategoryLimitation      Category = "limitation"
	CategoryCodingError     Category = "coding_error"
	CategoryDependencyIssue Category = "dependency_issue"
)

const (
	issuesFile   = "ISSUES.md"
	feedbackFile = "FEEDBACK.md"

	pendingMarker = "[PENDING]"

	header = "# autodev issue ledger\n\nEntries are prepended, newest first. PENDING entries are fed into the\nnext run's research context and bulk-resolved when a run succeeds.\n"
)

// Ledger reads and writes the issue and feedback files. Single writer
// assumed: only one run is ever active, so no file locking is needed.
type Ledger struct {
	dir string
}

// New creates a ledger rooted at the state directory.
func New(stateDir string) *Ledger {
	return &Ledger{dir: stateDir}
}

func (l *Ledger) issuesPath() string   { return filepath.Join(l.dir, issuesFile) }
func (l *Ledger) feedbackPath() string { return filepath.Join(l.dir, feedbackFile) }

// LogIssue prepends a dated PENDING entry, preserving all prior entries.
func (l *Ledger) LogIssue(category Category, detail string) error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	existing := ""
	if data, err := os.ReadFile(l.issuesPath()); err == nil {
		existing = strings.TrimPrefix(string(data), header)
	}

	detail = strings.TrimSpace(detail)
	entry := fmt.Sprintf("## %s %s — %s\n\n%s\n\n", pendingMarker, category, time.Now().Format("2006-01-02 15:04"), detail)

	content := header + "\n" + entry + strings.TrimLeft(existing, "\n")
	if err := os.WriteFile(l.issuesPath(), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}

	logging.Ledger("logged %s issue: %s", category, firstLine(detail))
	return nil
}

// MarkResolved rewrites every PENDING marker to RESOLVED, tagged with the
// resolving run id. It is a bulk transition: all currently-pending entries
// resolve together.
func (l *Ledger) MarkResolved(runID string) error {
	data, err := os.ReadFile(l.issuesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	resolved := strings.ReplaceAll(string(data), pendingMarker, fmt.Sprintf("[RESOLVED %s]", runID))
	if err := os.WriteFile(l.issuesPath(), []byte(resolved), 0644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}

	logging.Ledger("marked pending issues resolved by run %s", runID)
	return nil
}

// Entry is one parsed ledger entry.
type Entry struct {
	Category Category
	Date     string
	Detail   string
	Pending  bool
}

// PendingEntries parses the ledger and returns pending entries newest first.
func (l *Ledger) PendingEntries() []Entry {
	data, err := os.ReadFile(l.issuesPath())
	if err != nil {
		return nil
	}

	var entries []Entry
	for _, entry := range parseEntries(string(data)) {
		if entry.Pending {
			entries = append(entries, entry)
		}
	}
	return entries
}

// OpenIssuesSummary renders the most recent n pending entries plus any user
// feedback as plain text for the next run's research context. Returns the
// empty string when nothing is pending and no feedback exists.
func (l *Ledger) OpenIssuesSummary(n int) string {
	var b strings.Builder

	pending := l.PendingEntries()
	if n > 0 && len(pending) > n {
		pending = pending[:n]
	}
	if len(pending) > 0 {
		b.WriteString("Unresolved issues from previous runs:\n")
		for _, e := range pending {
			b.WriteString(fmt.Sprintf("- [%s] %s: %s\n", e.Category, e.Date, firstLine(e.Detail)))
		}
	}

	if feedback := l.userFeedback(); feedback != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("User feedback:\n")
		b.WriteString(feedback)
		b.WriteString("\n")
	}

	return b.String()
}

// userFeedback returns non-empty, non-heading lines from FEEDBACK.md.
func (l *Ledger) userFeedback() string {
	data, err := os.ReadFile(l.feedbackPath())
	if err != nil {
		return ""
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// parseEntries splits the ledger file into entries. Each entry starts with
// an H2 line of the form "## [STATE] category — date".
func parseEntries(content string) []Entry {
	var entries []Entry
	var current *Entry
	var detail []string

	flush := func() {
		if current != nil {
			current.Detail = strings.TrimSpace(strings.Join(detail, "\n"))
			entries = append(entries, *current)
		}
		current = nil
		detail = nil
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			rest := strings.TrimPrefix(line, "## ")
			pending := strings.HasPrefix(rest, pendingMarker)
			// Strip the state marker, whatever it is.
			if idx := strings.Index(rest, "]"); idx >= 0 {
				rest = strings.TrimSpace(rest[idx+1:])
			}
			category, date := rest, ""
			if idx := strings.Index(rest, "—"); idx >= 0 {
				category = strings.TrimSpace(rest[:idx])
				date = strings.TrimSpace(rest[idx+len("—"):])
			}
			current = &Entry{Category: Category(category), Date: date, Pending: pending}
			continue
		}
		if current != nil {
			detail = append(detail, line)
		}
	}
	flush()
	return entries
}

func firstLine(s string) string {
	if idx := strings.Index(s, "\n"); idx >= 0 {
		return s[:idx]
	}
	return s
}
