// Package vcs is the safety-gated wrapper over git and the gh CLI. Every
// mutating operation first asserts the current branch is not protected;
// the current branch is always derived live from git, never cached.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"autodev/internal/logging"
)

// ErrProtectedBranch is returned when a mutating operation is attempted
// while checked out on a protected branch. It is a safety error: the
// operation performed no side effects.
var ErrProtectedBranch = errors.New("refusing to mutate a protected branch")

// BranchPrefix namespaces the ephemeral work branches.
const BranchPrefix = "autodev/"

// CommitMarker is prepended to every commit message for provenance.
const CommitMarker = "[autodev]"

// Gateway wraps git and gh for one repository.
type Gateway struct {
	RepoPath     string
	TargetBranch string
}

// NewGateway creates a gateway for the repository at repoPath. PRs are
// opened against targetBranch, which joins the protected set.
func NewGateway(repoPath, targetBranch string) *Gateway {
	if targetBranch == "" {
		targetBranch = "main"
	}
	return &Gateway{RepoPath: repoPath, TargetBranch: targetBranch}
}

// protected reports whether a branch name may never be mutated directly.
func (g *Gateway) protected(branch string) bool {
	switch branch {
	case "main", "master", g.TargetBranch:
		return true
	}
	return false
}

// git runs a git subcommand in the repository and returns combined output.
func (g *Gateway) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.RepoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}

// gh runs a gh subcommand in the repository and returns combined output.
func (g *Gateway) gh(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = g.RepoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("gh %s: %s: %w", args[0], strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}

// CurrentBranch returns the branch git is checked out on right now.
func (g *Gateway) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ensureNotProtected is the safety gate every mutating operation passes
// through before touching the repository.
func (g *Gateway) ensureNotProtected(ctx context.Context) error {
	branch, err := g.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("cannot determine current branch: %w", err)
	}
	if g.protected(branch) {
		return fmt.Errorf("%w: %s", ErrProtectedBranch, branch)
	}
	return nil
}

// HasRemote reports whether the repository has any remote configured.
// Used for pre-flight gating; errors read as "no remote".
func (g *Gateway) HasRemote(ctx context.Context) bool {
	out, err := g.git(ctx, "remote")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != ""
}

// CLIAuthenticated reports whether the gh CLI has valid credentials.
func (g *Gateway) CLIAuthenticated(ctx context.Context) bool {
	_, err := g.gh(ctx, "auth", "status")
	return err == nil
}

// CreateWorkBranch checks out the target branch, attempts a fast-forward
// pull (offline/no-remote failure is tolerated), then creates and checks
// out autodev/<name>. Returns the full branch name.
func (g *Gateway) CreateWorkBranch(ctx context.Context, name string) (string, error) {
	if _, err := g.git(ctx, "checkout", g.TargetBranch); err != nil {
		return "", fmt.Errorf("checkout %s: %w", g.TargetBranch, err)
	}

	if _, err := g.git(ctx, "pull", "--ff-only"); err != nil {
		logging.VCS("pull --ff-only failed (continuing from local state): %v", err)
	}

	branch := BranchPrefix + name
	if _, err := g.git(ctx, "checkout", "-b", branch); err != nil {
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}

	logging.VCS("created work branch %s", branch)
	return branch, nil
}

// StageAll stages every change in the working tree.
func (g *Gateway) StageAll(ctx context.Context) error {
	if err := g.ensureNotProtected(ctx); err != nil {
		return err
	}
	_, err := g.git(ctx, "add", "-A")
	return err
}

// Commit commits staged changes. The message is auto-prefixed with the
// provenance marker exactly once.
func (g *Gateway) Commit(ctx context.Context, message string) error {
	if err := g.ensureNotProtected(ctx); err != nil {
		return err
	}
	if !strings.HasPrefix(message, CommitMarker) {
		message = CommitMarker + " " + message
	}
	_, err := g.git(ctx, "commit", "-m", message)
	return err
}

// PushBranch pushes a branch to origin. Protected branch names are refused
// outright, whatever is currently checked out.
func (g *Gateway) PushBranch(ctx context.Context, branch string) error {
	if g.protected(branch) {
		return fmt.Errorf("%w: push %s", ErrProtectedBranch, branch)
	}
	if err := g.ensureNotProtected(ctx); err != nil {
		return err
	}
	_, err := g.git(ctx, "push", "-u", "origin", branch)
	return err
}

// CreatePR opens a pull request via the gh CLI and returns its URL.
func (g *Gateway) CreatePR(ctx context.Context, title, body, base string) (string, error) {
	out, err := g.gh(ctx, "pr", "create", "--title", title, "--body", body, "--base", base)
	if err != nil {
		return "", err
	}

	url := strings.TrimSpace(out)
	// gh prints the PR URL as the last line of stdout.
	if idx := strings.LastIndex(url, "\n"); idx >= 0 {
		url = strings.TrimSpace(url[idx+1:])
	}
	if !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("could not parse PR URL from gh output: %q", truncateOutput(out))
	}

	logging.VCS("opened PR %s", url)
	return url, nil
}

// CheckoutTarget switches back to the protected target branch.
func (g *Gateway) CheckoutTarget(ctx context.Context) error {
	_, err := g.git(ctx, "checkout", g.TargetBranch)
	return err
}

// CleanupBranch abandons a work branch. If currently on it, uncommitted
// changes are hard-reset and untracked files cleaned before switching back
// to the target branch; the branch is then deleted. Every step is
// best-effort since this runs during failure handling.
func (g *Gateway) CleanupBranch(ctx context.Context, branch string) {
	if g.protected(branch) {
		logging.VCS("cleanup skipped for protected branch %s", branch)
		return
	}

	current, err := g.CurrentBranch(ctx)
	if err != nil {
		logging.VCS("cleanup: cannot determine current branch: %v", err)
		return
	}

	if current == branch {
		if _, err := g.git(ctx, "reset", "--hard"); err != nil {
			logging.VCS("cleanup: reset failed: %v", err)
		}
		if _, err := g.git(ctx, "clean", "-fd"); err != nil {
			logging.VCS("cleanup: clean failed: %v", err)
		}
		if _, err := g.git(ctx, "checkout", g.TargetBranch); err != nil {
			logging.VCS("cleanup: checkout %s failed: %v", g.TargetBranch, err)
			return
		}
	}

	if _, err := g.git(ctx, "branch", "-D", branch); err != nil {
		logging.VCS("cleanup: delete %s failed: %v", branch, err)
		return
	}
	logging.VCS("cleaned up branch %s", branch)
}

// StagedDiff returns the staged diff text, for self-review. Read-only.
func (g *Gateway) StagedDiff(ctx context.Context) (string, error) {
	return g.git(ctx, "diff", "--cached")
}

// shortStatRe matches "N insertions(+)" / "N deletions(-)" in shortstat output.
var shortStatRe = regexp.MustCompile(`(\d+) insertion|(\d+) deletion`)

// DiffLineCount returns insertions plus deletions of the staged diff.
// Returns 0 on any failure; callers use it for budget gating, not
// correctness.
func (g *Gateway) DiffLineCount(ctx context.Context) int {
	out, err := g.git(ctx, "diff", "--cached", "--shortstat")
	if err != nil {
		return 0
	}
	return ParseShortStat(out)
}

// ParseShortStat sums insertions and deletions from a git shortstat line.
// Any parse failure counts as 0.
func ParseShortStat(out string) int {
	total := 0
	for _, m := range shortStatRe.FindAllStringSubmatch(out, -1) {
		for _, group := range m[1:] {
			if group == "" {
				continue
			}
			if n, err := strconv.Atoi(group); err == nil {
				total += n
			}
		}
	}
	return total
}

func truncateOutput(s string) string {
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
