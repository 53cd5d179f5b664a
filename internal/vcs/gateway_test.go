package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupGitRepo creates a throwaway repository on branch main with one commit.
func setupGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cmds := [][]string{
		{"git", "init", "-b", "main"},
		{"git", "config", "user.email", "test@test.com"},
		{"git", "config", "user.name", "Test"},
		{"git", "config", "commit.gpgsign", "false"},
	}
	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("%v failed: %s", args, out)
		}
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0644))

	for _, args := range [][]string{
		{"git", "add", "."},
		{"git", "commit", "-m", "initial"},
	} {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("%v failed: %s", args, out)
		}
	}
	return dir
}

func TestMutationsRefusedOnProtectedBranch(t *testing.T) {
	dir := setupGitRepo(t)
	g := NewGateway(dir, "main")
	ctx := context.Background()

	branch, err := g.CurrentBranch(ctx)
	require.NoError(t, err)
	require.Equal(t, "main", branch)

	assert.ErrorIs(t, g.StageAll(ctx), ErrProtectedBranch)
	assert.ErrorIs(t, g.Commit(ctx, "nope"), ErrProtectedBranch)
	assert.ErrorIs(t, g.PushBranch(ctx, "main"), ErrProtectedBranch)

	// No side effects: the working tree stays clean.
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(string(out)))
}

func TestCreateWorkBranchAndCleanup(t *testing.T) {
	dir := setupGitRepo(t)
	g := NewGateway(dir, "main")
	ctx := context.Background()

	branch, err := g.CreateWorkBranch(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "autodev/run-1", branch)

	current, err := g.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, branch, current)

	// Dirty the tree, then clean up. Cleanup must discard the edit,
	// return to main, and delete the branch.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.txt"), []byte("x"), 0644))
	g.CleanupBranch(ctx, branch)

	current, err = g.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", current)

	_, err = os.Stat(filepath.Join(dir, "junk.txt"))
	assert.True(t, os.IsNotExist(err))

	cmd := exec.Command("git", "branch", "--list", branch)
	cmd.Dir = dir
	out, _ := cmd.Output()
	assert.Empty(t, strings.TrimSpace(string(out)))
}

func TestCleanupNeverTouchesProtectedBranch(t *testing.T) {
	dir := setupGitRepo(t)
	g := NewGateway(dir, "main")

	// Must be a no-op, not a reset of main.
	g.CleanupBranch(context.Background(), "main")

	current, err := g.CurrentBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main", current)
}

func TestCommitPrefixesMarkerOnce(t *testing.T) {
	dir := setupGitRepo(t)
	g := NewGateway(dir, "main")
	ctx := context.Background()

	_, err := g.CreateWorkBranch(ctx, "run-2")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "change.txt"), []byte("content\n"), 0644))
	require.NoError(t, g.StageAll(ctx))
	require.NoError(t, g.Commit(ctx, "improve things"))

	cmd := exec.Command("git", "log", "-1", "--format=%s")
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err)
	assert.Equal(t, "[autodev] improve things", strings.TrimSpace(string(out)))

	// Already-marked messages are not double-prefixed.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "change.txt"), []byte("more\n"), 0644))
	require.NoError(t, g.StageAll(ctx))
	require.NoError(t, g.Commit(ctx, "[autodev] already marked"))

	cmd = exec.Command("git", "log", "-1", "--format=%s")
	cmd.Dir = dir
	out, err = cmd.Output()
	require.NoError(t, err)
	assert.Equal(t, "[autodev] already marked", strings.TrimSpace(string(out)))
}

func TestDiffLineCount(t *testing.T) {
	dir := setupGitRepo(t)
	g := NewGateway(dir, "main")
	ctx := context.Background()

	_, err := g.CreateWorkBranch(ctx, "run-3")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\nline two\nline three\n"), 0644))
	require.NoError(t, g.StageAll(ctx))

	assert.Equal(t, 2, g.DiffLineCount(ctx))
}

func TestParseShortStat(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"both", " 3 files changed, 41 insertions(+), 7 deletions(-)", 48},
		{"insertions only", " 1 file changed, 5 insertions(+)", 5},
		{"deletions only", " 1 file changed, 2 deletions(-)", 2},
		{"singular", " 1 file changed, 1 insertion(+), 1 deletion(-)", 2},
		{"empty", "", 0},
		{"garbage", "not a shortstat line", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseShortStat(tt.in))
		})
	}
}

func TestHasRemote(t *testing.T) {
	dir := setupGitRepo(t)
	g := NewGateway(dir, "main")

	assert.False(t, g.HasRemote(context.Background()))

	cmd := exec.Command("git", "remote", "add", "origin", "https://example.com/repo.git")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())

	assert.True(t, g.HasRemote(context.Background()))
}
