package nodes_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadron-sdlc/hadron/pkg/pipeline"
	"github.com/hadron-sdlc/hadron/pkg/pipeline/nodes"
)

func TestRebaseCleanWhenNoDivergence(t *testing.T) {
	wm, wtPath := newTestRepo(t, "cr-6")
	backend := &queuedBackend{name: "anthropic", text: "n/a"}
	d := &nodes.Deps{Loop: newLoop(t, backend), Worktrees: wm, DefaultModel: "claude-sonnet-4-20250514"}

	st := pipeline.State{CRID: "cr-6", AffectedRepos: []pipeline.RepoRef{
		{RepoName: "demo", WorktreePath: wtPath, DefaultBranch: "main", TestCommand: "true"},
	}}
	update, err := nodes.Rebase(context.Background(), d, st)
	require.NoError(t, err)
	require.True(t, update.State.RebaseClean)
	require.Empty(t, update.State.RebaseConflicts)
}

func TestRebaseAbortsAfterConflictResolverExhaustsBudget(t *testing.T) {
	wm, wtPath := newTestRepo(t, "cr-8")

	// Diverge origin/main with a conflicting upstream change to README.md.
	origin := originRemoteOf(t, wtPath)
	otherClone := t.TempDir()
	gitRun(t, otherClone, "clone", origin, ".")
	gitRun(t, otherClone, "config", "user.email", "other@example.com")
	gitRun(t, otherClone, "config", "user.name", "other")
	require.NoError(t, os.WriteFile(filepath.Join(otherClone, "README.md"), []byte("changed upstream\n"), 0o644))
	gitRun(t, otherClone, "add", "-A")
	gitRun(t, otherClone, "commit", "-m", "upstream change")
	gitRun(t, otherClone, "push", "origin", "main")

	require.NoError(t, os.WriteFile(filepath.Join(wtPath, "README.md"), []byte("changed in worktree\n"), 0o644))
	require.NoError(t, wm.CommitAndPush(context.Background(), wtPath, "worktree change"))

	// conflict_resolver "rewrites" the file but leaves conflict markers in
	// place every time, so every retry still fails to continue — exercising
	// the abort-after-budget path.
	backend := &queuedBackend{name: "anthropic", text: "attempted resolution"}
	d := &nodes.Deps{Loop: newLoop(t, backend), Worktrees: wm, DefaultModel: "claude-sonnet-4-20250514"}

	st := pipeline.State{CRID: "cr-8", AffectedRepos: []pipeline.RepoRef{
		{RepoName: "demo", WorktreePath: wtPath, DefaultBranch: "main", TestCommand: "true"},
	}}
	update, err := nodes.Rebase(context.Background(), d, st)
	require.NoError(t, err)
	require.False(t, update.State.RebaseClean)
	require.Contains(t, update.State.RebaseConflicts, "demo")
	require.Equal(t, "paused", update.State.Status)
}

func originRemoteOf(t *testing.T, wtPath string) string {
	t.Helper()
	cmd := exec.Command("git", "remote", "get-url", "origin")
	cmd.Dir = wtPath
	out, err := cmd.CombinedOutput()
	require.NoError(t, err)
	return strings.TrimSpace(string(out))
}
