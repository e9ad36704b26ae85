package nodes_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadron-sdlc/hadron/pkg/pipeline"
	"github.com/hadron-sdlc/hadron/pkg/pipeline/nodes"
	"github.com/hadron-sdlc/hadron/pkg/worktree"
)

func TestWorktreeSetupClonesAndPicksUpAgentsMD(t *testing.T) {
	origin := t.TempDir()
	gitRun(t, origin, "init", "--bare", "-b", "main")

	seed := t.TempDir()
	gitRun(t, seed, "init", "-b", "main")
	gitRun(t, seed, "config", "user.email", "test@example.com")
	gitRun(t, seed, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(seed, "AGENTS.md"), []byte("follow style X"), 0o644))
	gitRun(t, seed, "add", "-A")
	gitRun(t, seed, "commit", "-m", "initial")
	gitRun(t, seed, "remote", "add", "origin", origin)
	gitRun(t, seed, "push", "origin", "main")

	ws := t.TempDir()
	m, err := worktree.New(ws)
	require.NoError(t, err)
	d := &nodes.Deps{Worktrees: m}

	st := pipeline.State{CRID: "cr-7", AffectedRepos: []pipeline.RepoRef{
		{RepoURL: origin, DefaultBranch: "main"},
	}}
	update, err := nodes.WorktreeSetup(context.Background(), d, st)
	require.NoError(t, err)
	require.Len(t, update.State.AffectedRepos, 1)
	repo := update.State.AffectedRepos[0]
	require.NotEmpty(t, repo.RepoName)
	require.NotEmpty(t, repo.WorktreePath)
	require.Equal(t, "follow style X", repo.AgentsMD)
	require.DirExists(t, repo.WorktreePath)
}
