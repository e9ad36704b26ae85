package nodes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hadron-sdlc/hadron/pkg/pipeline"
	"github.com/hadron-sdlc/hadron/pkg/worktree"
)

const stageWorktreeSetup = "worktree_setup"

// directoryTreeMaxDepth bounds how deep GetDirectoryTree descends when
// building prompt context for a freshly checked-out worktree.
const directoryTreeMaxDepth = 4

// agentsMDCandidates are checked in order for repo-local agent instructions,
// the first one present wins.
var agentsMDCandidates = []string{"AGENTS.md", "CLAUDE.md"}

// WorktreeSetup clones each affected repo's bare mirror and checks out a
// feature-branch worktree for this CR, picking up any AGENTS.md/CLAUDE.md
// instructions and a compact directory tree for later prompt context.
func WorktreeSetup(ctx context.Context, d *Deps, st pipeline.State) (*pipeline.Update, error) {
	d.stageEntered(ctx, st.CRID, stageWorktreeSetup)

	updated := make([]pipeline.RepoRef, 0, len(st.AffectedRepos))
	for _, repo := range st.AffectedRepos {
		repoName := repo.RepoName
		if repoName == "" {
			repoName = lastPathSegment(repo.RepoURL)
		}
		startBranch := defaultString(repo.DefaultBranch, "main")

		if _, err := d.Worktrees.CloneBare(ctx, repo.RepoURL, repoName); err != nil {
			return nil, fmt.Errorf("worktree_setup: clone %s: %w", repoName, err)
		}
		wtPath, err := d.Worktrees.CreateWorktree(ctx, repoName, st.CRID, startBranch)
		if err != nil {
			return nil, fmt.Errorf("worktree_setup: create worktree %s: %w", repoName, err)
		}

		agentsMD := readFirstExisting(wtPath, agentsMDCandidates)
		tree, err := worktree.GetDirectoryTree(wtPath, directoryTreeMaxDepth)
		if err != nil {
			return nil, fmt.Errorf("worktree_setup: directory tree %s: %w", repoName, err)
		}

		repo.RepoName = repoName
		repo.DefaultBranch = startBranch
		repo.WorktreePath = wtPath
		repo.AgentsMD = agentsMD
		repo.DirectoryTree = tree
		updated = append(updated, repo)
	}

	paths := make([]string, 0, len(updated))
	for _, r := range updated {
		paths = append(paths, r.WorktreePath)
	}
	d.stageCompleted(ctx, st.CRID, stageWorktreeSetup, map[string]any{"worktrees": paths})

	u := pipeline.NewUpdate("AffectedRepos", "CurrentStage", "StageHistory")
	u.State.AffectedRepos = updated
	u.State.CurrentStage = stageWorktreeSetup
	u.State.StageHistory = []pipeline.StageHistoryEntry{{Stage: stageWorktreeSetup, Status: "completed"}}
	return u, nil
}

func lastPathSegment(url string) string {
	trimmed := strings.TrimRight(url, "/")
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}

func readFirstExisting(dir string, names []string) string {
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return string(b)
		}
	}
	return ""
}
