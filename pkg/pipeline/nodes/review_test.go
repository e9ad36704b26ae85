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

func makeReviewableRepo(t *testing.T) (*worktree.Manager, pipeline.RepoRef) {
	t.Helper()
	m, wtPath := newTestRepo(t, "cr-3")
	require.NoError(t, os.WriteFile(filepath.Join(wtPath, "app.go"), []byte("package main\n"), 0o644))
	require.NoError(t, m.CommitAndPush(context.Background(), wtPath, "add app.go"))
	return m, pipeline.RepoRef{RepoName: "demo", WorktreePath: wtPath, DefaultBranch: "main"}
}

func TestReviewPassesWhenAllReviewersPass(t *testing.T) {
	wm, repo := makeReviewableRepo(t)
	backend := &queuedBackend{name: "anthropic", text: `{"review_passed": true, "findings": [], "summary": "looks good"}`}
	d := &nodes.Deps{Loop: newLoop(t, backend), Worktrees: wm, DefaultModel: "claude-sonnet-4-20250514"}

	st := pipeline.State{CRID: "cr-3", StructuredCR: pipeline.StructuredCR{Title: "x"}, AffectedRepos: []pipeline.RepoRef{repo}}
	update, err := nodes.Review(context.Background(), d, st)
	require.NoError(t, err)
	require.True(t, update.State.ReviewPassed)
	require.Len(t, update.State.ReviewResults, 1)
	require.Empty(t, update.State.ReviewResults[0].Findings)
}

func TestReviewMinorFindingsDoNotBlock(t *testing.T) {
	wm, repo := makeReviewableRepo(t)
	backend := &queuedBackend{name: "anthropic", text: `{"review_passed": false, "findings": [{"severity": "minor", "message": "nit", "file": "app.go", "line": 1}], "summary": "nit"}`}
	d := &nodes.Deps{Loop: newLoop(t, backend), Worktrees: wm, DefaultModel: "claude-sonnet-4-20250514"}

	st := pipeline.State{CRID: "cr-3", StructuredCR: pipeline.StructuredCR{Title: "x"}, AffectedRepos: []pipeline.RepoRef{repo}}
	update, err := nodes.Review(context.Background(), d, st)
	require.NoError(t, err)
	require.True(t, update.State.ReviewPassed, "minor/info findings must never block review")
}

func TestReviewCriticalFindingsBlock(t *testing.T) {
	wm, repo := makeReviewableRepo(t)
	backend := &queuedBackend{name: "anthropic", text: `{"review_passed": false, "findings": [{"severity": "critical", "message": "sql injection", "file": "app.go", "line": 1}], "summary": "bad"}`}
	d := &nodes.Deps{Loop: newLoop(t, backend), Worktrees: wm, DefaultModel: "claude-sonnet-4-20250514"}

	st := pipeline.State{CRID: "cr-3", StructuredCR: pipeline.StructuredCR{Title: "x"}, AffectedRepos: []pipeline.RepoRef{repo}}
	update, err := nodes.Review(context.Background(), d, st)
	require.NoError(t, err)
	require.False(t, update.State.ReviewPassed)
}
