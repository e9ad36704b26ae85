package nodes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hadron-sdlc/hadron/pkg/pipeline"
)

const stageDelivery = "delivery"

// Delivery runs each repo's full test suite one final time and, if it
// passes, pushes the feature branch. This is the self-contained delivery
// strategy: no PR is opened here (pr_url stays empty) — that is left to a
// forge-specific delivery strategy outside this module's scope.
func Delivery(ctx context.Context, d *Deps, st pipeline.State) (*pipeline.Update, error) {
	d.stageEntered(ctx, st.CRID, stageDelivery)

	results := make([]pipeline.DeliveryResult, 0, len(st.AffectedRepos))
	for _, repo := range st.AffectedRepos {
		testsPassing, _ := runTestCommand(ctx, repo.WorktreePath, defaultString(repo.TestCommand, "pytest"), st.CRID)

		branchPushed := false
		if testsPassing {
			if err := d.Worktrees.CommitAndPush(ctx, repo.WorktreePath, fmt.Sprintf("chore: final push for %s", st.CRID)); err != nil {
				slog.Warn("push failed", "repo", repo.RepoName, "error", err)
			} else {
				branchPushed = true
			}
		}

		results = append(results, pipeline.DeliveryResult{
			RepoName: repo.RepoName, TestsPassing: testsPassing, BranchPushed: branchPushed,
		})
	}

	allDelivered := true
	for _, r := range results {
		if !r.TestsPassing || !r.BranchPushed {
			allDelivered = false
		}
	}
	d.stageCompleted(ctx, st.CRID, stageDelivery, map[string]any{"all_delivered": allDelivered})

	u := pipeline.NewUpdate("DeliveryResults", "AllDelivered", "CurrentStage", "StageHistory")
	u.State.DeliveryResults = results
	u.State.AllDelivered = allDelivered
	u.State.CurrentStage = stageDelivery
	u.State.StageHistory = []pipeline.StageHistoryEntry{{Stage: stageDelivery, Status: "completed"}}
	return u, nil
}
