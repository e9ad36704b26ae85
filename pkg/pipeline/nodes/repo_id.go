package nodes

import (
	"context"

	"github.com/hadron-sdlc/hadron/pkg/pipeline"
)

const stageRepoID = "repo_id"

// RepoID identifies the repositories a CR affects. MVP: the repo list comes
// straight from the CR submission; there is no landscape-intelligence
// lookup here.
func RepoID(ctx context.Context, d *Deps, st pipeline.State) (*pipeline.Update, error) {
	d.stageEntered(ctx, st.CRID, stageRepoID)

	if len(st.AffectedRepos) == 0 {
		d.stageCompleted(ctx, st.CRID, stageRepoID, map[string]any{"error": "no affected repositories specified"})
		u := pipeline.NewUpdate("CurrentStage", "Status", "Error", "StageHistory")
		u.State.CurrentStage = stageRepoID
		u.State.Status = "failed"
		u.State.Error = "no affected repositories specified"
		u.State.StageHistory = []pipeline.StageHistoryEntry{{Stage: stageRepoID, Status: "failed"}}
		return u, nil
	}

	names := make([]string, 0, len(st.AffectedRepos))
	for _, r := range st.AffectedRepos {
		names = append(names, defaultString(r.RepoName, r.RepoURL))
	}
	d.stageCompleted(ctx, st.CRID, stageRepoID, map[string]any{"repos": names})

	u := pipeline.NewUpdate("CurrentStage", "StageHistory")
	u.State.CurrentStage = stageRepoID
	u.State.StageHistory = []pipeline.StageHistoryEntry{{Stage: stageRepoID, Status: "completed"}}
	return u, nil
}
