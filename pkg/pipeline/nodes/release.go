package nodes

import (
	"context"

	"github.com/hadron-sdlc/hadron/pkg/pipeline"
)

const stageRelease = "release"

// Release is an MVP stub that marks an approved CR as released. It assumes
// the self-contained delivery strategy already pushed the final branch in
// the delivery node; a future iteration can add forge-specific release
// steps here (tagging, PR merge, changelog entry) without touching
// upstream stages.
func Release(ctx context.Context, d *Deps, st pipeline.State) (*pipeline.Update, error) {
	d.stageEntered(ctx, st.CRID, stageRelease)

	d.stageCompleted(ctx, st.CRID, stageRelease, map[string]any{"released": st.ReleaseApproved && st.AllDelivered})

	u := pipeline.NewUpdate("Released", "CurrentStage", "StageHistory")
	u.State.Released = st.ReleaseApproved && st.AllDelivered
	u.State.CurrentStage = stageRelease
	u.State.StageHistory = []pipeline.StageHistoryEntry{{Stage: stageRelease, Status: "completed"}}
	return u, nil
}
