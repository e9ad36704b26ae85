package nodes

import (
	"context"
	"log/slog"

	"github.com/hadron-sdlc/hadron/pkg/pipeline"
)

const stageReleaseGate = "release_gate"

// ReleaseGate is an MVP auto-approve stub: a future iteration can wire in a
// human-in-the-loop intervention check here, but for now every delivered CR
// is approved for release and the decision is only logged for visibility.
func ReleaseGate(ctx context.Context, d *Deps, st pipeline.State) (*pipeline.Update, error) {
	d.stageEntered(ctx, st.CRID, stageReleaseGate)

	slog.Info("release gate auto-approve", "cr_id", st.CRID, "title", st.StructuredCR.Title)
	d.stageCompleted(ctx, st.CRID, stageReleaseGate, map[string]any{"approved": true, "mode": "auto_approve_mvp"})

	u := pipeline.NewUpdate("ReleaseApproved", "CurrentStage", "StageHistory")
	u.State.ReleaseApproved = true
	u.State.CurrentStage = stageReleaseGate
	u.State.StageHistory = []pipeline.StageHistoryEntry{{Stage: stageReleaseGate, Status: "completed"}}
	return u, nil
}
