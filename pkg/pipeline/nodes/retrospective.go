package nodes

import (
	"context"
	"log/slog"

	"github.com/hadron-sdlc/hadron/pkg/models"
	"github.com/hadron-sdlc/hadron/pkg/pipeline"
)

const stageRetrospective = "retrospective"

// Retrospective is an MVP stub that logs the run summary and marks the
// pipeline completed. No Knowledge Store writes yet.
func Retrospective(ctx context.Context, d *Deps, st pipeline.State) (*pipeline.Update, error) {
	d.stageEntered(ctx, st.CRID, stageRetrospective)

	slog.Info("retrospective", "cr_id", st.CRID, "title", st.StructuredCR.Title,
		"dev_loops", st.DevLoopCount, "review_loops", st.ReviewLoopCount, "cost_usd", st.CostUSD)

	d.emit(ctx, models.Event{CRID: st.CRID, EventType: models.EventPipelineCompleted, Stage: stageRetrospective, Data: map[string]any{
		"title": st.StructuredCR.Title, "dev_loops": st.DevLoopCount, "review_loops": st.ReviewLoopCount, "cost_usd": st.CostUSD,
	}})

	u := pipeline.NewUpdate("CurrentStage", "Status", "StageHistory")
	u.State.CurrentStage = stageRetrospective
	u.State.Status = "completed"
	u.State.StageHistory = []pipeline.StageHistoryEntry{{Stage: stageRetrospective, Status: "completed"}}
	return u, nil
}
