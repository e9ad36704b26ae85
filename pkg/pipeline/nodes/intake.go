package nodes

import (
	"context"
	"fmt"

	"github.com/hadron-sdlc/hadron/pkg/models"
	"github.com/hadron-sdlc/hadron/pkg/pipeline"
	"github.com/hadron-sdlc/hadron/pkg/prompt"
)

const stageIntake = "intake"

var intakeComposer = prompt.NewComposer()

// Intake parses the raw CR title/text into a StructuredCR via the
// intake_parser role. On parse failure it falls back to a minimal structured
// record flagged with intake_parse_failed, rather than failing the stage.
func Intake(ctx context.Context, d *Deps, st pipeline.State) (*pipeline.Update, error) {
	d.stageEntered(ctx, st.CRID, stageIntake)

	model := defaultString(d.DefaultModel, "claude-sonnet-4-20250514")
	task := models.AgentTask{
		CRID:         st.CRID,
		Role:         "intake_parser",
		SystemPrompt: intakeComposer.ComposeSystemPrompt("intake_parser", ""),
		UserPrompt:   fmt.Sprintf("# Change Request\n\n**Title:** %s\n\n**Description:**\n%s", st.RawCRTitle, st.RawCRText),
		AllowedTools: nil,
		ModelID:      model,
	}

	d.agentStarted(ctx, st.CRID, stageIntake, task.Role, "", model, task.AllowedTools)
	result, err := d.Loop.Run(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("intake: run agent: %w", err)
	}
	d.costUpdate(ctx, st.CRID, stageIntake, result, st.CostUSD)

	convKey := d.storeConversation(ctx, st.CRID, "intake_parser", "", result.Conversation)

	var structured pipeline.StructuredCR
	if !extractJSON(result.FinalText, &structured) {
		structured = pipeline.StructuredCR{
			Title:           st.RawCRTitle,
			Description:     st.RawCRText,
			Priority:        "medium",
			RiskFlags:       []string{"intake_parse_failed"},
		}
	}

	d.agentCompleted(ctx, st.CRID, stageIntake, task.Role, "", result, convKey)
	d.stageCompleted(ctx, st.CRID, stageIntake, map[string]any{"structured_cr": structured})

	u := pipeline.NewUpdate("StructuredCR", "CurrentStage", "StageHistory", "CostInputTokens", "CostOutputTokens", "CostUSD")
	u.State.StructuredCR = structured
	u.State.CurrentStage = stageIntake
	u.State.StageHistory = []pipeline.StageHistoryEntry{{Stage: stageIntake, Status: "completed"}}
	u.State.CostInputTokens = result.InputTokens
	u.State.CostOutputTokens = result.OutputTokens
	u.State.CostUSD = result.CostUSD
	return u, nil
}
