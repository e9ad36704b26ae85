package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hadron-sdlc/hadron/pkg/models"
	"github.com/hadron-sdlc/hadron/pkg/pipeline"
	"github.com/hadron-sdlc/hadron/pkg/prompt"
)

const (
	stageBehaviourTranslation = "behaviour_translation"
	stageBehaviourVerification = "behaviour_verification"
)

var behaviourComposer = prompt.NewComposer()

var behaviourTools = []string{"read_file", "write_file", "list_directory", "run_command"}

// BehaviourTranslation runs the spec_writer agent over each affected repo,
// writing Gherkin .feature files directly into its worktree. A retry driven
// by BehaviourVerification carries forward that repo's verification
// feedback as Layer 4 loop feedback.
func BehaviourTranslation(ctx context.Context, d *Deps, st pipeline.State) (*pipeline.Update, error) {
	d.stageEntered(ctx, st.CRID, stageBehaviourTranslation)

	model := defaultString(d.DefaultModel, "claude-sonnet-4-20250514")
	specs := make([]pipeline.BehaviourSpec, 0, len(st.AffectedRepos))
	var totalCost float64
	var totalIn, totalOut int

	for _, repo := range st.AffectedRepos {
		repoContext := behaviourComposer.BuildRepoContext(prompt.RepoContext{
			AgentsMD:    repo.AgentsMD,
			Language:    defaultString(repo.Language, "python"),
			TestCommand: defaultString(repo.TestCommand, "pytest"),
		})
		system := behaviourComposer.ComposeSystemPrompt("spec_writer", repoContext)

		feedback := feedbackForRepo(st.BehaviourSpecs, repo.RepoName)
		payload := crTaskPayload(st.StructuredCR)
		user := behaviourComposer.ComposeUserPrompt(payload, feedback)

		task := models.AgentTask{
			CRID: st.CRID, Role: "spec_writer", SystemPrompt: system, UserPrompt: user,
			WorkingDir: repo.WorktreePath, AllowedTools: behaviourTools, ModelID: model,
		}
		d.agentStarted(ctx, st.CRID, stageBehaviourTranslation, task.Role, repo.RepoName, model, behaviourTools)
		result, err := d.Loop.Run(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("behaviour_translation: run agent for %s: %w", repo.RepoName, err)
		}
		d.costUpdate(ctx, st.CRID, stageBehaviourTranslation, result, st.CostUSD+totalCost)
		totalCost += result.CostUSD
		totalIn += result.InputTokens
		totalOut += result.OutputTokens

		convKey := d.storeConversation(ctx, st.CRID, "spec_writer", repo.RepoName, result.Conversation)
		d.agentCompleted(ctx, st.CRID, stageBehaviourTranslation, task.Role, repo.RepoName, result, convKey)

		specs = append(specs, pipeline.BehaviourSpec{
			RepoName:              repo.RepoName,
			Verified:              false,
			VerificationIteration: st.VerificationLoopCnt,
		})
	}

	d.stageCompleted(ctx, st.CRID, stageBehaviourTranslation, nil)

	u := pipeline.NewUpdate("BehaviourSpecs", "CurrentStage", "StageHistory", "CostInputTokens", "CostOutputTokens", "CostUSD")
	u.State.BehaviourSpecs = specs
	u.State.CurrentStage = stageBehaviourTranslation
	u.State.StageHistory = []pipeline.StageHistoryEntry{{Stage: stageBehaviourTranslation, Status: "completed"}}
	u.State.CostInputTokens = totalIn
	u.State.CostOutputTokens = totalOut
	u.State.CostUSD = totalCost
	return u, nil
}

// behaviourVerification result shape parsed from the spec_verifier agent.
type behaviourVerification struct {
	Verified          bool     `json:"verified"`
	Feedback          string   `json:"feedback"`
	MissingScenarios  []string `json:"missing_scenarios"`
	Issues            []string `json:"issues"`
}

// BehaviourVerification runs the spec_verifier agent over each repo's
// .feature files, folding the result into BehaviourVerified and per-repo
// feedback that the next BehaviourTranslation retry will consume.
func BehaviourVerification(ctx context.Context, d *Deps, st pipeline.State) (*pipeline.Update, error) {
	d.stageEntered(ctx, st.CRID, stageBehaviourVerification)

	model := defaultString(d.DefaultModel, "claude-sonnet-4-20250514")
	allVerified := true
	updated := make([]pipeline.BehaviourSpec, 0, len(st.AffectedRepos))
	var totalCost float64
	var totalIn, totalOut int
	iteration := st.VerificationLoopCnt + 1

	for _, repo := range st.AffectedRepos {
		system := behaviourComposer.ComposeSystemPrompt("spec_verifier", "")
		payload := crTaskPayload(st.StructuredCR) + "\n\nPlease read the .feature files in the repository and verify them against this CR."
		user := behaviourComposer.ComposeUserPrompt(payload, "")

		task := models.AgentTask{
			CRID: st.CRID, Role: "spec_verifier", SystemPrompt: system, UserPrompt: user,
			WorkingDir: repo.WorktreePath, ModelID: model,
		}
		d.agentStarted(ctx, st.CRID, stageBehaviourVerification, task.Role, repo.RepoName, model, task.AllowedTools)
		result, err := d.Loop.Run(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("behaviour_verification: run agent for %s: %w", repo.RepoName, err)
		}
		d.costUpdate(ctx, st.CRID, stageBehaviourVerification, result, st.CostUSD+totalCost)
		totalCost += result.CostUSD
		totalIn += result.InputTokens
		totalOut += result.OutputTokens

		var v behaviourVerification
		if !extractJSON(result.FinalText, &v) {
			v = behaviourVerification{Verified: false, Feedback: fmt.Sprintf("Verifier output was not valid JSON: %s", excerpt(result.FinalText, 200)), Issues: []string{"Output parsing failed"}}
		}

		convKey := d.storeConversation(ctx, st.CRID, "spec_verifier", repo.RepoName, result.Conversation)
		d.agentCompleted(ctx, st.CRID, stageBehaviourVerification, task.Role, repo.RepoName, result, convKey)

		if !v.Verified {
			allVerified = false
			slog.Warn("behaviour verification failed", "repo", repo.RepoName, "iteration", iteration, "feedback", v.Feedback)
		}

		updated = append(updated, pipeline.BehaviourSpec{
			RepoName: repo.RepoName, Verified: v.Verified,
			VerificationFeedback: v.Feedback, VerificationIteration: iteration,
		})

		d.emit(ctx, models.Event{CRID: st.CRID, EventType: models.EventStageCompleted, Stage: stageBehaviourVerification + ":" + repo.RepoName, Data: map[string]any{
			"repo": repo.RepoName, "verified": v.Verified, "feedback": v.Feedback,
			"missing_scenarios": v.MissingScenarios, "issues": v.Issues, "iteration": iteration,
		}})
	}

	d.stageCompleted(ctx, st.CRID, stageBehaviourVerification, map[string]any{"all_verified": allVerified, "iteration": iteration})

	u := pipeline.NewUpdate("BehaviourSpecs", "BehaviourVerified", "VerificationLoopCnt", "CurrentStage", "StageHistory", "CostInputTokens", "CostOutputTokens", "CostUSD")
	u.State.BehaviourSpecs = updated
	u.State.BehaviourVerified = allVerified
	u.State.VerificationLoopCnt = iteration
	u.State.CurrentStage = stageBehaviourVerification
	u.State.StageHistory = []pipeline.StageHistoryEntry{{Stage: stageBehaviourVerification, Status: "completed"}}
	u.State.CostInputTokens = totalIn
	u.State.CostOutputTokens = totalOut
	u.State.CostUSD = totalCost
	return u, nil
}

func feedbackForRepo(specs []pipeline.BehaviourSpec, repoName string) string {
	for _, s := range specs {
		if s.RepoName == repoName && s.VerificationFeedback != "" {
			return s.VerificationFeedback
		}
	}
	return ""
}

func crTaskPayload(cr pipeline.StructuredCR) string {
	var criteria strings.Builder
	for _, c := range cr.AcceptanceCriteria {
		criteria.WriteString("- " + c + "\n")
	}
	return fmt.Sprintf("# Change Request\n\n**Title:** %s\n**Description:** %s\n\n**Acceptance Criteria:**\n%s", cr.Title, cr.Description, criteria.String())
}
