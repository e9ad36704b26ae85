package nodes

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hadron-sdlc/hadron/pkg/models"
	"github.com/hadron-sdlc/hadron/pkg/pipeline"
	"github.com/hadron-sdlc/hadron/pkg/prompt"
)

const stageReview = "review"

var reviewComposer = prompt.NewComposer()

var reviewTools = []string{"read_file", "list_directory"}

// reviewRoles are the three parallel reviewer lenses run over every repo's
// diff. Findings from all three are merged before the pass/fail decision.
var reviewRoles = []string{"security_reviewer", "quality_reviewer", "spec_compliance_reviewer"}

const diffExcerptChars = 30000

type reviewOutput struct {
	ReviewPassed bool              `json:"review_passed"`
	Findings     []pipeline.Finding `json:"findings"`
	Summary      string            `json:"summary"`
}

// Review runs security, quality, and spec-compliance reviewer agents
// concurrently (via sync.WaitGroup, this module's established concurrency
// idiom) over each repo's diff, merges their findings, and blocks only on
// critical/major severity — minor/info findings never fail the stage.
func Review(ctx context.Context, d *Deps, st pipeline.State) (*pipeline.Update, error) {
	d.stageEntered(ctx, st.CRID, stageReview)

	model := defaultString(d.DefaultModel, "claude-sonnet-4-20250514")
	results := make([]pipeline.ReviewResult, 0, len(st.AffectedRepos))
	var totalCost float64
	var totalIn, totalOut int
	iteration := st.ReviewLoopCount + 1

	for _, repo := range st.AffectedRepos {
		diff, err := d.Worktrees.GetDiff(ctx, repo.WorktreePath, defaultString(repo.DefaultBranch, "main"))
		if err != nil {
			return nil, fmt.Errorf("review: get_diff for %s: %w", repo.RepoName, err)
		}
		scopeFlags := analyseDiffScope(diff)

		var wg sync.WaitGroup
		outputs := make([]reviewOutput, len(reviewRoles))
		costs := make([]models.AgentResult, len(reviewRoles))
		errs := make([]error, len(reviewRoles))

		for i, role := range reviewRoles {
			i, role := i, role
			wg.Add(1)
			go func() {
				defer wg.Done()
				system := reviewComposer.ComposeSystemPrompt(role, "")
				payload := reviewTaskPayload(st.StructuredCR, repo.DefaultBranch, diff)
				if role == "security_reviewer" && len(scopeFlags) > 0 {
					payload += "\n\n## Diff Scope Warnings\n\n" + formatScopeFlags(scopeFlags)
				}
				user := reviewComposer.ComposeUserPrompt(payload, "")

				task := models.AgentTask{
					CRID: st.CRID, Role: role, SystemPrompt: system, UserPrompt: user,
					WorkingDir: repo.WorktreePath, AllowedTools: reviewTools, ModelID: model,
				}
				d.agentStarted(ctx, st.CRID, stageReview, role, repo.RepoName, model, reviewTools)
				result, err := d.Loop.Run(ctx, task)
				if err != nil {
					errs[i] = fmt.Errorf("%s: %w", role, err)
					return
				}
				costs[i] = result

				var out reviewOutput
				if !extractJSON(result.FinalText, &out) {
					out = reviewOutput{ReviewPassed: true, Summary: excerpt(result.FinalText, 500)}
				}
				outputs[i] = out

				convKey := d.storeConversation(ctx, st.CRID, role, repo.RepoName, result.Conversation)
				d.agentCompleted(ctx, st.CRID, stageReview, role, repo.RepoName, result, convKey)
			}()
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return nil, fmt.Errorf("review: %w", err)
			}
		}

		var findings []pipeline.Finding
		passed := true
		for i, out := range outputs {
			findings = append(findings, out.Findings...)
			if !out.ReviewPassed {
				passed = false
			}
			d.costUpdate(ctx, st.CRID, stageReview, costs[i], st.CostUSD+totalCost)
			totalCost += costs[i].CostUSD
			totalIn += costs[i].InputTokens
			totalOut += costs[i].OutputTokens
		}

		// Only block on critical/major findings — minor/info should never block.
		blocking := false
		for _, f := range findings {
			if f.Severity == "critical" || f.Severity == "major" {
				blocking = true
				break
			}
		}
		passed = !blocking

		for _, f := range findings {
			d.emit(ctx, models.Event{CRID: st.CRID, EventType: models.EventReviewFinding, Stage: stageReview, Data: map[string]any{
				"repo": repo.RepoName, "severity": f.Severity, "message": f.Message, "file": f.File, "line": f.Line,
			}})
		}

		results = append(results, pipeline.ReviewResult{RepoName: repo.RepoName, Findings: findings, Passed: passed})
	}

	allPassed := true
	for _, r := range results {
		if !r.Passed {
			allPassed = false
		}
	}
	d.stageCompleted(ctx, st.CRID, stageReview, map[string]any{"all_passed": allPassed})

	u := pipeline.NewUpdate("ReviewResults", "ReviewPassed", "ReviewLoopCount", "CurrentStage", "StageHistory", "CostInputTokens", "CostOutputTokens", "CostUSD")
	u.State.ReviewResults = results
	u.State.ReviewPassed = allPassed
	u.State.ReviewLoopCount = iteration
	u.State.CurrentStage = stageReview
	u.State.StageHistory = []pipeline.StageHistoryEntry{{Stage: stageReview, Status: "completed"}}
	u.State.CostInputTokens = totalIn
	u.State.CostOutputTokens = totalOut
	u.State.CostUSD = totalCost
	return u, nil
}

func reviewTaskPayload(cr pipeline.StructuredCR, defaultBranch, diff string) string {
	base := crTaskPayload(cr)
	return fmt.Sprintf("%s\n# Code Diff (feature branch vs %s)\n\n```diff\n%s\n```\n", base, defaultString(defaultBranch, "main"), excerpt(diff, diffExcerptChars))
}

func formatScopeFlags(flags []ScopeFlag) string {
	var b strings.Builder
	for _, f := range flags {
		b.WriteString("- " + f.Message + "\n")
	}
	return b.String()
}
