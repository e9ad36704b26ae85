// Package nodes implements the twelve Pipeline Nodes: per-stage logic that
// invokes agents over the Agent Tool-Use Loop, wires events onto the Event
// Bus, and folds results back into a sparse pipeline.Update. Every node has
// the shape PipelineState x Deps -> partial state update.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hadron-sdlc/hadron/pkg/agentloop"
	"github.com/hadron-sdlc/hadron/pkg/models"
	"github.com/hadron-sdlc/hadron/pkg/worktree"
)

// conversationTTL is how long a stored agent conversation survives in the
// KVS before expiring, matching the original event-replay retention window.
const conversationTTL = 7 * 24 * time.Hour

// testTimeout bounds any test-suite invocation a node drives directly
// (TDD's green phase, rebase's post-rebase check, delivery's final run).
const testTimeout = 120 * time.Second

// Deps bundles the collaborators every node needs: the Agent Tool-Use Loop,
// the Event Bus, conversation storage, and the Worktree Manager.
type Deps struct {
	Loop         *agentloop.Loop
	Events       agentloop.EventEmitter
	RDB          *redis.Client
	Worktrees    *worktree.Manager
	WorkspaceDir string
	DefaultModel string
}

func (d *Deps) emit(ctx context.Context, ev models.Event) {
	if d.Events == nil {
		return
	}
	_, _ = d.Events.Emit(ctx, ev)
}

func (d *Deps) stageEntered(ctx context.Context, crID, stage string) {
	d.emit(ctx, models.Event{CRID: crID, EventType: models.EventStageEntered, Stage: stage})
}

func (d *Deps) stageCompleted(ctx context.Context, crID, stage string, data map[string]any) {
	d.emit(ctx, models.Event{CRID: crID, EventType: models.EventStageCompleted, Stage: stage, Data: data})
}

func (d *Deps) agentStarted(ctx context.Context, crID, stage, role, repo, model string, tools []string) {
	d.emit(ctx, models.Event{CRID: crID, EventType: models.EventAgentStarted, Stage: stage, Data: map[string]any{
		"role": role, "repo": repo, "model": model, "allowed_tools": tools,
	}})
}

func (d *Deps) agentCompleted(ctx context.Context, crID, stage, role, repo string, result models.AgentResult, convKey string) {
	d.emit(ctx, models.Event{CRID: crID, EventType: models.EventAgentCompleted, Stage: stage, Data: map[string]any{
		"role": role, "repo": repo, "output": excerpt(result.FinalText, 2000),
		"input_tokens": result.InputTokens, "output_tokens": result.OutputTokens,
		"cost_usd": result.CostUSD, "tool_calls_count": len(result.ToolCalls),
		"round_count": result.Rounds, "conversation_key": convKey,
	}})
}

func (d *Deps) costUpdate(ctx context.Context, crID, stage string, result models.AgentResult, priorCost float64) {
	d.emit(ctx, models.Event{CRID: crID, EventType: models.EventCostUpdate, Stage: stage, Data: map[string]any{
		"delta_usd": result.CostUSD, "total_cost_usd": priorCost + result.CostUSD,
		"input_tokens": result.InputTokens, "output_tokens": result.OutputTokens,
	}})
}

// storeConversation persists an agent conversation to the KVS with a 7-day
// TTL, returning its key (empty if no Redis client is configured, or the
// conversation is empty).
func (d *Deps) storeConversation(ctx context.Context, crID, role, repo string, conv []models.ConversationMessage) string {
	if d.RDB == nil || len(conv) == 0 {
		return ""
	}
	key := fmt.Sprintf("hadron:cr:%s:conv:%s:%s:%d", crID, role, repo, time.Now().Unix())
	raw, err := json.Marshal(conv)
	if err != nil {
		return ""
	}
	if err := d.RDB.Set(ctx, key, raw, conversationTTL).Err(); err != nil {
		return ""
	}
	return key
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func interpolateCRID(command, crID string) string {
	return strings.ReplaceAll(command, "{cr_id}", crID)
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// extractJSON tries, in order, a fenced ```json block, any fenced block, the
// span from the first '{' to the last '}', then the whole text — the same cascade
// the original parser uses so a chatty model response still yields
// structured output.
func extractJSON(text string, out any) bool {
	var candidates []string
	if i := strings.Index(text, "```json"); i >= 0 {
		rest := text[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			candidates = append(candidates, rest[:j])
		}
	}
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			candidates = append(candidates, rest[:j])
		}
	}
	if i := strings.Index(text, "{"); i >= 0 {
		if j := strings.LastIndex(text, "}"); j >= i {
			candidates = append(candidates, text[i:j+1])
		}
	}
	candidates = append(candidates, text)

	for _, c := range candidates {
		if json.Unmarshal([]byte(strings.TrimSpace(c)), out) == nil {
			return true
		}
	}
	return false
}

// runTestCommand runs a repo's test command with {cr_id} interpolated, cwd
// set to the worktree, and a wall-clock kill rather than a leaked process.
func runTestCommand(ctx context.Context, worktreePath, testCommand, crID string) (bool, string) {
	cmd := interpolateCRID(testCommand, crID)
	runCtx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	c := exec.CommandContext(runCtx, "sh", "-c", cmd)
	c.Dir = worktreePath
	out, err := c.CombinedOutput()

	if runCtx.Err() != nil {
		return false, fmt.Sprintf("Error: test command timed out after %s (process killed)", testTimeout)
	}
	return err == nil, string(out)
}
