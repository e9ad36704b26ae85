// Package agentloop implements the Agent Tool-Use Loop: the multi-round
// conversation between an LLM provider and a sandboxed Tool Executor, with
// rate-limit backoff, optional three-phase Explore/Plan/Act execution, and
// mid-loop human nudge injection.
package agentloop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hadron-sdlc/hadron/pkg/models"
	"github.com/hadron-sdlc/hadron/pkg/provider"
)

const (
	baseWait        = 2 * time.Second
	maxRateLimitTry = 5
)

// ToolExecutor is the subset of pkg/sandbox.Executor the loop depends on.
type ToolExecutor interface {
	ListTools() []models.ToolDefinition
	Execute(ctx context.Context, name string, args map[string]any) (result string, isError bool, err error)
}

// ToolExecutorFactory builds a ToolExecutor confined to one task's working
// directory. A Loop built with a factory (NewWithToolFactory) resolves a
// fresh executor per AgentTask from task.WorkingDir, since pkg/sandbox's
// Executor is itself confined to a single directory at construction — one
// Worker runs agents against several repos' worktrees in turn, so the
// confinement has to be re-resolved per task rather than fixed at Loop
// construction.
type ToolExecutorFactory func(workDir string) (ToolExecutor, error)

// NudgePoller is the subset of pkg/intervention.Manager the loop depends on.
type NudgePoller interface {
	PollNudge(ctx context.Context, crID, role string) (string, bool, error)
}

// EventEmitter appends one event to a CR's stream. It is the subset of
// pkg/events.Bus the loop depends on.
type EventEmitter interface {
	Emit(ctx context.Context, ev models.Event) (models.Event, error)
}

// Loop drives Agent Tasks to completion over a Provider Chain and a Tool
// Executor.
type Loop struct {
	chain        *provider.Chain
	tools        ToolExecutor
	toolsFactory ToolExecutorFactory
	nudges       NudgePoller
	events       EventEmitter
}

// New builds a Loop with a single fixed ToolExecutor, used for every task
// regardless of task.WorkingDir. events may be nil (no events emitted);
// nudges may be nil (nudge polling skipped).
func New(chain *provider.Chain, tools ToolExecutor, nudges NudgePoller, events EventEmitter) *Loop {
	return &Loop{chain: chain, tools: tools, nudges: nudges, events: events}
}

// NewWithToolFactory builds a Loop that resolves a fresh ToolExecutor per
// task from task.WorkingDir, for a Worker that runs agents against more
// than one repo worktree over its lifetime.
func NewWithToolFactory(chain *provider.Chain, toolsFactory ToolExecutorFactory, nudges NudgePoller, events EventEmitter) *Loop {
	return &Loop{chain: chain, toolsFactory: toolsFactory, nudges: nudges, events: events}
}

// Run executes an Agent Task, optionally as a three-phase Explore/Plan/Act
// sequence, and returns the aggregated Agent Result.
func (l *Loop) Run(ctx context.Context, task models.AgentTask) (models.AgentResult, error) {
	if task.ExploreModelID == "" {
		return l.runSinglePhase(ctx, task, task.ModelID, task.SystemPrompt, task.UserPrompt, task.AllowedTools)
	}
	return l.runThreePhase(ctx, task)
}

func (l *Loop) runThreePhase(ctx context.Context, task models.AgentTask) (models.AgentResult, error) {
	var total models.AgentResult

	l.emitPhase(ctx, task, "explore", models.EventPhaseStarted)
	exploreResult, err := l.runSinglePhase(ctx, task, task.ExploreModelID, explorerSystemPrompt, task.UserPrompt, []string{"read_file", "list_directory"})
	if err != nil {
		return models.AgentResult{}, fmt.Errorf("explore phase: %w", err)
	}
	mergeResult(&total, exploreResult)
	l.emitPhase(ctx, task, "explore", models.EventPhaseCompleted)

	var plan string
	if task.PlanModelID != "" {
		l.emitPhase(ctx, task, "plan", models.EventPhaseStarted)
		planPrompt := fmt.Sprintf("Exploration summary:\n%s\n\nOriginal task:\n%s", exploreResult.FinalText, task.UserPrompt)
		planResult, err := l.runSinglePhase(ctx, task, task.PlanModelID, plannerSystemPrompt, planPrompt, nil)
		if err != nil {
			return models.AgentResult{}, fmt.Errorf("plan phase: %w", err)
		}
		mergeResult(&total, planResult)
		plan = planResult.FinalText
		l.emitPhase(ctx, task, "plan", models.EventPhaseCompleted)
	}

	l.emitPhase(ctx, task, "act", models.EventPhaseStarted)
	actPrompt := composeActPrompt(plan, exploreResult.FinalText, task.UserPrompt)
	actResult, err := l.runSinglePhase(ctx, task, task.ActModelID, task.SystemPrompt, actPrompt, task.AllowedTools)
	if err != nil {
		return models.AgentResult{}, fmt.Errorf("act phase: %w", err)
	}
	mergeResult(&total, actResult)
	l.emitPhase(ctx, task, "act", models.EventPhaseCompleted)

	total.FinalText = actResult.FinalText
	total.TerminatedReason = actResult.TerminatedReason
	return total, nil
}

func composeActPrompt(plan, explorationSummary, userPrompt string) string {
	if plan == "" {
		return fmt.Sprintf("Exploration summary:\n%s\n\nTask:\n%s", explorationSummary, userPrompt)
	}
	return fmt.Sprintf("Plan:\n%s\n\nExploration summary:\n%s\n\nTask:\n%s", plan, explorationSummary, userPrompt)
}

func mergeResult(total *models.AgentResult, r models.AgentResult) {
	total.InputTokens += r.InputTokens
	total.OutputTokens += r.OutputTokens
	total.CostUSD += r.CostUSD
	total.ToolCalls = append(total.ToolCalls, r.ToolCalls...)
	total.Conversation = append(total.Conversation, r.Conversation...)
	total.Rounds += r.Rounds
}

func (l *Loop) emitPhase(ctx context.Context, task models.AgentTask, phase string, eventType models.EventType) {
	if l.events == nil {
		return
	}
	_, _ = l.events.Emit(ctx, models.Event{
		CRID:      task.CRID,
		EventType: eventType,
		Stage:     task.Role,
		Data:      map[string]any{"phase": phase},
	})
}

const explorerSystemPrompt = "You are in a read-only exploration phase. Use read_file and list_directory " +
	"to understand the repository. Do not attempt to modify anything. Conclude with a concise summary " +
	"of what you found relevant to the task."

const plannerSystemPrompt = "You are in a planning phase. You have no tools available. Given the " +
	"exploration summary and the task, produce a concise, concrete step-by-step plan."

// runSinglePhase runs the round loop for one phase (or the whole task, for
// single-phase execution) against a fixed model, system prompt, and tool
// set.
func (l *Loop) runSinglePhase(ctx context.Context, task models.AgentTask, modelID, systemPrompt, userPrompt string, allowedTools []string) (models.AgentResult, error) {
	toolExec, err := l.resolveTools(task.WorkingDir)
	if err != nil {
		return models.AgentResult{}, fmt.Errorf("resolve tool executor: %w", err)
	}
	tools := allowedToolDefs(toolExec, allowedTools)
	messages := []provider.Message{{Role: "user", Content: userPrompt}}
	conversation := []models.ConversationMessage{{Role: "user", Content: userPrompt}}

	result := models.AgentResult{TerminatedReason: "max_rounds"}

	maxRounds := task.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 1
	}

	for round := 0; round < maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return models.AgentResult{}, err
		}

		resp, err := l.callWithRetry(ctx, provider.Request{
			Model:     modelID,
			System:    systemPrompt,
			Messages:  messages,
			Tools:     tools,
			MaxTokens: task.MaxTokens,
		})
		if err != nil {
			result.TerminatedReason = "error"
			return result, fmt.Errorf("round %d: %w", round, err)
		}

		result.InputTokens += resp.InputTokens
		result.OutputTokens += resp.OutputTokens
		result.CostUSD += provider.CostUSD(modelID, resp.InputTokens, resp.OutputTokens)
		result.Rounds++

		if resp.Text != "" {
			conversation = append(conversation, models.ConversationMessage{Role: "assistant", Content: resp.Text})
			if task.OnOutput != nil {
				task.OnOutput(resp.Text)
			}
			l.emitAgentEvent(ctx, task, models.EventAgentOutput, map[string]any{"text": resp.Text, "round": round})
		}

		if len(resp.ToolCalls) == 0 || resp.StopReason != "tool_use" {
			result.FinalText = resp.Text
			result.TerminatedReason = "stop"
			result.Conversation = conversation
			return result, nil
		}

		assistantMsg := provider.Message{Role: "assistant", Content: resp.Text, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		for _, tc := range resp.ToolCalls {
			tc.Round = round
			content, isErr := l.executeTool(ctx, task, toolExec, tc)
			tc.Result = content
			tc.IsError = isErr
			result.ToolCalls = append(result.ToolCalls, tc)

			if task.OnToolCall != nil {
				task.OnToolCall(tc)
			}

			messages = append(messages, provider.Message{
				Role: "user",
				ToolResult: &provider.ToolResultMessage{
					ToolCallID: firstNonEmpty(tc.ID, tc.Name),
					Content:    content,
					IsError:    isErr,
				},
			})
			conversation = append(conversation, models.ConversationMessage{
				Role:    "tool",
				Content: fmt.Sprintf("%s -> %s", tc.Name, content),
			})
		}

		if l.nudges != nil {
			nudge, ok, err := l.nudges.PollNudge(ctx, task.CRID, task.Role)
			if err == nil && ok && nudge != "" {
				messages = append(messages, provider.Message{Role: "user", Content: nudge})
				conversation = append(conversation, models.ConversationMessage{Role: "user", Content: nudge})
				l.emitAgentEvent(ctx, task, models.EventAgentNudge, map[string]any{"instruction": nudge})
			}
		}
	}

	result.Conversation = conversation
	return result, nil
}

// callWithRetry calls the provider chain, retrying on a rate-limit error
// with wait = base_wait * (attempt + 1), up to maxRateLimitTry attempts.
func (l *Loop) callWithRetry(ctx context.Context, req provider.Request) (provider.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxRateLimitTry; attempt++ {
		resp, err := l.chain.Execute(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRateLimitErr(err) {
			return provider.Response{}, err
		}
		wait := baseWait * time.Duration(attempt+1)
		select {
		case <-ctx.Done():
			return provider.Response{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	return provider.Response{}, fmt.Errorf("exhausted %d rate-limit retries: %w", maxRateLimitTry, lastErr)
}

func isRateLimitErr(err error) bool {
	msg := err.Error()
	for _, s := range []string{"rate_limit", "429", "too many requests"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (l *Loop) executeTool(ctx context.Context, task models.AgentTask, toolExec ToolExecutor, tc models.ToolCall) (string, bool) {
	l.emitAgentEvent(ctx, task, models.EventAgentToolCall, map[string]any{"tool": tc.Name, "args": tc.Args})
	if toolExec == nil {
		return "no tool executor configured", true
	}
	content, isErr, err := toolExec.Execute(ctx, tc.Name, tc.Args)
	if err != nil {
		return fmt.Sprintf("tool execution error: %s", err.Error()), true
	}
	return content, isErr
}

// resolveTools picks the ToolExecutor for one task: the factory, re-resolved
// from the task's working directory, if the Loop was built with one;
// otherwise the single fixed executor supplied to New.
func (l *Loop) resolveTools(workDir string) (ToolExecutor, error) {
	if l.toolsFactory != nil {
		exec, err := l.toolsFactory(workDir)
		if err != nil {
			return nil, err
		}
		return exec, nil
	}
	return l.tools, nil
}

func (l *Loop) emitAgentEvent(ctx context.Context, task models.AgentTask, eventType models.EventType, data map[string]any) {
	if l.events == nil {
		return
	}
	_, _ = l.events.Emit(ctx, models.Event{CRID: task.CRID, EventType: eventType, Stage: task.Role, Data: data})
}

func allowedToolDefs(toolExec ToolExecutor, allowed []string) []models.ToolDefinition {
	if toolExec == nil {
		return nil
	}
	all := toolExec.ListTools()
	if len(allowed) == 0 {
		return all
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}
	var out []models.ToolDefinition
	for _, t := range all {
		if allowedSet[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
