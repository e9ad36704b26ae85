package agentloop_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadron-sdlc/hadron/pkg/agentloop"
	"github.com/hadron-sdlc/hadron/pkg/models"
	"github.com/hadron-sdlc/hadron/pkg/provider"
)

// scriptedBackend returns one canned Response per call, in order.
type scriptedBackend struct {
	name      string
	responses []provider.Response
	calls     int
	requests  []provider.Request
}

func (b *scriptedBackend) Name() string { return b.name }

func (b *scriptedBackend) Complete(_ context.Context, req provider.Request) (provider.Response, error) {
	b.requests = append(b.requests, req)
	if b.calls >= len(b.responses) {
		return provider.Response{}, errors.New("scriptedBackend: out of responses")
	}
	resp := b.responses[b.calls]
	b.calls++
	return resp, nil
}

func (b *scriptedBackend) Stream(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	resp, err := b.Complete(ctx, req)
	ch := make(chan provider.StreamChunk, 1)
	ch <- provider.StreamChunk{Response: resp, Done: true, Err: err}
	close(ch)
	return ch, nil
}

type fakeTools struct {
	lastArgs map[string]any
}

func (f *fakeTools) ListTools() []models.ToolDefinition {
	return []models.ToolDefinition{{Name: "read_file", Description: "read"}}
}

func (f *fakeTools) Execute(_ context.Context, name string, args map[string]any) (string, bool, error) {
	f.lastArgs = args
	if name == "read_file" {
		return "file contents", false, nil
	}
	return "", true, errors.New("unknown tool")
}

func newChain(t *testing.T, backend provider.Backend) *provider.Chain {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register(backend)
	return provider.NewChain(reg, []string{"anthropic"})
}

func TestRunSinglePhaseNoToolCallsStopsImmediately(t *testing.T) {
	backend := &scriptedBackend{
		name: "anthropic",
		responses: []provider.Response{
			{Text: "all done", StopReason: "end_turn", InputTokens: 10, OutputTokens: 5},
		},
	}
	loop := agentloop.New(newChain(t, backend), &fakeTools{}, nil, nil)

	result, err := loop.Run(context.Background(), models.AgentTask{
		CRID: "cr-1", Role: "developer", ModelID: "claude-sonnet-4-20250514",
		UserPrompt: "do the thing", MaxToolRounds: 3,
	})
	require.NoError(t, err)
	require.Equal(t, "all done", result.FinalText)
	require.Equal(t, "stop", result.TerminatedReason)
	require.Equal(t, 1, result.Rounds)
	require.Greater(t, result.CostUSD, 0.0)
}

func TestRunSinglePhaseExecutesToolThenStops(t *testing.T) {
	backend := &scriptedBackend{
		name: "anthropic",
		responses: []provider.Response{
			{
				Text:       "let me check",
				StopReason: "tool_use",
				ToolCalls:  []models.ToolCall{{ID: "tc1", Name: "read_file", Args: map[string]any{"path": "a.go"}}},
			},
			{Text: "found it", StopReason: "end_turn"},
		},
	}
	tools := &fakeTools{}
	loop := agentloop.New(newChain(t, backend), tools, nil, nil)

	result, err := loop.Run(context.Background(), models.AgentTask{
		CRID: "cr-1", Role: "developer", ModelID: "claude-sonnet-4-20250514",
		UserPrompt: "inspect a.go", MaxToolRounds: 5,
	})
	require.NoError(t, err)
	require.Equal(t, "found it", result.FinalText)
	require.Len(t, result.ToolCalls, 1)
	require.Equal(t, "file contents", result.ToolCalls[0].Result)
	require.False(t, result.ToolCalls[0].IsError)
	require.Equal(t, "a.go", tools.lastArgs["path"])
	require.Equal(t, 2, result.Rounds)
}

func TestRunSinglePhaseStopsAtMaxRounds(t *testing.T) {
	backend := &scriptedBackend{
		name: "anthropic",
		responses: []provider.Response{
			{Text: "round1", StopReason: "tool_use", ToolCalls: []models.ToolCall{{Name: "read_file", Args: map[string]any{"path": "x"}}}},
			{Text: "round2", StopReason: "tool_use", ToolCalls: []models.ToolCall{{Name: "read_file", Args: map[string]any{"path": "x"}}}},
		},
	}
	loop := agentloop.New(newChain(t, backend), &fakeTools{}, nil, nil)

	result, err := loop.Run(context.Background(), models.AgentTask{
		CRID: "cr-1", Role: "developer", ModelID: "claude-sonnet-4-20250514",
		UserPrompt: "loop forever", MaxToolRounds: 2,
	})
	require.NoError(t, err)
	require.Equal(t, "max_rounds", result.TerminatedReason)
	require.Equal(t, 2, result.Rounds)
}

type fakeNudges struct {
	instruction string
	delivered   bool
}

func (f *fakeNudges) PollNudge(_ context.Context, _, _ string) (string, bool, error) {
	if f.delivered || f.instruction == "" {
		return "", false, nil
	}
	f.delivered = true
	return f.instruction, true, nil
}

func TestThreePhaseComposesActPromptFromPlanAndExploration(t *testing.T) {
	backend := &scriptedBackend{
		name: "anthropic",
		responses: []provider.Response{
			{Text: "explored the repo: found main.go", StopReason: "end_turn"},
			{Text: "plan: edit main.go", StopReason: "end_turn"},
			{Text: "done editing", StopReason: "end_turn"},
		},
	}
	loop := agentloop.New(newChain(t, backend), &fakeTools{}, nil, nil)

	result, err := loop.Run(context.Background(), models.AgentTask{
		CRID: "cr-1", Role: "developer",
		ModelID: "claude-sonnet-4-20250514", ExploreModelID: "claude-sonnet-4-20250514",
		PlanModelID: "claude-sonnet-4-20250514", ActModelID: "claude-sonnet-4-20250514",
		UserPrompt: "add a flag", MaxToolRounds: 3,
	})
	require.NoError(t, err)
	require.Equal(t, "done editing", result.FinalText)
	require.Equal(t, 3, result.Rounds)

	require.Len(t, backend.requests, 3)
	actPrompt := backend.requests[2].Messages[0].Content
	require.Contains(t, actPrompt, "plan: edit main.go")
	require.Contains(t, actPrompt, "explored the repo: found main.go")
	require.Contains(t, actPrompt, "add a flag")
}
