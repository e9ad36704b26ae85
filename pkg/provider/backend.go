// Package provider implements the Provider Chain: a provider-neutral
// completion request/response shape, two concrete backends (Anthropic and
// Gemini shaped), and the natural-provider-then-fallback-chain routing
// logic the Agent Tool-Use Loop drives.
package provider

import (
	"context"

	"github.com/hadron-sdlc/hadron/pkg/models"
)

// Message is one turn of a provider-neutral conversation.
type Message struct {
	Role       string // "user" | "assistant" | "tool"
	Content    string
	ToolCalls  []models.ToolCall
	ToolResult *ToolResultMessage
}

// ToolResultMessage carries a tool's output back to the model.
type ToolResultMessage struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Request is the provider-neutral shape of a single completion call.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []models.ToolDefinition
	MaxTokens int
}

// Response is the provider-neutral shape of a completed call: either final
// text, or one or more tool calls the loop must execute before continuing.
type Response struct {
	Text         string
	ToolCalls    []models.ToolCall
	InputTokens  int
	OutputTokens int
	StopReason   string // "end_turn" | "tool_use" | "max_tokens"
}

// StreamChunk is one unit delivered by Backend.Stream. Exactly one chunk
// carries Done=true, at which point Response holds the completion's final
// text/tool-calls/usage and Err (if non-nil) holds the call's terminal error.
type StreamChunk struct {
	Response
	Done bool
	Err  error
}

// Backend is implemented by each concrete provider SDK wrapper.
type Backend interface {
	// Name is the stable lowercase provider identifier ("anthropic", "gemini").
	Name() string
	// Complete performs one non-streaming completion call.
	Complete(ctx context.Context, req Request) (Response, error)
	// Stream performs one completion call, delivering its result over the
	// returned channel. The channel is closed after the terminal chunk.
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}

// completeAsStream adapts a Backend's Complete into the Stream shape for
// backends with no provider-native incremental streaming wired yet (see
// DESIGN.md / SPEC_FULL.md §7, §17): the full response is delivered as the
// stream's single terminal chunk rather than as incremental text/tool-call
// deltas.
func completeAsStream(ctx context.Context, complete func(context.Context, Request) (Response, error), req Request) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := complete(ctx, req)
		ch <- StreamChunk{Response: resp, Done: true, Err: err}
	}()
	return ch, nil
}
