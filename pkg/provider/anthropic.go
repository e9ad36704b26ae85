package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hadron-sdlc/hadron/pkg/models"
)

// AnthropicBackend wraps anthropic-sdk-go's Messages API as a Backend.
type AnthropicBackend struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewAnthropicBackend builds an AnthropicBackend. apiKey must be non-empty.
func NewAnthropicBackend(apiKey string) *AnthropicBackend {
	return &AnthropicBackend{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: "claude-sonnet-4-20250514",
		maxRetries:   3,
		retryDelay:   time.Second,
	}
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

func (b *AnthropicBackend) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = b.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertMessages(req.Messages),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return Response{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	var msg *anthropic.Message
	var err error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		msg, err = b.client.Messages.New(ctx, params)
		if err == nil {
			break
		}
		if !isRetryable(err) || attempt == b.maxRetries {
			return Response{}, fmt.Errorf("anthropic: request failed: %w", err)
		}
		backoff := b.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return decodeMessage(msg), nil
}

// Stream delivers Complete's result as a single terminal StreamChunk; see
// completeAsStream's doc comment for why this backend has no provider-native
// incremental streaming wired yet.
func (b *AnthropicBackend) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	return completeAsStream(ctx, b.Complete, req)
}

func convertMessages(messages []Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		var content []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}
		if m.ToolResult != nil {
			content = append(content, anthropic.NewToolResultBlock(m.ToolResult.ToolCallID, m.ToolResult.Content, m.ToolResult.IsError))
		}
		for _, tc := range m.ToolCalls {
			content = append(content, anthropic.NewToolUseBlock(tc.ID, map[string]any(tc.Args), tc.Name))
		}
		if m.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result
}

func convertTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		raw, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", t.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		tp := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if tp.OfTool != nil {
			tp.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, tp)
	}
	return result, nil
}

func decodeMessage(msg *anthropic.Message) Response {
	resp := Response{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			var args map[string]any
			_ = json.Unmarshal(b.Input, &args)
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{ID: b.ID, Name: b.Name, Args: args})
		}
	}
	resp.Text = text.String()

	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		resp.StopReason = "tool_use"
	case anthropic.StopReasonMaxTokens:
		resp.StopReason = "max_tokens"
	default:
		resp.StopReason = "end_turn"
	}
	return resp
}

func isRetryable(err error) bool {
	msg := err.Error()
	for _, s := range []string{"rate_limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded", "connection reset", "connection refused"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
