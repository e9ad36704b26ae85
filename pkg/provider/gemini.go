package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/hadron-sdlc/hadron/pkg/models"
)

// GeminiBackend wraps google.golang.org/genai's GenerateContent API as a Backend.
type GeminiBackend struct {
	client       *genai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewGeminiBackend builds a GeminiBackend. apiKey must be non-empty.
func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiBackend{
		client:       client,
		defaultModel: "gemini-2.0-flash",
		maxRetries:   3,
		retryDelay:   time.Second,
	}, nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = b.defaultModel
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(min(req.MaxTokens, math.MaxInt32))
	}
	if len(req.Tools) > 0 {
		tools, err := convertGeminiTools(req.Tools)
		if err != nil {
			return Response{}, fmt.Errorf("gemini: convert tools: %w", err)
		}
		config.Tools = tools
	}

	contents := convertGeminiMessages(req.Messages)

	var result *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		result, err = b.client.Models.GenerateContent(ctx, model, contents, config)
		if err == nil {
			break
		}
		if !isRetryable(err) || attempt == b.maxRetries {
			return Response{}, fmt.Errorf("gemini: request failed: %w", err)
		}
		backoff := b.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return decodeGeminiResponse(result), nil
}

// Stream delivers Complete's result as a single terminal StreamChunk; see
// completeAsStream's doc comment for why this backend has no provider-native
// incremental streaming wired yet.
func (b *GeminiBackend) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	return completeAsStream(ctx, b.Complete, req)
}

func convertGeminiMessages(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		content := &genai.Content{Role: role}
		if m.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
		}
		if m.ToolResult != nil {
			var response map[string]any
			_ = json.Unmarshal([]byte(m.ToolResult.Content), &response)
			if response == nil {
				response = map[string]any{"result": m.ToolResult.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: m.ToolResult.ToolCallID, Response: response},
			})
		}
		for _, tc := range m.ToolCalls {
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: tc.Args},
			})
		}
		out = append(out, content)
	}
	return out
}

func convertGeminiTools(tools []models.ToolDefinition) ([]*genai.Tool, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		raw, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", t.Name, err)
		}
		var schema genai.Schema
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  &schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

func decodeGeminiResponse(result *genai.GenerateContentResponse) Response {
	resp := Response{StopReason: "end_turn"}
	if result == nil || len(result.Candidates) == 0 {
		return resp
	}
	if result.UsageMetadata != nil {
		resp.InputTokens = int(result.UsageMetadata.PromptTokenCount)
		resp.OutputTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}

	var text strings.Builder
	cand := result.Candidates[0]
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
			}
		}
	}
	resp.Text = text.String()
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = "tool_use"
	}
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		resp.StopReason = "max_tokens"
	}
	return resp
}
