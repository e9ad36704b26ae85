package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// defaultFallbackModels gives each provider a reasonable model to substitute
// when a request crosses providers — the original model id is meaningless
// on a different provider's API.
var defaultFallbackModels = map[string]string{
	"anthropic": "claude-sonnet-4-20250514",
	"gemini":    "gemini-2.0-flash",
}

// ErrAllProvidersExhausted is returned when the natural provider and every
// configured fallback provider has failed.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// Registry holds one Backend per provider name.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry builds an empty Registry; Register each backend before use.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend under its own Name().
func (r *Registry) Register(b Backend) {
	r.backends[b.Name()] = b
}

// Get returns the backend registered for a provider name.
func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// providerForModel resolves a model id's natural provider by prefix, the
// same convention original_source/provider_chain.py uses.
func providerForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "gemini"
	default:
		return ""
	}
}

// Chain resolves a request's natural provider, then walks a configured
// fallback chain on failure, substituting each fallback provider's default
// model when the request crosses providers.
type Chain struct {
	registry      *Registry
	fallbackChain []string
}

// NewChain builds a Chain over a populated Registry and an ordered list of
// fallback provider names (the natural provider is always tried first,
// regardless of its position in fallbackChain).
func NewChain(registry *Registry, fallbackChain []string) *Chain {
	return &Chain{registry: registry, fallbackChain: fallbackChain}
}

// resolveOrder returns the ordered list of (provider, model) attempts:
// the natural provider with the original model first, then each configured
// fallback provider (skipping the natural one, which was already tried)
// with its default model substituted.
func (c *Chain) resolveOrder(req Request) []attempt {
	natural := providerForModel(req.Model)
	var attempts []attempt
	if natural != "" {
		attempts = append(attempts, attempt{provider: natural, model: req.Model})
	}
	for _, p := range c.fallbackChain {
		if p == natural {
			continue
		}
		model := defaultFallbackModels[p]
		if model == "" {
			model = req.Model
		}
		attempts = append(attempts, attempt{provider: p, model: model})
	}
	return attempts
}

type attempt struct {
	provider string
	model    string
}

// Execute tries the natural provider for req.Model, then each configured
// fallback provider in order, substituting its default model. It returns
// the first successful Response, or ErrAllProvidersExhausted wrapping the
// last error if every attempt failed.
func (c *Chain) Execute(ctx context.Context, req Request) (Response, error) {
	attempts := c.resolveOrder(req)
	if len(attempts) == 0 {
		return Response{}, fmt.Errorf("no provider resolves model %q and no fallback chain configured", req.Model)
	}

	var lastErr error
	for _, a := range attempts {
		backend, ok := c.registry.Get(a.provider)
		if !ok {
			lastErr = fmt.Errorf("provider %q not registered", a.provider)
			continue
		}

		attemptReq := req
		attemptReq.Model = a.model

		resp, err := backend.Complete(ctx, attemptReq)
		if err == nil {
			return resp, nil
		}
		slog.Warn("provider attempt failed", slog.String("provider", a.provider), slog.String("model", a.model), slog.Any("err", err))
		lastErr = err
	}

	return Response{}, fmt.Errorf("%w: %v", ErrAllProvidersExhausted, lastErr)
}

// Stream tries the natural provider for req.Model, then each configured
// fallback provider in order, exactly like Execute, but delivers the winning
// attempt's result over a StreamChunk channel instead of returning it
// directly. Each attempt calls the backend's Complete; the winning Response
// is sent as the channel's single terminal chunk, so all fallback happens
// before anything is sent.
func (c *Chain) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	attempts := c.resolveOrder(req)
	if len(attempts) == 0 {
		return nil, fmt.Errorf("no provider resolves model %q and no fallback chain configured", req.Model)
	}

	var lastErr error
	for _, a := range attempts {
		backend, ok := c.registry.Get(a.provider)
		if !ok {
			lastErr = fmt.Errorf("provider %q not registered", a.provider)
			continue
		}

		attemptReq := req
		attemptReq.Model = a.model

		resp, err := backend.Complete(ctx, attemptReq)
		if err == nil {
			ch := make(chan StreamChunk, 1)
			ch <- StreamChunk{Response: resp, Done: true}
			close(ch)
			return ch, nil
		}
		slog.Warn("provider stream attempt failed", slog.String("provider", a.provider), slog.String("model", a.model), slog.Any("err", err))
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrAllProvidersExhausted, lastErr)
}
