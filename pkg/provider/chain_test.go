package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadron-sdlc/hadron/pkg/provider"
)

type fakeBackend struct {
	name     string
	fail     bool
	gotModel string
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) Complete(_ context.Context, req provider.Request) (provider.Response, error) {
	f.gotModel = req.Model
	if f.fail {
		return provider.Response{}, errors.New("429 rate_limit")
	}
	return provider.Response{Text: "ok from " + f.name}, nil
}

func (f *fakeBackend) Stream(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	resp, err := f.Complete(ctx, req)
	ch := make(chan provider.StreamChunk, 1)
	ch <- provider.StreamChunk{Response: resp, Done: true, Err: err}
	close(ch)
	return ch, nil
}

func TestChainTriesNaturalProviderFirst(t *testing.T) {
	reg := provider.NewRegistry()
	anthropicB := &fakeBackend{name: "anthropic"}
	geminiB := &fakeBackend{name: "gemini"}
	reg.Register(anthropicB)
	reg.Register(geminiB)

	chain := provider.NewChain(reg, []string{"anthropic", "gemini"})
	resp, err := chain.Execute(context.Background(), provider.Request{Model: "claude-sonnet-4-20250514"})
	require.NoError(t, err)
	require.Equal(t, "ok from anthropic", resp.Text)
	require.Equal(t, "claude-sonnet-4-20250514", anthropicB.gotModel)
}

func TestChainFallsBackAndSubstitutesModel(t *testing.T) {
	reg := provider.NewRegistry()
	anthropicB := &fakeBackend{name: "anthropic", fail: true}
	geminiB := &fakeBackend{name: "gemini"}
	reg.Register(anthropicB)
	reg.Register(geminiB)

	chain := provider.NewChain(reg, []string{"anthropic", "gemini"})
	resp, err := chain.Execute(context.Background(), provider.Request{Model: "claude-sonnet-4-20250514"})
	require.NoError(t, err)
	require.Equal(t, "ok from gemini", resp.Text)
	require.Equal(t, "gemini-2.0-flash", geminiB.gotModel, "fallback must substitute its own default model, not the original provider's id")
}

func TestChainExhaustedReturnsWrappedError(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&fakeBackend{name: "anthropic", fail: true})
	reg.Register(&fakeBackend{name: "gemini", fail: true})

	chain := provider.NewChain(reg, []string{"anthropic", "gemini"})
	_, err := chain.Execute(context.Background(), provider.Request{Model: "claude-sonnet-4-20250514"})
	require.ErrorIs(t, err, provider.ErrAllProvidersExhausted)
}
