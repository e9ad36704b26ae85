package nodes_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadron-sdlc/hadron/pkg/agentloop"
	"github.com/hadron-sdlc/hadron/pkg/models"
	"github.com/hadron-sdlc/hadron/pkg/pipeline/nodes"
	"github.com/hadron-sdlc/hadron/pkg/provider"
	"github.com/hadron-sdlc/hadron/pkg/worktree"
)

// scriptedBackend returns one canned Response per call, in order. Its call
// counter is unsynchronised, so it is not safe for concurrent use; the
// review node tests use queuedBackend instead.
type scriptedBackend struct {
	name      string
	responses []provider.Response
	calls     int
}

func (b *scriptedBackend) Name() string { return b.name }

func (b *scriptedBackend) Complete(_ context.Context, _ provider.Request) (provider.Response, error) {
	if b.calls >= len(b.responses) {
		return provider.Response{}, errors.New("scriptedBackend: out of responses")
	}
	resp := b.responses[b.calls]
	b.calls++
	return resp, nil
}

func (b *scriptedBackend) Stream(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	return singleChunk(b.Complete(ctx, req))
}

// queuedBackend hands out one fixed response to every call — used by the
// review node tests where three concurrent reviewer goroutines each need a
// response and call order is not deterministic.
type queuedBackend struct {
	name string
	text string
}

func (b *queuedBackend) Name() string { return b.name }

func (b *queuedBackend) Complete(_ context.Context, _ provider.Request) (provider.Response, error) {
	return provider.Response{Text: b.text, StopReason: "end_turn"}, nil
}

func (b *queuedBackend) Stream(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	return singleChunk(b.Complete(ctx, req))
}

// singleChunk delivers one completion result as a stream's only chunk.
func singleChunk(resp provider.Response, err error) (<-chan provider.StreamChunk, error) {
	ch := make(chan provider.StreamChunk, 1)
	ch <- provider.StreamChunk{Response: resp, Done: true, Err: err}
	close(ch)
	return ch, nil
}

type noTools struct{}

func (noTools) ListTools() []models.ToolDefinition { return nil }
func (noTools) Execute(_ context.Context, name string, _ map[string]any) (string, bool, error) {
	return "", true, errors.New("no tools available: " + name)
}

func newLoop(t *testing.T, backend provider.Backend) *agentloop.Loop {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register(backend)
	chain := provider.NewChain(reg, []string{"anthropic"})
	return agentloop.New(chain, noTools{}, nil, nil)
}

// newTestRepo creates a bare origin and a checked-out worktree for CR crID,
// returning the worktree's Manager and the checked-out path.
func newTestRepo(t *testing.T, crID string) (*worktree.Manager, string) {
	t.Helper()
	origin := t.TempDir()
	gitRun(t, origin, "init", "--bare", "-b", "main")

	seed := t.TempDir()
	gitRun(t, seed, "init", "-b", "main")
	gitRun(t, seed, "config", "user.email", "test@example.com")
	gitRun(t, seed, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(seed, "README.md"), []byte("hello\n"), 0o644))
	gitRun(t, seed, "add", "-A")
	gitRun(t, seed, "commit", "-m", "initial")
	gitRun(t, seed, "remote", "add", "origin", origin)
	gitRun(t, seed, "push", "origin", "main")

	ws := t.TempDir()
	m, err := worktree.New(ws)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = m.CloneBare(ctx, origin, "demo")
	require.NoError(t, err)
	wtPath, err := m.CreateWorktree(ctx, "demo", crID, "main")
	require.NoError(t, err)
	gitRun(t, wtPath, "config", "user.email", "agent@example.com")
	gitRun(t, wtPath, "config", "user.name", "agent")
	return m, wtPath
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_CONFIG_NOSYSTEM=1")
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func newDeps(t *testing.T, backend provider.Backend, wm *worktree.Manager) *nodes.Deps {
	t.Helper()
	return &nodes.Deps{
		Loop:         newLoop(t, backend),
		Worktrees:    wm,
		DefaultModel: "claude-sonnet-4-20250514",
	}
}
