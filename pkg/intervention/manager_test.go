package intervention_test

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hadron-sdlc/hadron/pkg/intervention"
)

func newTestManager(t *testing.T) *intervention.Manager {
	t.Helper()
	addr := os.Getenv("HADRON_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HADRON_TEST_REDIS_ADDR not set; skipping redis-backed intervention test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return intervention.New(rdb)
}

func TestInterventionPollIsAtomicAndConsuming(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, found, err := m.PollIntervention(ctx, "cr-iv-1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, m.SetIntervention(ctx, "cr-iv-1", "pause after review"))

	val, found, err := m.PollIntervention(ctx, "cr-iv-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "pause after review", val)

	_, found, err = m.PollIntervention(ctx, "cr-iv-1")
	require.NoError(t, err)
	require.False(t, found, "intervention must be consumed by the first poll")
}

func TestNudgeScopedByRole(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetNudge(ctx, "cr-iv-2", "code_writer", "use table-driven tests"))

	_, found, err := m.PollNudge(ctx, "cr-iv-2", "test_writer")
	require.NoError(t, err)
	require.False(t, found, "nudge must not leak across roles")

	val, found, err := m.PollNudge(ctx, "cr-iv-2", "code_writer")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "use table-driven tests", val)
}

func TestResumeOverrideRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetResumeOverride(ctx, "cr-iv-3", `{"review_loop_count":0}`))
	val, found, err := m.PollResumeOverride(ctx, "cr-iv-3")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"review_loop_count":0}`, val)
}
