package nodes_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadron-sdlc/hadron/pkg/pipeline"
	"github.com/hadron-sdlc/hadron/pkg/pipeline/nodes"
)

func TestReleaseGateAutoApproves(t *testing.T) {
	d := &nodes.Deps{}
	st := pipeline.State{CRID: "cr-11", StructuredCR: pipeline.StructuredCR{Title: "x"}}

	update, err := nodes.ReleaseGate(context.Background(), d, st)
	require.NoError(t, err)
	require.True(t, update.State.ReleaseApproved)
}

func TestReleaseMarksReleasedOnlyWhenApprovedAndDelivered(t *testing.T) {
	d := &nodes.Deps{}

	approved := pipeline.State{CRID: "cr-11", ReleaseApproved: true, AllDelivered: true}
	update, err := nodes.Release(context.Background(), d, approved)
	require.NoError(t, err)
	require.True(t, update.State.Released)

	notDelivered := pipeline.State{CRID: "cr-11", ReleaseApproved: true, AllDelivered: false}
	update, err = nodes.Release(context.Background(), d, notDelivered)
	require.NoError(t, err)
	require.False(t, update.State.Released)
}
