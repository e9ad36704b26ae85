package nodes_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadron-sdlc/hadron/pkg/pipeline"
	"github.com/hadron-sdlc/hadron/pkg/pipeline/nodes"
)

func TestRepoIDPassesThroughAffectedRepos(t *testing.T) {
	d := &nodes.Deps{}
	st := pipeline.State{CRID: "cr-1", AffectedRepos: []pipeline.RepoRef{{RepoName: "demo"}}}

	update, err := nodes.RepoID(context.Background(), d, st)
	require.NoError(t, err)
	require.Equal(t, "repo_id", update.State.CurrentStage)
	require.NotContains(t, update.SetFields, "Status")
}

func TestRepoIDFailsWithNoAffectedRepos(t *testing.T) {
	d := &nodes.Deps{}
	st := pipeline.State{CRID: "cr-1"}

	update, err := nodes.RepoID(context.Background(), d, st)
	require.NoError(t, err)
	require.Equal(t, "failed", update.State.Status)
	require.NotEmpty(t, update.State.Error)
}
