package worker

import (
	"encoding/json"
	"fmt"

	"github.com/hadron-sdlc/hadron/pkg/pipeline"
	"github.com/hadron-sdlc/hadron/pkg/pipeline/graph"
)

// overrideFieldSetters maps a resume-override key to how it mutates state,
// mirroring graph.go's overrideProducers vocabulary (spec.md §4.8).
var overrideFieldSetters = map[string]func(*pipeline.State, any){
	"behaviour_verified": func(st *pipeline.State, v any) {
		if b, ok := v.(bool); ok {
			st.BehaviourVerified = b
		}
	},
	"review_passed": func(st *pipeline.State, v any) {
		if b, ok := v.(bool); ok {
			st.ReviewPassed = b
		}
	},
	"rebase_clean": func(st *pipeline.State, v any) {
		if b, ok := v.(bool); ok {
			st.RebaseClean = b
		}
	},
}

// applyResumeOverrides parses an operator-supplied resume-overrides JSON
// object, applies recognised fields onto a copy of the checkpointed state,
// clears the paused status/error the run was sitting in (the operator is
// explicitly un-pausing it), and returns the node whose outgoing edge the
// graph should re-evaluate.
func applyResumeOverrides(checkpointState pipeline.State, overridesJSON string) (pipeline.State, string, error) {
	var overrides map[string]any
	if err := json.Unmarshal([]byte(overridesJSON), &overrides); err != nil {
		return checkpointState, "", fmt.Errorf("unmarshal resume overrides: %w", err)
	}

	st := checkpointState
	for key, value := range overrides {
		if setter, ok := overrideFieldSetters[key]; ok {
			setter(&st, value)
		}
	}
	st.Status = ""
	st.Error = ""

	return st, graph.ResumeNodeForOverrides(overrides), nil
}
