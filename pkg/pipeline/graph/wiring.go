package graph

import (
	"context"

	"github.com/hadron-sdlc/hadron/pkg/pipeline"
)

// Node names, exported so callers building a Graph (pkg/worker) and callers
// computing a resume target share one vocabulary.
const (
	NodeIntake        = "intake"
	NodeRepoID        = "repo_id"
	NodeWorktreeSetup = "worktree_setup"
	NodeTranslation   = "translation"
	NodeVerification  = "verification"
	NodeTDD           = "tdd"
	NodeReview        = "review"
	NodeRebase        = "rebase"
	NodeDelivery      = "delivery"
	NodeReleaseGate   = "release_gate"
	NodeRelease       = "release"
	NodeRetrospective = "retrospective"
	NodePaused        = "paused"
)

// pipelineOrder ranks the three nodes a resume-with-overrides call can
// target in pipeline order (a higher rank is a later node), used to pick the
// furthest-along match when more than one override key resolves to a
// producing node.
var pipelineOrder = map[string]int{
	NodeVerification: 0,
	NodeReview:       1,
	NodeRebase:       2,
}

// overrideProducers maps a resume-override key to the node whose outgoing
// edge should be evaluated against the overridden state, per spec.md §4.8.
var overrideProducers = map[string]string{
	"behaviour_verified": NodeVerification,
	"review_passed":      NodeReview,
	"rebase_clean":       NodeRebase,
}

// ResumeNodeForOverrides maps a set of resume-override keys to the node
// whose outgoing edge the graph should re-evaluate: the producing node
// furthest along the pipeline among those the override keys name. If none
// of the keys are recognised, it falls back to the paused terminal, which
// has no outgoing edge other than End — a resume with only unknown
// overrides is a no-op that immediately completes.
func ResumeNodeForOverrides(overrides map[string]any) string {
	best := ""
	bestRank := -1
	for key := range overrides {
		node, ok := overrideProducers[key]
		if !ok {
			continue
		}
		if rank := pipelineOrder[node]; rank > bestRank {
			bestRank = rank
			best = node
		}
	}
	if best == "" {
		return NodePaused
	}
	return best
}

// verificationRouter implements spec.md §4.8's verification edge: a
// verified translation always proceeds to tdd regardless of loop count; an
// unverified one retries translation while under budget, else pauses.
func verificationRouter(st pipeline.State) string {
	if st.BehaviourVerified {
		return "tdd"
	}
	if st.VerificationLoopCnt < st.ConfigSnapshot.MaxVerificationLoops {
		return "retry"
	}
	return "paused"
}

// reviewRouter implements the review edge: a pass proceeds to rebase; a
// failure retries the TDD node while under budget, else pauses.
func reviewRouter(st pipeline.State) string {
	if st.ReviewPassed {
		return "pass"
	}
	if st.ReviewLoopCount < st.ConfigSnapshot.MaxReviewDevLoops {
		return "retry"
	}
	return "paused"
}

// rebaseRouter implements the rebase edge: clean proceeds to delivery,
// anything else pauses (rebase itself drives the conflict-resolver retry
// loop internally, so by the time this router runs there is nothing left
// to retry from the graph's perspective).
func rebaseRouter(st pipeline.State) string {
	if st.RebaseClean {
		return "clean"
	}
	return "paused"
}

// Nodes bundles every Pipeline Node's function, so Build stays a pure
// wiring function independent of how the caller constructed them (pkg/worker
// closes each one over its shared nodes.Deps).
type Nodes struct {
	Intake        NodeFunc
	RepoID        NodeFunc
	WorktreeSetup NodeFunc
	Translation   NodeFunc
	Verification  NodeFunc
	TDD           NodeFunc
	Review        NodeFunc
	Rebase        NodeFunc
	Delivery      NodeFunc
	ReleaseGate   NodeFunc
	Release       NodeFunc
	Retrospective NodeFunc
}

// Build wires the fixed twelve-node graph of spec.md §4.8:
//
//	intake → repo_id → worktree_setup → translation → verification
//	verification: verified → tdd | !verified,loops<max → translation | else → paused
//	tdd → review
//	review: passed → rebase | !passed,loops<max → tdd | else → paused
//	rebase: clean → delivery | !clean → paused
//	delivery → release_gate → release → retrospective → END
//	paused → END
func Build(n Nodes, checkpoints Checkpointer) *Graph {
	g := New(NodeIntake, checkpoints)

	g.AddNode(NodeIntake, n.Intake)
	g.AddNode(NodeRepoID, n.RepoID)
	g.AddNode(NodeWorktreeSetup, n.WorktreeSetup)
	g.AddNode(NodeTranslation, n.Translation)
	g.AddNode(NodeVerification, n.Verification)
	g.AddNode(NodeTDD, n.TDD)
	g.AddNode(NodeReview, n.Review)
	g.AddNode(NodeRebase, n.Rebase)
	g.AddNode(NodeDelivery, n.Delivery)
	g.AddNode(NodeReleaseGate, n.ReleaseGate)
	g.AddNode(NodeRelease, n.Release)
	g.AddNode(NodeRetrospective, n.Retrospective)
	// paused is a terminal marker node with no function of its own: the
	// graph stops as soon as any node sets status=paused (see Graph.run),
	// so paused's only real role is as an edge target with no function.
	g.AddNode(NodePaused, func(_ context.Context, _ pipeline.State) (*pipeline.Update, error) {
		return pipeline.NewUpdate(), nil
	})

	g.AddEdge(NodeIntake, NodeRepoID)
	g.AddEdge(NodeRepoID, NodeWorktreeSetup)
	g.AddEdge(NodeWorktreeSetup, NodeTranslation)
	g.AddEdge(NodeTranslation, NodeVerification)

	g.AddConditionalEdge(NodeVerification, verificationRouter, map[string]string{
		"tdd": NodeTDD, "retry": NodeTranslation, "paused": NodePaused,
	})

	g.AddEdge(NodeTDD, NodeReview)

	g.AddConditionalEdge(NodeReview, reviewRouter, map[string]string{
		"pass": NodeRebase, "retry": NodeTDD, "paused": NodePaused,
	})

	g.AddConditionalEdge(NodeRebase, rebaseRouter, map[string]string{
		"clean": NodeDelivery, "paused": NodePaused,
	})

	g.AddEdge(NodeDelivery, NodeReleaseGate)
	g.AddEdge(NodeReleaseGate, NodeRelease)
	g.AddEdge(NodeRelease, NodeRetrospective)
	g.AddEdge(NodeRetrospective, End)
	g.AddEdge(NodePaused, End)

	return g
}
