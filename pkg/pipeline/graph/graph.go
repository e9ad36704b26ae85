// Package graph implements the Graph Engine: a small, fixed directed graph
// of named nodes with unconditional and conditional edges, post-node
// checkpointing, and resume-with-overrides. There is no generic
// workflow-graph library in the pack sized for twelve nodes and three
// conditional edges (see DESIGN.md), so this is hand-rolled in the idiom of
// the teacher's own stage sequencing in pkg/config/chain.go.
package graph

import (
	"context"
	"fmt"

	"github.com/hadron-sdlc/hadron/pkg/pipeline"
)

// End is the terminal sentinel node name. Resolving to End stops Run.
const End = "__end__"

// NodeFunc is a single Pipeline Node: state in, sparse update out.
type NodeFunc func(ctx context.Context, state pipeline.State) (*pipeline.Update, error)

// Router inspects post-node state and returns a routing label, consulted by
// a conditional edge to pick the next node.
type Router func(state pipeline.State) string

// Checkpointer persists the full state after each node, keyed by (cr_id,
// node_name), and can report the most recently written checkpoint for a CR.
type Checkpointer interface {
	Save(ctx context.Context, crID, node string, state pipeline.State) error
	LoadLatest(ctx context.Context, crID string) (node string, state pipeline.State, found bool, err error)
}

// conditional bundles a node's router with its label-to-next-node mapping.
type conditional struct {
	route Router
	next  map[string]string
}

// Graph is a directed graph of Pipeline Nodes, built once at process start
// and then run per CR.
type Graph struct {
	start        string
	nodes        map[string]NodeFunc
	unconditional map[string]string
	conditionals  map[string]conditional
	checkpoints   Checkpointer
}

// New builds an empty Graph with the given entry node name.
func New(start string, checkpoints Checkpointer) *Graph {
	return &Graph{
		start:         start,
		nodes:         make(map[string]NodeFunc),
		unconditional: make(map[string]string),
		conditionals:  make(map[string]conditional),
		checkpoints:   checkpoints,
	}
}

// AddNode registers a node's function under a name.
func (g *Graph) AddNode(name string, fn NodeFunc) {
	g.nodes[name] = fn
}

// AddEdge wires an unconditional edge from -> to. to may be End.
func (g *Graph) AddEdge(from, to string) {
	g.unconditional[from] = to
}

// AddConditionalEdge wires from's outgoing edge to a router: the router's
// returned label is looked up in next to find the actual destination node
// (which may be End).
func (g *Graph) AddConditionalEdge(from string, route Router, next map[string]string) {
	g.conditionals[from] = conditional{route: route, next: next}
}

// Run executes the graph starting at its entry node with the given initial
// state, checkpointing after every node, until a node resolves to End or a
// node function returns an error.
func (g *Graph) Run(ctx context.Context, crID string, initial pipeline.State) (pipeline.State, error) {
	return g.run(ctx, crID, g.start, initial)
}

// Resume continues execution from the outgoing edge of fromNode without
// re-running fromNode's function, applying the caller-supplied state as if
// fromNode had just produced it. Used for resume-with-overrides.
func (g *Graph) Resume(ctx context.Context, crID, fromNode string, state pipeline.State) (pipeline.State, error) {
	next, state, err := g.advance(fromNode, state)
	if err != nil {
		return state, err
	}
	if next == End {
		return state, nil
	}
	return g.run(ctx, crID, next, state)
}

func (g *Graph) run(ctx context.Context, crID, nodeName string, state pipeline.State) (pipeline.State, error) {
	for {
		if nodeName == End {
			return state, nil
		}
		fn, ok := g.nodes[nodeName]
		if !ok {
			return state, fmt.Errorf("graph: unknown node %q", nodeName)
		}

		update, err := fn(ctx, state)
		if err != nil {
			return state, fmt.Errorf("node %s: %w", nodeName, err)
		}
		if err := pipeline.ApplyUpdate(&state, update); err != nil {
			return state, fmt.Errorf("node %s: apply update: %w", nodeName, err)
		}

		if g.checkpoints != nil {
			if err := g.checkpoints.Save(ctx, crID, nodeName, state); err != nil {
				return state, fmt.Errorf("node %s: checkpoint: %w", nodeName, err)
			}
		}

		// A node that explicitly paused or failed the run (e.g. a circuit
		// breaker, or repo_id finding no affected repos) stops the graph
		// immediately regardless of its declared edges.
		if state.Status == "paused" || state.Status == "failed" {
			return state, nil
		}

		next, state2, err := g.advance(nodeName, state)
		if err != nil {
			return state, err
		}
		state = state2
		nodeName = next
	}
}

// advance resolves nodeName's outgoing edge and, if it routes into the
// paused terminal as a circuit-breaker trip (loop count >= max) rather than
// a node's own deliberate pause, stamps state.Status/Error here — the node
// that just ran had no reason to know it was being routed to a dead end, so
// the graph marks the pause rather than asking every node to guess its own
// routing fate. A node that already paused itself for its own reasons (e.g.
// rebase conflicts) keeps its own status and error untouched.
func (g *Graph) advance(nodeName string, state pipeline.State) (string, pipeline.State, error) {
	next, err := g.nextAfter(nodeName, state)
	if err != nil {
		return "", state, err
	}
	if next == NodePaused && state.Status != "paused" {
		state.Status = "paused"
		state.Error = fmt.Sprintf("%s circuit breaker: exceeded loop budget", nodeName)
	}
	return next, state, nil
}

func (g *Graph) nextAfter(nodeName string, state pipeline.State) (string, error) {
	if cond, ok := g.conditionals[nodeName]; ok {
		label := cond.route(state)
		next, ok := cond.next[label]
		if !ok {
			return "", fmt.Errorf("graph: node %q router returned unmapped label %q", nodeName, label)
		}
		return next, nil
	}
	if next, ok := g.unconditional[nodeName]; ok {
		return next, nil
	}
	return "", fmt.Errorf("graph: node %q has no outgoing edge", nodeName)
}
