// Package dag implements the directed multigraph substrate the compiler's
// scheduler and trigger-graph passes are built on: typed edge labels, a
// subgraph view, topological sort, and an event-emitting DFS.
package dag

import (
	"github.com/duragraph/duragraph/internal/pkg/errors"
)

// Label is the edge payload. Weight is the number of logical steps the
// target is delayed behind the source (0 = same instant). Labels compose
// under addition when edges are merged by callers.
type Label struct {
	Weight int
}

// Add composes two labels; weights accumulate along a path.
func (l Label) Add(other Label) Label {
	return Label{Weight: l.Weight + other.Weight}
}

type edge[N comparable] struct {
	other N
	label Label
}

// Graph is a directed multigraph keyed by node identity N, with Label edges.
type Graph[N comparable] struct {
	nodes map[N]struct{}
	out   map[N][]edge[N]
	in    map[N][]edge[N]
	// order records insertion order so Nodes() is deterministic.
	order []N
}

// New returns an empty graph.
func New[N comparable]() *Graph[N] {
	return &Graph[N]{
		nodes: make(map[N]struct{}),
		out:   make(map[N][]edge[N]),
		in:    make(map[N][]edge[N]),
	}
}

// AddNode registers n, a no-op if it is already present.
func (g *Graph[N]) AddNode(n N) {
	if _, ok := g.nodes[n]; ok {
		return
	}
	g.nodes[n] = struct{}{}
	g.order = append(g.order, n)
}

// HasNode reports whether n is part of the graph.
func (g *Graph[N]) HasNode(n N) bool {
	_, ok := g.nodes[n]
	return ok
}

// AddEdge adds a labeled edge src -> tgt. Both endpoints must already be
// present in the node set.
func (g *Graph[N]) AddEdge(src, tgt N, label Label) error {
	if !g.HasNode(src) || !g.HasNode(tgt) {
		return errors.InvalidInput("edge", "both endpoints must already be nodes of the graph")
	}
	g.out[src] = append(g.out[src], edge[N]{other: tgt, label: label})
	g.in[tgt] = append(g.in[tgt], edge[N]{other: src, label: label})
	return nil
}

// RemoveEdge removes the first edge (if any) matching src -> tgt.
func (g *Graph[N]) RemoveEdge(src, tgt N) {
	g.out[src] = removeFirst(g.out[src], tgt)
	g.in[tgt] = removeFirst(g.in[tgt], src)
}

func removeFirst[N comparable](es []edge[N], other N) []edge[N] {
	for i, e := range es {
		if e.other == other {
			return append(es[:i:i], es[i+1:]...)
		}
	}
	return es
}

// Nodes returns all nodes in insertion order.
func (g *Graph[N]) Nodes() []N {
	out := make([]N, len(g.order))
	copy(out, g.order)
	return out
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph[N]) NodeCount() int {
	return len(g.nodes)
}

// EdgesFrom returns the (target, label) pairs of edges leaving n.
func (g *Graph[N]) EdgesFrom(n N) []struct {
	Other N
	Label Label
} {
	return toPairs(g.out[n])
}

// EdgesTo returns the (source, label) pairs of edges entering n.
func (g *Graph[N]) EdgesTo(n N) []struct {
	Other N
	Label Label
} {
	return toPairs(g.in[n])
}

func toPairs[N comparable](es []edge[N]) []struct {
	Other N
	Label Label
} {
	out := make([]struct {
		Other N
		Label Label
	}, len(es))
	for i, e := range es {
		out[i] = struct {
			Other N
			Label Label
		}{Other: e.other, Label: e.label}
	}
	return out
}

// Subgraph returns a new Graph containing only the given nodes and the
// edges between them; edges mentioning nodes outside the set are dropped.
func (g *Graph[N]) Subgraph(nodes map[N]struct{}) *Graph[N] {
	sub := New[N]()
	// Preserve original insertion order for determinism.
	for _, n := range g.order {
		if _, ok := nodes[n]; ok {
			sub.AddNode(n)
		}
	}
	for _, n := range sub.order {
		for _, e := range g.out[n] {
			if _, ok := nodes[e.other]; ok {
				sub.out[n] = append(sub.out[n], e)
				sub.in[e.other] = append(sub.in[e.other], edge[N]{other: n, label: e.label})
			}
		}
	}
	return sub
}

// DFSEvent is the kind of event emitted by DFS.
type DFSEvent int

const (
	// Discover fires the first time a node is visited.
	Discover DFSEvent = iota
	// Finish fires once all of a node's successors have been visited.
	Finish
	// BackEdge fires when DFS encounters an edge into a node already on
	// the current recursion stack (i.e. a cycle witness).
	BackEdge
)

// DFS performs a depth-first visit from start, following outgoing edges,
// emitting Discover/Finish/BackEdge events via visit. The visit runs on an
// explicit frame stack, one frame per node holding its next unexplored
// edge, so control-stack depth stays bounded on large graphs.
func (g *Graph[N]) DFS(start N, visit func(event DFSEvent, n N)) {
	type frame struct {
		n    N
		next int
	}

	visited := map[N]struct{}{start: {}}
	onStack := map[N]struct{}{start: {}}
	visit(Discover, start)
	stack := []frame{{n: start}}

	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		edges := g.out[f.n]
		if f.next < len(edges) {
			e := edges[f.next]
			f.next++
			if _, ok := onStack[e.other]; ok {
				visit(BackEdge, e.other)
				continue
			}
			if _, ok := visited[e.other]; !ok {
				visited[e.other] = struct{}{}
				onStack[e.other] = struct{}{}
				visit(Discover, e.other)
				stack = append(stack, frame{n: e.other})
			}
			continue
		}
		delete(onStack, f.n)
		visit(Finish, f.n)
		stack = stack[:len(stack)-1]
	}
}

// Reachable returns the forward reachability closure of start (inclusive),
// following outgoing edges. Used by the trigger-subgraph construction.
func (g *Graph[N]) Reachable(start N) map[N]struct{} {
	seen := map[N]struct{}{start: {}}
	g.DFS(start, func(event DFSEvent, n N) {
		if event == Discover {
			seen[n] = struct{}{}
		}
	})
	return seen
}

// Toposort returns a topological order of all nodes, or a cycle error.
// Used by the non-parallel linearization path of the flow builder.
func (g *Graph[N]) Toposort() ([]N, error) {
	inDegree := make(map[N]int, len(g.nodes))
	for _, n := range g.order {
		inDegree[n] = len(g.in[n])
	}

	var ready []N
	for _, n := range g.order {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	result := make([]N, 0, len(g.nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		result = append(result, n)
		for _, e := range g.out[n] {
			inDegree[e.other]--
			if inDegree[e.other] == 0 {
				ready = append(ready, e.other)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, errors.NewDomainError("CYCLE_DETECTED", "graph contains a cycle", errors.ErrGraphCycle)
	}
	return result, nil
}
