// Package trigger derives the reachability subgraph triggered by an
// arriving flow within one service's statement graph: the forward DFS
// closure from the statement(s) the arriving flow feeds into.
package trigger

import "github.com/duragraph/duragraph/internal/compiler/dag"

// StmtID identifies a node of a service's statement graph: an ordinary
// statement, an import, an export, or a synthesized timer/time node, all
// sharing one id space.
type StmtID int

// Graph wraps a service's statement graph and derives trigger subgraphs
// from it.
type Graph struct {
	g *dag.Graph[StmtID]
}

// New wraps g as a trigger graph.
func New(g *dag.Graph[StmtID]) *Graph {
	return &Graph{g: g}
}

// Underlying exposes the wrapped statement graph, e.g. for scheduling.
func (t *Graph) Underlying() *dag.Graph[StmtID] {
	return t.g
}

// Reachability returns the forward-reachability closure of from
// (inclusive): every statement that from's arrival can, directly or
// transitively, cause to run.
func (t *Graph) Reachability(from StmtID) map[StmtID]struct{} {
	return t.g.Reachable(from)
}

// Subgraph unions the reachability closures of several arriving flows,
// used by the delay handler's occupancy-subset match arms: an arm whose
// subset is {a, b} must schedule every statement either a or b alone
// could trigger.
func (t *Graph) Subgraph(imports ...StmtID) map[StmtID]struct{} {
	union := make(map[StmtID]struct{})
	for _, imp := range imports {
		for n := range t.Reachability(imp) {
			union[n] = struct{}{}
		}
	}
	return union
}
