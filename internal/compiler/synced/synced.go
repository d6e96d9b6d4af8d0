// Package synced extracts the most-parallel execution structure of a flow
// graph: given a directed multigraph and a subset of its nodes, it builds a
// Synced tree of Seq/Para/Leaf nodes describing which instructions must run
// in sequence and which may run concurrently.
//
// The algorithm is a non-recursive state machine: an outer find-readies
// loop grows a sequence of ready instructions, and an inner unstack loop
// closes finished sequences/parallel branches and resumes the enclosing
// one. An explicit frame stack replaces recursion so control-stack depth
// stays bounded on large service graphs.
package synced

import (
	"fmt"
	"sort"

	"github.com/duragraph/duragraph/internal/compiler/dag"
	"github.com/duragraph/duragraph/internal/pkg/errors"
)

// CostContext supplies the cost model and edge semantics the builder needs:
// how to cost a single instruction, a sequence, and a parallel branching,
// which edges to ignore, which direction to read dependencies in, and a
// deterministic ordering over instructions and costs (type parameters
// carry no built-in ordering, and schedules must come out identical from
// run to run). Edges are always dag.Label, the compiler's one multigraph
// edge type.
type CostContext[Instr comparable, Cost any] interface {
	// IgnoreEdge reports whether an edge carrying label should not count as
	// a dependency.
	IgnoreEdge(label dag.Label) bool
	// InvertedEdges, if true, makes outgoing edges the dependency direction
	// instead of incoming ones.
	InvertedEdges() bool
	// InstrCost yields the cost of a single instruction.
	InstrCost(i Instr) Cost
	// SyncSeqCost yields the cost of a built sequence.
	SyncSeqCost(seq []Synced[Instr, Cost]) Cost
	// SyncParaCost yields the cost of a built parallel branching, given its
	// branches grouped and ordered by cost.
	SyncParaCost(groups []CostGroup[Instr, Cost]) Cost
	// Less gives a total, deterministic order over instructions.
	Less(a, b Instr) bool
	// CostLess gives a total, deterministic order over costs.
	CostLess(a, b Cost) bool
}

// Kind tags which variant of Synced a value holds.
type Kind int

const (
	SeqKind Kind = iota
	ParaKind
	LeafKind
)

// CostGroup is one entry of a Para node: every Synced in Branches shares
// Cost and runs concurrently with the others.
type CostGroup[Instr any, Cost any] struct {
	Cost     Cost
	Branches []Synced[Instr, Cost]
}

// Synced is the inductive result of scheduling: a sequence, a parallel
// branching, or a single instruction leaf. Construct values with NewSeq,
// NewPara and NewLeaf, never the struct literal directly, so the
// singleton-collapsing invariants hold.
type Synced[Instr any, Cost any] struct {
	Kind Kind
	Seq  []Synced[Instr, Cost]
	Para []CostGroup[Instr, Cost]
	Leaf Instr
	Cost Cost
}

// NewLeaf wraps a single instruction.
func NewLeaf[Instr comparable, Cost any](i Instr, ctx CostContext[Instr, Cost]) Synced[Instr, Cost] {
	return Synced[Instr, Cost]{Kind: LeafKind, Leaf: i, Cost: ctx.InstrCost(i)}
}

// NewSeq builds a Seq node, collapsing a singleton sequence to its sole
// element.
func NewSeq[Instr comparable, Cost any](seq []Synced[Instr, Cost], ctx CostContext[Instr, Cost]) Synced[Instr, Cost] {
	if len(seq) == 1 {
		return seq[0]
	}
	return Synced[Instr, Cost]{Kind: SeqKind, Seq: seq, Cost: ctx.SyncSeqCost(seq)}
}

// NewPara builds a Para node, collapsing a single cost-group containing a
// single branch to that branch.
func NewPara[Instr comparable, Cost any](groups []CostGroup[Instr, Cost], ctx CostContext[Instr, Cost]) Synced[Instr, Cost] {
	if len(groups) == 1 && len(groups[0].Branches) == 1 {
		return groups[0].Branches[0]
	}
	return Synced[Instr, Cost]{Kind: ParaKind, Para: groups, Cost: ctx.SyncParaCost(groups)}
}

// insertGroup inserts branch into groups under the key cost, preserving
// ascending-cost order (via ctx.CostLess) for determinism.
func insertGroup[Instr comparable, Cost any](
	groups []CostGroup[Instr, Cost], cost Cost, branch Synced[Instr, Cost], ctx CostContext[Instr, Cost],
) []CostGroup[Instr, Cost] {
	for idx := range groups {
		if !ctx.CostLess(groups[idx].Cost, cost) && !ctx.CostLess(cost, groups[idx].Cost) {
			groups[idx].Branches = append(groups[idx].Branches, branch)
			return groups
		}
	}
	pos := sort.Search(len(groups), func(i int) bool { return ctx.CostLess(cost, groups[i].Cost) })
	groups = append(groups, CostGroup[Instr, Cost]{})
	copy(groups[pos+1:], groups[pos:])
	groups[pos] = CostGroup[Instr, Cost]{Cost: cost, Branches: []Synced[Instr, Cost]{branch}}
	return groups
}

// frameKind tags whether a stacked frame is building a sequence or a
// parallel branching.
type frameKind int

const (
	seqFrame frameKind = iota
	paraFrame
)

// frame is one element of the builder's explicit control stack, replacing
// the recursive call stack a naive implementation would use.
type frame[Instr comparable, Cost any] struct {
	kind      frameKind
	seqAcc    []Synced[Instr, Cost]
	paraAcc   []CostGroup[Instr, Cost]
	paraTodo  []Instr
	validated map[Instr]struct{}
}

// Builder holds all the state needed to reduce a (sub)graph to a Synced
// tree in one pass.
type Builder[Instr comparable, Cost any] struct {
	graph     *dag.Graph[Instr]
	nodes     map[Instr]struct{}
	stack     []frame[Instr, Cost]
	todo      map[Instr]struct{}
	seq       []Synced[Instr, Cost]
	validated map[Instr]struct{}
}

// NewBuilder prepares a builder restricted to the given node subset.
func NewBuilder[Instr comparable, Cost any](graph *dag.Graph[Instr], nodes map[Instr]struct{}) *Builder[Instr, Cost] {
	todo := make(map[Instr]struct{}, len(nodes))
	for n := range nodes {
		todo[n] = struct{}{}
	}
	return &Builder[Instr, Cost]{
		graph:     graph,
		nodes:     nodes,
		todo:      todo,
		validated: make(map[Instr]struct{}),
	}
}

// NewBuilderFull prepares a builder running over every node of graph.
func NewBuilderFull[Instr comparable, Cost any](graph *dag.Graph[Instr]) *Builder[Instr, Cost] {
	nodes := make(map[Instr]struct{})
	for _, n := range graph.Nodes() {
		nodes[n] = struct{}{}
	}
	return NewBuilder[Instr, Cost](graph, nodes)
}

func (b *Builder[Instr, Cost]) push(f frame[Instr, Cost]) {
	b.stack = append(b.stack, f)
}

func (b *Builder[Instr, Cost]) pop() (frame[Instr, Cost], bool) {
	if len(b.stack) == 0 {
		var zero frame[Instr, Cost]
		return zero, false
	}
	f := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return f, true
}

// isValidated reports whether i is guaranteed to have already run: either
// by the sequence currently under construction, or by a seq-frame
// currently on the stack. Para-frames never validate anything from the
// point of view of a branch running inside them.
func (b *Builder[Instr, Cost]) isValidated(i Instr) bool {
	if _, ok := b.validated[i]; ok {
		return true
	}
	for j := len(b.stack) - 1; j >= 0; j-- {
		f := b.stack[j]
		if f.kind == seqFrame {
			if _, ok := f.validated[i]; ok {
				return true
			}
		}
	}
	return false
}

// getReadies returns the todo nodes whose dependencies are all validated,
// removing them from todo, as a head/tail split; ok is false if nothing
// is ready.
func (b *Builder[Instr, Cost]) getReadies(ctx CostContext[Instr, Cost]) (head Instr, tail []Instr, ok bool) {
	candidates := make([]Instr, 0, len(b.todo))
	for i := range b.todo {
		candidates = append(candidates, i)
	}
	sort.Slice(candidates, func(i, j int) bool { return ctx.Less(candidates[i], candidates[j]) })

	var ready []Instr
	for _, i := range candidates {
		var edges []struct {
			Other Instr
			Label dag.Label
		}
		if ctx.InvertedEdges() {
			edges = b.graph.EdgesFrom(i)
		} else {
			edges = b.graph.EdgesTo(i)
		}
		allReady := true
		for _, e := range edges {
			if ctx.IgnoreEdge(e.Label) {
				continue
			}
			if _, inSet := b.nodes[e.Other]; !inSet {
				continue
			}
			if !b.isValidated(e.Other) {
				allReady = false
				break
			}
		}
		if allReady {
			ready = append(ready, i)
		}
	}

	if len(ready) == 0 {
		var zero Instr
		return zero, nil, false
	}
	for _, i := range ready {
		delete(b.todo, i)
	}
	return ready[0], ready[1:], true
}

func (b *Builder[Instr, Cost]) seqAdd(i Instr, ctx CostContext[Instr, Cost]) {
	b.seq = append(b.seq, NewLeaf[Instr, Cost](i, ctx))
	b.validated[i] = struct{}{}
}

func (b *Builder[Instr, Cost]) drainSeqValidated() map[Instr]struct{} {
	v := b.validated
	b.validated = make(map[Instr]struct{})
	return v
}

// Run reduces the builder to a single Synced tree. It fails if the
// (sub)graph is empty or contains a cycle reachable from the node subset.
func (b *Builder[Instr, Cost]) Run(ctx CostContext[Instr, Cost]) (Synced[Instr, Cost], error) {
	var zero Synced[Instr, Cost]

	root, roots, ok := b.getReadies(ctx)
	if !ok {
		return zero, errors.NewDomainError(
			"SCHEDULE_NO_ROOT",
			"illegal graph: no root detected, the (sub)graph is empty or cyclic",
			errors.ErrGraphCycle,
		)
	}

	if len(roots) > 0 {
		b.push(frame[Instr, Cost]{kind: paraFrame, paraTodo: roots, validated: make(map[Instr]struct{})})
	}

	previousTodoCountOnEmptyStack := len(b.todo) + 1
	b.seqAdd(root, ctx)

findReadies:
	for {
		// Grow the current sequence for as long as exactly one instruction
		// is ready at a time.
		var synced Synced[Instr, Cost]
		for {
			head, tail, ok := b.getReadies(ctx)
			if !ok {
				synced = NewSeq[Instr, Cost](b.seq, ctx)
				b.seq = nil
				break
			}
			if len(tail) == 0 {
				b.seqAdd(head, ctx)
				continue
			}
			// More than one ready node: remember the sequence so far, then
			// explore head first under a new parallel frame for tail.
			seq := b.seq
			b.seq = nil
			validated := b.drainSeqValidated()
			b.push(frame[Instr, Cost]{kind: seqFrame, seqAcc: seq, validated: validated})
			b.push(frame[Instr, Cost]{kind: paraFrame, paraTodo: tail, validated: make(map[Instr]struct{})})
			b.seqAdd(head, ctx)
		}

		// Close finished sequences/branches and resume the enclosing one,
		// until the whole (sub)graph has been consumed.
		for {
			f, hasFrame := b.pop()
			if !hasFrame {
				if len(b.todo) != 0 {
					todoCount := len(b.todo)
					if todoCount >= previousTodoCountOnEmptyStack {
						return zero, cycleError(b)
					}
					previousTodoCountOnEmptyStack = todoCount
					b.seq = append(b.seq, synced)
					continue findReadies
				}
				return synced, nil
			}

			switch f.kind {
			case seqFrame:
				b.seq = append(append([]Synced[Instr, Cost]{}, f.seqAcc...), synced)
				for k := range f.validated {
					b.validated[k] = struct{}{}
				}
				continue findReadies
			case paraFrame:
				acc := insertGroup(f.paraAcc, synced.Cost, synced, ctx)
				for k := range f.validated {
					b.validated[k] = struct{}{}
				}
				todo := f.paraTodo
				if len(todo) > 0 {
					next := todo[len(todo)-1]
					rest := todo[:len(todo)-1]
					validated := b.drainSeqValidated()
					b.push(frame[Instr, Cost]{kind: paraFrame, paraAcc: acc, paraTodo: rest, validated: validated})
					b.seqAdd(next, ctx)
					continue findReadies
				}
				synced = NewPara[Instr, Cost](acc, ctx)
				continue
			}
		}
	}
}

func cycleError[Instr comparable, Cost any](b *Builder[Instr, Cost]) error {
	msg := fmt.Sprintf("ill-formed graph: cycle detected; stack has %d element(s), %d node(s) left todo", len(b.stack), len(b.todo))
	return errors.NewDomainError("SCHEDULE_CYCLE", msg, errors.ErrGraphCycle)
}

// Run schedules the given node subset of graph in one call.
func Run[Instr comparable, Cost any](
	ctx CostContext[Instr, Cost], graph *dag.Graph[Instr], nodes map[Instr]struct{},
) (Synced[Instr, Cost], error) {
	return NewBuilder[Instr, Cost](graph, nodes).Run(ctx)
}

// RunFull builds a Synced tree over every node of graph.
func RunFull[Instr comparable, Cost any](
	ctx CostContext[Instr, Cost], graph *dag.Graph[Instr],
) (Synced[Instr, Cost], error) {
	return NewBuilderFull[Instr, Cost](graph).Run(ctx)
}
