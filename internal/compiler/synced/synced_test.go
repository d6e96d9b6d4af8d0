package synced_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duragraph/duragraph/internal/compiler/dag"
	"github.com/duragraph/duragraph/internal/compiler/synced"
)

// countCtx is a minimal CostContext: every instruction costs 1, a sequence
// costs the sum of its parts, and a parallel branching costs one more than
// its costliest group. Edges mean "must wait for".
type countCtx struct {
	ignoreAbove int // edges whose label weight is above this are ignored; -1 disables
	inverted    bool
}

func (c countCtx) IgnoreEdge(l dag.Label) bool {
	if c.ignoreAbove < 0 {
		return false
	}
	return l.Weight > c.ignoreAbove
}
func (c countCtx) InvertedEdges() bool { return c.inverted }
func (c countCtx) InstrCost(int) int   { return 1 }
func (c countCtx) SyncSeqCost(seq []synced.Synced[int, int]) int {
	total := 0
	for _, s := range seq {
		total += s.Cost
	}
	return total
}
func (c countCtx) SyncParaCost(groups []synced.CostGroup[int, int]) int {
	max := 0
	for _, g := range groups {
		if g.Cost > max {
			max = g.Cost
		}
	}
	return max + 1
}
func (c countCtx) Less(a, b int) bool     { return a < b }
func (c countCtx) CostLess(a, b int) bool { return a < b }

// buildWorkedExample builds:
//
//	(0) -> (1, 2) -> (6, 7) -> (9)
//	    \-> (3, 4) -> (8) ---/
//	     \----> (5) --------/
func buildWorkedExample(t *testing.T) *dag.Graph[int] {
	t.Helper()
	g := dag.New[int]()
	for i := 0; i <= 9; i++ {
		g.AddNode(i)
	}
	edges := [][2]int{
		{0, 1}, {0, 2}, {0, 3}, {0, 4}, {0, 5},
		{1, 6}, {1, 7}, {2, 6}, {2, 7},
		{3, 8}, {4, 8},
		{6, 9}, {7, 9}, {8, 9}, {5, 9},
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1], dag.Label{Weight: 1}))
	}
	return g
}

func countLeaves(s synced.Synced[int, int]) int {
	switch s.Kind {
	case synced.LeafKind:
		return 1
	case synced.SeqKind:
		n := 0
		for _, sub := range s.Seq {
			n += countLeaves(sub)
		}
		return n
	case synced.ParaKind:
		n := 0
		for _, grp := range s.Para {
			for _, sub := range grp.Branches {
				n += countLeaves(sub)
			}
		}
		return n
	}
	return 0
}

func collectLeaves(s synced.Synced[int, int], into *[]int) {
	switch s.Kind {
	case synced.LeafKind:
		*into = append(*into, s.Leaf)
	case synced.SeqKind:
		for _, sub := range s.Seq {
			collectLeaves(sub, into)
		}
	case synced.ParaKind:
		for _, grp := range s.Para {
			for _, sub := range grp.Branches {
				collectLeaves(sub, into)
			}
		}
	}
}

func TestRunFullWorkedExampleVisitsEveryNode(t *testing.T) {
	g := buildWorkedExample(t)
	result, err := synced.RunFull[int, int](countCtx{ignoreAbove: -1}, g)
	require.NoError(t, err)

	assert.Equal(t, 10, countLeaves(result))

	var leaves []int
	collectLeaves(result, &leaves)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, leaves)

	// Instruction 0 is the sole root and 9 the sole sink, so they must be
	// the first and last leaves visited in any valid schedule.
	assert.Equal(t, 0, leaves[0])
	assert.Equal(t, 9, leaves[len(leaves)-1])
}

func TestRunDetectsCycle(t *testing.T) {
	g := dag.New[int]()
	g.AddNode(0)
	g.AddNode(1)
	require.NoError(t, g.AddEdge(0, 1, dag.Label{Weight: 1}))
	require.NoError(t, g.AddEdge(1, 0, dag.Label{Weight: 1}))

	_, err := synced.RunFull[int, int](countCtx{ignoreAbove: -1}, g)
	require.Error(t, err)
}

func TestRunIgnoresHighWeightEdges(t *testing.T) {
	// 0 -> 1 with a heavy edge that ctx.IgnoreEdge treats as no dependency:
	// both must then be schedulable as a single root-level parallel pair.
	g := dag.New[int]()
	g.AddNode(0)
	g.AddNode(1)
	require.NoError(t, g.AddEdge(0, 1, dag.Label{Weight: 5}))

	result, err := synced.RunFull[int, int](countCtx{ignoreAbove: 0}, g)
	require.NoError(t, err)
	assert.Equal(t, synced.ParaKind, result.Kind)
}

func TestRunRestrictedToSubgraphIgnoresOutsideEdges(t *testing.T) {
	g := buildWorkedExample(t)
	nodes := map[int]struct{}{0: {}, 1: {}, 2: {}}

	result, err := synced.Run[int, int](countCtx{ignoreAbove: -1}, g, nodes)
	require.NoError(t, err)

	var leaves []int
	collectLeaves(result, &leaves)
	assert.ElementsMatch(t, []int{0, 1, 2}, leaves)
}

// relation classifies every leaf pair of a Synced tree as ordered (one
// precedes the other through a common Seq ancestor) or parallel (they sit
// in different branches of a common Para ancestor).
type relation struct {
	ordered  map[[2]int]struct{}
	parallel map[[2]int]struct{}
}

func classify(s synced.Synced[int, int], r *relation) []int {
	switch s.Kind {
	case synced.LeafKind:
		return []int{s.Leaf}
	case synced.SeqKind:
		var all []int
		for _, sub := range s.Seq {
			leaves := classify(sub, r)
			for _, a := range all {
				for _, b := range leaves {
					r.ordered[[2]int{a, b}] = struct{}{}
				}
			}
			all = append(all, leaves...)
		}
		return all
	case synced.ParaKind:
		var branchLeaves [][]int
		for _, grp := range s.Para {
			for _, sub := range grp.Branches {
				branchLeaves = append(branchLeaves, classify(sub, r))
			}
		}
		var all []int
		for i, li := range branchLeaves {
			for j, lj := range branchLeaves {
				if i == j {
					continue
				}
				for _, a := range li {
					for _, b := range lj {
						r.parallel[[2]int{a, b}] = struct{}{}
					}
				}
			}
			all = append(all, li...)
		}
		return all
	}
	return nil
}

func checkCollapsed(t *testing.T, s synced.Synced[int, int]) {
	t.Helper()
	switch s.Kind {
	case synced.SeqKind:
		require.Greater(t, len(s.Seq), 1)
		for _, sub := range s.Seq {
			checkCollapsed(t, sub)
		}
	case synced.ParaKind:
		require.NotEmpty(t, s.Para)
		branches := 0
		for _, grp := range s.Para {
			require.NotEmpty(t, grp.Branches)
			branches += len(grp.Branches)
			for _, sub := range grp.Branches {
				checkCollapsed(t, sub)
			}
		}
		require.Greater(t, branches, 1)
	}
}

// TestRunScenarioGraph covers the literal scheduling scenario: the chain
// through 0 and the lone root 8 must land in parallel branches, every
// dependency edge must be respected, and 9 must close the schedule.
func TestRunScenarioGraph(t *testing.T) {
	g := dag.New[int]()
	for i := 0; i <= 9; i++ {
		g.AddNode(i)
	}
	edges := [][2]int{
		{0, 1}, {0, 2}, {1, 3}, {2, 3}, {3, 4}, {3, 5},
		{4, 6}, {6, 9}, {5, 7}, {7, 9}, {8, 9},
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1], dag.Label{Weight: 0}))
	}

	result, err := synced.RunFull[int, int](countCtx{ignoreAbove: -1}, g)
	require.NoError(t, err)

	var leaves []int
	collectLeaves(result, &leaves)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, leaves)
	assert.Equal(t, 9, leaves[len(leaves)-1])

	checkCollapsed(t, result)

	r := &relation{ordered: map[[2]int]struct{}{}, parallel: map[[2]int]struct{}{}}
	classify(result, r)

	for _, e := range edges {
		_, ok := r.ordered[[2]int{e[0], e[1]}]
		assert.True(t, ok, "edge %d->%d must be ordered in the schedule", e[0], e[1])
	}

	// Unordered pairs must share a Para ancestor in different branches.
	for _, pair := range [][2]int{{8, 0}, {1, 2}, {4, 5}, {6, 7}} {
		_, ok := r.parallel[pair]
		assert.True(t, ok, "%d and %d are dependency-unordered and must be parallel", pair[0], pair[1])
	}
}

func TestRunDetectsCycleWithAcyclicPrefix(t *testing.T) {
	// 0 -> 1 -> 2 -> 3 -> 4 -> 1 plus 3 -> 5: node 0 schedules, then the
	// progress check must trip on the 1..5 remainder.
	g := dag.New[int]()
	for i := 0; i <= 5; i++ {
		g.AddNode(i)
	}
	for _, e := range [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}, {4, 1}, {3, 5}} {
		require.NoError(t, g.AddEdge(e[0], e[1], dag.Label{Weight: 0}))
	}

	_, err := synced.RunFull[int, int](countCtx{ignoreAbove: -1}, g)
	require.Error(t, err)
	assert.ErrorContains(t, err, "cycl")
}

func TestRunSchedulesGraphCyclicOnlyThroughIgnoredEdges(t *testing.T) {
	// 0 -> 1 at weight 0, 1 -> 0 at weight 1: with weight >= 1 ignored the
	// graph is acyclic and must schedule as the sequence 0; 1.
	g := dag.New[int]()
	g.AddNode(0)
	g.AddNode(1)
	require.NoError(t, g.AddEdge(0, 1, dag.Label{Weight: 0}))
	require.NoError(t, g.AddEdge(1, 0, dag.Label{Weight: 1}))

	result, err := synced.RunFull[int, int](countCtx{ignoreAbove: 0}, g)
	require.NoError(t, err)

	var leaves []int
	collectLeaves(result, &leaves)
	assert.Equal(t, []int{0, 1}, leaves)
}

func TestRunEmptyActiveSetFails(t *testing.T) {
	g := dag.New[int]()
	g.AddNode(0)
	_, err := synced.Run[int, int](countCtx{ignoreAbove: -1}, g, map[int]struct{}{})
	require.Error(t, err)
}

func TestNewSeqCollapsesSingleton(t *testing.T) {
	ctx := countCtx{ignoreAbove: -1}
	leaf := synced.NewLeaf[int, int](42, ctx)
	seq := synced.NewSeq[int, int]([]synced.Synced[int, int]{leaf}, ctx)
	assert.Equal(t, synced.LeafKind, seq.Kind)
	assert.Equal(t, 42, seq.Leaf)
}

func TestNewParaCollapsesSingleton(t *testing.T) {
	ctx := countCtx{ignoreAbove: -1}
	leaf := synced.NewLeaf[int, int](7, ctx)
	groups := []synced.CostGroup[int, int]{{Cost: 1, Branches: []synced.Synced[int, int]{leaf}}}
	para := synced.NewPara[int, int](groups, ctx)
	assert.Equal(t, synced.LeafKind, para.Kind)
	assert.Equal(t, 7, para.Leaf)
}
