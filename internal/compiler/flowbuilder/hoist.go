package flowbuilder

import (
	"github.com/duragraph/duragraph/internal/compiler/synced"
	"github.com/duragraph/duragraph/internal/compiler/trigger"
)

type syncedTree = synced.Synced[trigger.StmtID, int]

// hoistTask is one element of the explicit go-down/go-up work stack the
// tree rewrites below run on: goUp is false while descending into node's
// children and true once their results are ready to combine.
type hoistTask struct {
	node syncedTree
	goUp bool
}

// ExportHoist rewrites s so that no export leaf remains anywhere under a
// Para: for each Para subtree, every export leaf it transitively contains
// is pulled out into a trailing Seq, preserving the exports' traversal
// order and dropping any side that becomes empty. Applying the rewrite
// twice is a no-op, since a second pass finds no exports left under any
// Para. The walk keeps an explicit work stack so control-stack depth stays
// bounded on large services.
func ExportHoist(s syncedTree, isExport func(trigger.StmtID) bool) syncedTree {
	stack := []hoistTask{{node: s}}
	var results []syncedTree

	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !t.goUp {
			switch t.node.Kind {
			case synced.LeafKind:
				results = append(results, t.node)
			case synced.ParaKind:
				// The Para is the hoisting boundary: strip every export
				// from its whole subtree here, so there is nothing left
				// to descend into.
				results = append(results, hoistPara(t.node, isExport))
			case synced.SeqKind:
				stack = append(stack, hoistTask{node: t.node, goUp: true})
				for i := len(t.node.Seq) - 1; i >= 0; i-- {
					stack = append(stack, hoistTask{node: t.node.Seq[i]})
				}
			}
			continue
		}

		// Rebuild the Seq from its children's results.
		n := len(t.node.Seq)
		children := make([]syncedTree, n)
		copy(children, results[len(results)-n:])
		results = results[:len(results)-n]
		results = append(results, synced.NewSeq[trigger.StmtID, int](children, costCtx{}))
	}

	return results[0]
}

// hoistPara applies the rewrite rule to one Para subtree: the Para minus
// its exports, then the exports as a trailing Seq.
func hoistPara(para syncedTree, isExport func(trigger.StmtID) bool) syncedTree {
	stripped, kept, exports := extractExports(para, isExport)
	if len(exports) == 0 {
		return para
	}
	exportSeq := synced.NewSeq[trigger.StmtID, int](exports, costCtx{})
	if !kept {
		return exportSeq
	}
	return synced.NewSeq[trigger.StmtID, int]([]syncedTree{stripped, exportSeq}, costCtx{})
}

// extractExports removes every export leaf from the subtree rooted at s,
// descending through nested Seq and Para alike. It returns the remaining
// tree (kept is false when nothing non-export is left) and the removed
// exports in traversal order. Post-order over an explicit work stack: a
// leaf resolves immediately, an inner node first pushes itself goUp and
// then its children, and on the way up pops its children's results to
// rebuild itself without the extracted leaves.
func extractExports(s syncedTree, isExport func(trigger.StmtID) bool) (syncedTree, bool, []syncedTree) {
	type result struct {
		node syncedTree
		kept bool
	}

	stack := []hoistTask{{node: s}}
	var results []result
	var exports []syncedTree

	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !t.goUp {
			switch t.node.Kind {
			case synced.LeafKind:
				if isExport(t.node.Leaf) {
					exports = append(exports, t.node)
					results = append(results, result{})
				} else {
					results = append(results, result{node: t.node, kept: true})
				}
			case synced.SeqKind:
				stack = append(stack, hoistTask{node: t.node, goUp: true})
				for i := len(t.node.Seq) - 1; i >= 0; i-- {
					stack = append(stack, hoistTask{node: t.node.Seq[i]})
				}
			case synced.ParaKind:
				stack = append(stack, hoistTask{node: t.node, goUp: true})
				for g := len(t.node.Para) - 1; g >= 0; g-- {
					branches := t.node.Para[g].Branches
					for i := len(branches) - 1; i >= 0; i-- {
						stack = append(stack, hoistTask{node: branches[i]})
					}
				}
			}
			continue
		}

		switch t.node.Kind {
		case synced.SeqKind:
			n := len(t.node.Seq)
			var kept []syncedTree
			for _, r := range results[len(results)-n:] {
				if r.kept {
					kept = append(kept, r.node)
				}
			}
			results = results[:len(results)-n]
			if len(kept) == 0 {
				results = append(results, result{})
			} else {
				results = append(results, result{node: synced.NewSeq[trigger.StmtID, int](kept, costCtx{}), kept: true})
			}
		case synced.ParaKind:
			total := 0
			for _, grp := range t.node.Para {
				total += len(grp.Branches)
			}
			branchResults := results[len(results)-total:]
			results = results[:len(results)-total]

			var groups []synced.CostGroup[trigger.StmtID, int]
			idx := 0
			for _, grp := range t.node.Para {
				var kept []syncedTree
				for range grp.Branches {
					if branchResults[idx].kept {
						kept = append(kept, branchResults[idx].node)
					}
					idx++
				}
				if len(kept) > 0 {
					groups = append(groups, synced.CostGroup[trigger.StmtID, int]{Cost: grp.Cost, Branches: kept})
				}
			}
			if len(groups) == 0 {
				results = append(results, result{})
			} else {
				results = append(results, result{node: synced.NewPara[trigger.StmtID, int](groups, costCtx{}), kept: true})
			}
		}
	}

	final := results[0]
	return final.node, final.kept, exports
}
