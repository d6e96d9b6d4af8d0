package flowbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duragraph/duragraph/internal/compiler/config"
	"github.com/duragraph/duragraph/internal/compiler/dag"
	"github.com/duragraph/duragraph/internal/compiler/instr"
	"github.com/duragraph/duragraph/internal/compiler/symtab"
	"github.com/duragraph/duragraph/internal/compiler/synced"
	"github.com/duragraph/duragraph/internal/compiler/trigger"
)

// buildSpeedLimiterGraph constructs a small worked example loosely modeled
// on a speed-limiter style service: one channel import feeds a throttle
// which drives two independent exports, exercising the export-hoisting
// rewrite on a Para whose branches are both exports ({export1, export2}).
func buildSpeedLimiterGraph(t *testing.T) (*Builder, trigger.StmtID) {
	t.Helper()
	return buildSpeedLimiterGraphCfg(t, &config.Config{Propagation: config.OnChange, Para: true})
}

func buildSpeedLimiterGraphCfg(t *testing.T, cfg *config.Config) (*Builder, trigger.StmtID) {
	t.Helper()

	g := dag.New[trigger.StmtID]()
	const (
		imp trigger.StmtID = iota
		throttle
		exp1
		exp2
	)
	for _, id := range []trigger.StmtID{imp, throttle, exp1, exp2} {
		g.AddNode(id)
	}
	g.AddEdge(imp, throttle, dag.Label{Weight: 0})
	g.AddEdge(throttle, exp1, dag.Label{Weight: 0})
	g.AddEdge(throttle, exp2, dag.Label{Weight: 0})

	stmts := map[trigger.StmtID]*StmtSpec{
		imp:      {ID: imp, Kind: StmtImport, ImportName: "speed"},
		throttle: {ID: throttle, Kind: StmtThrottle, Dest: "limited", Src: "speed", Delta: 0.5},
		exp1:     {ID: exp1, Kind: StmtIdent, Dest: "out1", Src: "limited", ExportTarget: "out1"},
		exp2:     {ID: exp2, Kind: StmtIdent, Dest: "out2", Src: "limited", ExportTarget: "out2"},
	}
	exports := map[trigger.StmtID]struct{}{exp1: {}, exp2: {}}

	tab := symtab.New()
	b := New("speed-limiter", g, stmts, []trigger.StmtID{imp}, exports, tab, cfg)
	return b, imp
}

func hasParaInstruction(in instr.FlowInstruction) bool {
	if in.Kind == instr.KindPara {
		return true
	}
	for _, sub := range in.Seq {
		if hasParaInstruction(sub) {
			return true
		}
	}
	for _, branch := range in.Para {
		for _, sub := range branch.Instrs {
			if hasParaInstruction(sub) {
				return true
			}
		}
	}
	return false
}

func TestCompileProducesInitEventPrefixAndHoistedExports(t *testing.T) {
	b, importID := buildSpeedLimiterGraph(t)
	// New appends its synthesized timer imports as fresh statements without
	// reassigning existing ids, so the channel import id returned by the
	// helper is still valid here.
	result, err := b.Compile(importID)
	require.NoError(t, err)

	require.Equal(t, instr.KindSeq, result.Kind)
	require.NotEmpty(t, result.Seq)
	assert.Equal(t, instr.KindInitEvent, result.Seq[0].Kind)
	assert.Equal(t, "speed", result.Seq[0].Name)
	// The two exports are scheduled in parallel; hoisting moves them into
	// a trailing Seq, so no Para survives lowering.
	assert.False(t, hasParaInstruction(result))
}

func TestExportHoistPullsExportsOutOfPara(t *testing.T) {
	isExport := func(id trigger.StmtID) bool { return id == 100 || id == 102 }

	leafA := synced.NewLeaf[trigger.StmtID, int](100, costCtx{}) // export1
	leafB := synced.NewLeaf[trigger.StmtID, int](101, costCtx{}) // normal
	leafC := synced.NewLeaf[trigger.StmtID, int](102, costCtx{}) // export2
	leafD := synced.NewLeaf[trigger.StmtID, int](103, costCtx{}) // normal

	para := synced.NewPara[trigger.StmtID, int]([]synced.CostGroup[trigger.StmtID, int]{
		{Cost: 1, Branches: []synced.Synced[trigger.StmtID, int]{leafA, leafB, leafC, leafD}},
	}, costCtx{})

	hoisted := ExportHoist(para, isExport)
	require.Equal(t, synced.SeqKind, hoisted.Kind)
	require.Len(t, hoisted.Seq, 2)

	kept := hoisted.Seq[0]
	assert.Equal(t, synced.ParaKind, kept.Kind)

	exportSeq := hoisted.Seq[1]
	require.Equal(t, synced.SeqKind, exportSeq.Kind)
	require.Len(t, exportSeq.Seq, 2)
	assert.Equal(t, trigger.StmtID(100), exportSeq.Seq[0].Leaf)
	assert.Equal(t, trigger.StmtID(102), exportSeq.Seq[1].Leaf)
}

// exportUnderPara reports whether any export leaf sits anywhere inside a
// Para subtree of s.
func exportUnderPara(s synced.Synced[trigger.StmtID, int], isExport func(trigger.StmtID) bool, insidePara bool) bool {
	switch s.Kind {
	case synced.LeafKind:
		return insidePara && isExport(s.Leaf)
	case synced.SeqKind:
		for _, c := range s.Seq {
			if exportUnderPara(c, isExport, insidePara) {
				return true
			}
		}
	case synced.ParaKind:
		for _, grp := range s.Para {
			for _, br := range grp.Branches {
				if exportUnderPara(br, isExport, true) {
					return true
				}
			}
		}
	}
	return false
}

func TestExportHoistPullsExportOutOfSeqBranch(t *testing.T) {
	// Para({Seq(normal, export), normal}): the export hides at the tail of
	// a sequenced branch, not as a direct Para child.
	isExport := func(id trigger.StmtID) bool { return id == 100 }

	seqBranch := synced.NewSeq[trigger.StmtID, int]([]synced.Synced[trigger.StmtID, int]{
		synced.NewLeaf[trigger.StmtID, int](101, costCtx{}),
		synced.NewLeaf[trigger.StmtID, int](100, costCtx{}),
	}, costCtx{})
	para := synced.NewPara[trigger.StmtID, int]([]synced.CostGroup[trigger.StmtID, int]{
		{Cost: 1, Branches: []synced.Synced[trigger.StmtID, int]{synced.NewLeaf[trigger.StmtID, int](103, costCtx{})}},
		{Cost: 2, Branches: []synced.Synced[trigger.StmtID, int]{seqBranch}},
	}, costCtx{})

	hoisted := ExportHoist(para, isExport)
	require.Equal(t, synced.SeqKind, hoisted.Kind)
	require.Len(t, hoisted.Seq, 2)

	kept := hoisted.Seq[0]
	assert.Equal(t, synced.ParaKind, kept.Kind)
	assert.False(t, exportUnderPara(hoisted, isExport, false))

	// The hoisted exports form a Seq of a single element, which collapses
	// to the export leaf itself.
	assert.Equal(t, trigger.StmtID(100), hoisted.Seq[1].Leaf)

	assert.Equal(t, hoisted, ExportHoist(hoisted, isExport))
}

func TestExportHoistPullsExportOutOfNestedPara(t *testing.T) {
	isExport := func(id trigger.StmtID) bool { return id == 200 }

	inner := synced.NewPara[trigger.StmtID, int]([]synced.CostGroup[trigger.StmtID, int]{
		{Cost: 1, Branches: []synced.Synced[trigger.StmtID, int]{
			synced.NewLeaf[trigger.StmtID, int](200, costCtx{}),
			synced.NewLeaf[trigger.StmtID, int](201, costCtx{}),
		}},
	}, costCtx{})
	outer := synced.NewPara[trigger.StmtID, int]([]synced.CostGroup[trigger.StmtID, int]{
		{Cost: 1, Branches: []synced.Synced[trigger.StmtID, int]{synced.NewLeaf[trigger.StmtID, int](202, costCtx{})}},
		{Cost: 2, Branches: []synced.Synced[trigger.StmtID, int]{inner}},
	}, costCtx{})

	hoisted := ExportHoist(outer, isExport)
	require.Equal(t, synced.SeqKind, hoisted.Kind)
	require.Len(t, hoisted.Seq, 2)
	assert.Equal(t, trigger.StmtID(200), hoisted.Seq[1].Leaf)
	assert.False(t, exportUnderPara(hoisted, isExport, false))

	assert.Equal(t, hoisted, ExportHoist(hoisted, isExport))
}

func TestExportHoistIsIdempotent(t *testing.T) {
	isExport := func(id trigger.StmtID) bool { return id == 1 }
	leafExport := synced.NewLeaf[trigger.StmtID, int](1, costCtx{})
	leafNormal := synced.NewLeaf[trigger.StmtID, int](2, costCtx{})
	para := synced.NewPara[trigger.StmtID, int]([]synced.CostGroup[trigger.StmtID, int]{
		{Cost: 1, Branches: []synced.Synced[trigger.StmtID, int]{leafExport, leafNormal}},
	}, costCtx{})

	once := ExportHoist(para, isExport)
	twice := ExportHoist(once, isExport)
	assert.Equal(t, once, twice)
}

func TestCompileWithoutParaLinearizesViaToposort(t *testing.T) {
	b, importID := buildSpeedLimiterGraphCfg(t, &config.Config{Propagation: config.OnChange, Para: false})

	result, err := b.Compile(importID)
	require.NoError(t, err)
	assert.False(t, hasParaInstruction(result), "with para disabled the handler must be fully linear")
}

func TestBuildServiceHandlerIncludesTimeoutAndDelayHandlers(t *testing.T) {
	b, _ := buildSpeedLimiterGraph(t)

	handler, err := b.BuildServiceHandler(b.Arrivals())
	require.NoError(t, err)
	assert.Equal(t, "speed-limiter", handler.Service)

	kinds := make(map[instr.ArrivingFlowKind]int)
	for _, fh := range handler.FlowHandlers {
		kinds[fh.ArrivingFlow.Kind]++
	}
	assert.Equal(t, 1, kinds[instr.ArrivingChannel])
	assert.Equal(t, 1, kinds[instr.ArrivingServiceTimeout])
	assert.Equal(t, 1, kinds[instr.ArrivingServiceDelay], "one stashable input means the delay handler is emitted")
}

func TestStashRejectsDuplicateWriteInSameInterval(t *testing.T) {
	b, _ := buildSpeedLimiterGraph(t)
	require.NoError(t, b.Stash("speed"))
	err := b.Stash("speed")
	require.Error(t, err)
	assert.ErrorContains(t, err, "speed")

	b.ClearStash()
	assert.NoError(t, b.Stash("speed"))
}

func TestBuildDelayHandlerGeneratesAllOccupancySubsets(t *testing.T) {
	b, _ := buildSpeedLimiterGraph(t)
	b.stashableFlows = []string{"a", "b"}
	b.imports = append(b.imports,
		b.freshStmtID(),
		b.freshStmtID(),
	)
	// wire two fresh stashable imports so BuildDelayHandler has real nodes
	// to schedule for non-empty subsets.
	ids := b.imports[len(b.imports)-2:]
	b.graph.AddNode(ids[0])
	b.graph.AddNode(ids[1])
	b.stmts[ids[0]] = &StmtSpec{ID: ids[0], Kind: StmtImport, ImportName: "a"}
	b.stmts[ids[1]] = &StmtSpec{ID: ids[1], Kind: StmtImport, ImportName: "b"}

	handler, err := b.BuildDelayHandler()
	require.NoError(t, err)
	assert.Equal(t, instr.KindHandleDelay, handler.Kind)
	assert.Len(t, handler.Arms, 4) // 2^2 subsets, all-none included
}
