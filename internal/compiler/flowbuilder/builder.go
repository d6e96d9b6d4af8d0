// Package flowbuilder implements the per-service flow-instruction builder:
// one-time graph enrichment (timer synthesis, service delay/timeout wiring,
// time-node edges), per-arriving-flow scheduling via
// internal/compiler/synced, the export-hoisting and lowering rewrites from
// Synced to FlowInstruction, and the delay input-store's occupancy-subset
// match arms.
package flowbuilder

import (
	"sort"

	"github.com/duragraph/duragraph/internal/compiler/config"
	"github.com/duragraph/duragraph/internal/compiler/dag"
	"github.com/duragraph/duragraph/internal/compiler/instr"
	"github.com/duragraph/duragraph/internal/compiler/symtab"
	"github.com/duragraph/duragraph/internal/compiler/synced"
	"github.com/duragraph/duragraph/internal/compiler/trigger"
	"github.com/duragraph/duragraph/internal/pkg/errors"
)

// storedValue is one occupied slot of the delay input-store.
type storedValue struct {
	flow string
}

// Builder synthesizes one service's ServiceHandler. Construct with New,
// which performs the three one-time graph-enrichment steps before any
// arriving flow is compiled.
type Builder struct {
	service string
	graph   *dag.Graph[trigger.StmtID]
	trig    *trigger.Graph
	symtab  *symtab.Table
	cfg     *config.Config

	stmts map[trigger.StmtID]*StmtSpec

	imports []trigger.StmtID
	exports map[trigger.StmtID]struct{}

	flowsContext     *instr.FlowContext
	componentsCalled []string

	// delay/timeout bookkeeping (enrichment step 2)
	delayStmt      trigger.StmtID
	hasDelay       bool
	timeoutStmt    trigger.StmtID
	hasTimeout     bool
	stashableFlows []string // deterministic order of the k stashable inputs

	// timerKinds maps a synthesized timer flow's name to its kind, so
	// handleImport knows whether to emit a ResetTimer alongside the
	// context update.
	timerKinds map[string]symtab.TimerKind

	// per-traversal state, cleared at the start of each Compile call
	events             map[string]struct{}
	signals            map[string]struct{}
	arrivingImportName string

	// delay input-store: flow name -> stashed value, cleared when the
	// delay fires
	inputStore map[string]*storedValue

	nextStmtID trigger.StmtID
}

// New constructs a Builder for one service and performs its one-time
// graph enrichment. stmts must already describe every statement the
// upstream IR produced; New adds synthesized timer/delay/timeout/time
// nodes to both graph and stmts.
func New(
	service string,
	graph *dag.Graph[trigger.StmtID],
	stmts map[trigger.StmtID]*StmtSpec,
	imports []trigger.StmtID,
	exports map[trigger.StmtID]struct{},
	tab *symtab.Table,
	cfg *config.Config,
) *Builder {
	b := &Builder{
		service:      service,
		graph:        graph,
		trig:         trigger.New(graph),
		symtab:       tab,
		cfg:          cfg,
		stmts:        stmts,
		imports:      imports,
		exports:      exports,
		flowsContext: instr.NewFlowContext(),
		events:       make(map[string]struct{}),
		signals:      make(map[string]struct{}),
		inputStore:   make(map[string]*storedValue),
		timerKinds:   make(map[string]symtab.TimerKind),
	}
	for id := range stmts {
		if id >= b.nextStmtID {
			b.nextStmtID = id + 1
		}
	}

	b.synthesizeTimers()
	b.synthesizeServiceTimers()
	b.wireTimeNodes()

	return b
}

func (b *Builder) freshStmtID() trigger.StmtID {
	id := b.nextStmtID
	b.nextStmtID++
	return id
}

// synthesizeTimers is enrichment step 1: Sample/Scan/Timeout statements
// each get a fresh timer flow registered as an import, wired
// with a zero-weight edge into the consuming statement; OnChange
// additionally allocates an old-value shadow flow in the persistent
// context.
func (b *Builder) synthesizeTimers() {
	var c errors.Collector
	ids := b.sortedStmtIDs()
	for _, id := range ids {
		spec := b.stmts[id]
		switch spec.Kind {
		case StmtSample, StmtScan, StmtTimeout:
			timerName := spec.Dest + "$timer"
			b.symtab.InsertFlow(timerName, symtab.FlowEvent, timerKindFor(spec.Kind), "", &c)
			b.timerKinds[timerName] = timerKindFor(spec.Kind)
			spec.Period = timerName

			timerStmt := b.freshStmtID()
			b.graph.AddNode(timerStmt)
			b.stmts[timerStmt] = &StmtSpec{ID: timerStmt, Kind: StmtImport, ImportName: timerName}
			b.graph.AddEdge(timerStmt, id, dag.Label{Weight: 0})
			b.imports = append(b.imports, timerStmt)
		case StmtOnChange:
			b.flowsContext.Persist(spec.Dest + "$old")
		}
	}
}

func timerKindFor(k StmtKind) symtab.TimerKind {
	switch k {
	case StmtSample:
		return symtab.TimerPeriod
	case StmtScan:
		return symtab.TimerPeriod
	case StmtTimeout:
		return symtab.TimerDeadline
	default:
		return symtab.TimerNone
	}
}

// synthesizeServiceTimers is enrichment step 2: a service delay (minimum
// inter-handling interval) and a service timeout (maximum between outputs)
// timer, each created once per service. The delay node carries no outgoing
// edges, its fan-out is the match-arm mechanism of the delay handler; the
// timeout is wired to every component-call statement.
func (b *Builder) synthesizeServiceTimers() {
	var c errors.Collector

	delayName := b.service + "$delay"
	b.symtab.InsertFlow(delayName, symtab.FlowEvent, symtab.TimerServiceDelay, "", &c)
	b.timerKinds[delayName] = symtab.TimerServiceDelay
	b.delayStmt = b.freshStmtID()
	b.hasDelay = true
	b.graph.AddNode(b.delayStmt)
	b.stmts[b.delayStmt] = &StmtSpec{ID: b.delayStmt, Kind: StmtImport, ImportName: delayName}
	b.imports = append(b.imports, b.delayStmt)

	timeoutName := b.service + "$timeout"
	b.symtab.InsertFlow(timeoutName, symtab.FlowEvent, symtab.TimerServiceTimeout, "", &c)
	b.timerKinds[timeoutName] = symtab.TimerServiceTimeout
	b.timeoutStmt = b.freshStmtID()
	b.hasTimeout = true
	b.graph.AddNode(b.timeoutStmt)
	b.stmts[b.timeoutStmt] = &StmtSpec{ID: b.timeoutStmt, Kind: StmtImport, ImportName: timeoutName}
	b.imports = append(b.imports, b.timeoutStmt)

	for _, id := range b.sortedStmtIDs() {
		if b.stmts[id].Kind == StmtComponentCall {
			b.graph.AddEdge(b.timeoutStmt, id, dag.Label{Weight: 0})
		}
	}

	b.computeStashableFlows()
}

// computeStashableFlows determines the k inputs the delay handler must
// stash: every non-timer import whose reachability set is non-trivial
// (reaches at least one other statement).
func (b *Builder) computeStashableFlows() {
	seen := make(map[string]struct{})
	for _, imp := range b.sortedImportIDs() {
		spec := b.stmts[imp]
		if spec.ImportName == "" {
			continue
		}
		if b.timerKinds[spec.ImportName] != symtab.TimerNone {
			continue
		}
		reach := b.trig.Reachability(imp)
		if len(reach) <= 1 {
			continue
		}
		if _, dup := seen[spec.ImportName]; dup {
			continue
		}
		seen[spec.ImportName] = struct{}{}
		b.stashableFlows = append(b.stashableFlows, spec.ImportName)
	}
	sort.Strings(b.stashableFlows)
}

// wireTimeNodes is enrichment step 3: every Time statement gets
// an incoming edge from every import statement that itself has outgoing
// edges, so `time` is always co-scheduled with arriving data.
func (b *Builder) wireTimeNodes() {
	var timeStmts []trigger.StmtID
	for _, id := range b.sortedStmtIDs() {
		if b.stmts[id].Kind == StmtTime {
			timeStmts = append(timeStmts, id)
		}
	}
	for _, imp := range b.sortedImportIDs() {
		if len(b.graph.EdgesFrom(imp)) == 0 {
			continue
		}
		for _, t := range timeStmts {
			b.graph.AddEdge(imp, t, dag.Label{Weight: 0})
		}
	}
}

func (b *Builder) sortedStmtIDs() []trigger.StmtID {
	ids := make([]trigger.StmtID, 0, len(b.stmts))
	for id := range b.stmts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *Builder) sortedImportIDs() []trigger.StmtID {
	ids := append([]trigger.StmtID{}, b.imports...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *Builder) isExport(id trigger.StmtID) bool {
	_, ok := b.exports[id]
	return ok
}

// Arrivals returns the ArrivingFlow value for every import statement this
// builder knows about, including the timers synthesized by New: periodic
// timers report Period, deadline timers report Deadline, the service
// timeout reports ServiceTimeout, and everything else (ordinary channel
// imports) reports Channel.
// The service delay is intentionally excluded — BuildServiceHandler wires
// it through its own ServiceDelay handler, not the per-flow loop.
func (b *Builder) Arrivals() []instr.ArrivingFlow {
	var out []instr.ArrivingFlow
	for _, id := range b.sortedImportIDs() {
		spec := b.stmts[id]
		name := spec.ImportName
		if name == b.service+"$delay" {
			continue
		}
		switch b.timerKinds[name] {
		case symtab.TimerPeriod:
			out = append(out, instr.Period(name))
		case symtab.TimerDeadline:
			out = append(out, instr.Deadline(name))
		case symtab.TimerServiceTimeout:
			out = append(out, instr.ServiceTimeout(name))
		default:
			out = append(out, instr.Channel(name, "", ""))
		}
	}
	return out
}

// StmtIDForImport looks up the statement id backing a named import, so a
// caller holding only an ArrivingFlow.Name (e.g. cmd/flowc) can invoke
// Compile directly.
func (b *Builder) StmtIDForImport(name string) (trigger.StmtID, error) {
	for _, id := range b.sortedImportIDs() {
		if b.stmts[id].ImportName == name {
			return id, nil
		}
	}
	return 0, errors.NotFound("import", name)
}

// costCtx is the scheduling cost model the flow builder runs with:
// every instruction costs 1, a sequence costs the sum of its parts, a
// parallel branching costs one more than its slowest branch.
type costCtx struct{}

func (costCtx) IgnoreEdge(dag.Label) bool    { return false }
func (costCtx) InvertedEdges() bool          { return false }
func (costCtx) InstrCost(trigger.StmtID) int { return 1 }
func (costCtx) SyncSeqCost(seq []synced.Synced[trigger.StmtID, int]) int {
	total := 0
	for _, s := range seq {
		total += s.Cost
	}
	return total
}
func (costCtx) SyncParaCost(groups []synced.CostGroup[trigger.StmtID, int]) int {
	max := 0
	for _, g := range groups {
		if g.Cost > max {
			max = g.Cost
		}
	}
	return 1 + max
}
func (costCtx) Less(a, b trigger.StmtID) bool { return a < b }
func (costCtx) CostLess(a, b int) bool        { return a < b }
