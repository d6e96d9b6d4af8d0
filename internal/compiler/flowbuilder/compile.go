package flowbuilder

import (
	"sort"

	"github.com/duragraph/duragraph/internal/compiler/instr"
	"github.com/duragraph/duragraph/internal/compiler/symtab"
	"github.com/duragraph/duragraph/internal/compiler/synced"
	"github.com/duragraph/duragraph/internal/compiler/trigger"
)

// scheduleAndLower runs the shared tail of the handler pipeline over an
// arbitrary node subset: schedule with the service's cost context, hoist
// exports out
// of Para blocks, then lower to a FlowInstruction. Both Compile (one
// arriving flow) and BuildDelayHandler (one occupancy subset per match arm)
// reduce to this. With Para disabled the schedule degenerates to a plain
// topological sort of the subgraph and the handler is fully linear.
func (b *Builder) scheduleAndLower(nodes map[trigger.StmtID]struct{}) (instr.FlowInstruction, error) {
	if !b.cfg.Para {
		order, err := b.graph.Subgraph(nodes).Toposort()
		if err != nil {
			return instr.FlowInstruction{}, err
		}
		out := make([]instr.FlowInstruction, 0, len(order))
		for _, id := range order {
			out = append(out, b.lowerLeaf(id))
		}
		return instr.NewSeq(out), nil
	}

	tree, err := synced.Run[trigger.StmtID, int](costCtx{}, b.graph, nodes)
	if err != nil {
		return instr.FlowInstruction{}, err
	}
	hoisted := ExportHoist(tree, b.isExport)
	return b.Lower(hoisted), nil
}

// Compile runs the per-arriving-flow pipeline: clear per-traversal state,
// derive the trigger subgraph, schedule, hoist, lower,
// and prefix an InitEvent block for every non-timer event the traversal
// touched.
func (b *Builder) Compile(arriving trigger.StmtID) (instr.FlowInstruction, error) {
	b.events = make(map[string]struct{})
	b.signals = make(map[string]struct{})
	b.arrivingImportName = b.stmts[arriving].ImportName

	nodes := b.trig.Reachability(arriving)
	body, err := b.scheduleAndLower(nodes)
	if err != nil {
		return instr.FlowInstruction{}, err
	}
	return instr.NewSeq(append(b.initEvents(), body)), nil
}

// initEvents builds the InitEvent prefix of a handler: one per event
// encountered during the traversal just lowered, timers excluded, in
// name order.
func (b *Builder) initEvents() []instr.FlowInstruction {
	names := make([]string, 0, len(b.events))
	for name := range b.events {
		if b.timerKinds[name] != symtab.TimerNone {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]instr.FlowInstruction, 0, len(names))
	for _, name := range names {
		out = append(out, instr.NewInitEvent(name))
	}
	return out
}

// BuildServiceHandler compiles every ordinary arriving flow into a
// FlowHandler and, if the service has a delay timer whose stashable set is
// non-empty, compiles the delay's occupancy-subset match arms into its own
// FlowHandler keyed on the service's $delay flow.
func (b *Builder) BuildServiceHandler(arrivals []instr.ArrivingFlow) (*instr.ServiceHandler, error) {
	handlers := make([]instr.FlowHandler, 0, len(arrivals))

	for _, af := range arrivals {
		id, ok := b.importIDForName(af.Name)
		if !ok {
			continue
		}
		ins, err := b.Compile(id)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, instr.FlowHandler{ArrivingFlow: af, Instruction: ins})
	}

	if b.hasDelay && len(b.stashableFlows) > 0 {
		b.events = make(map[string]struct{})
		b.signals = make(map[string]struct{})
		b.arrivingImportName = b.service + "$delay"

		delayIns, err := b.BuildDelayHandler()
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, instr.FlowHandler{
			ArrivingFlow: instr.ServiceDelay(b.service + "$delay"),
			Instruction:  instr.NewSeq(append(b.initEvents(), delayIns)),
		})
	}

	sort.Slice(handlers, func(i, j int) bool {
		return handlers[i].ArrivingFlow.Name < handlers[j].ArrivingFlow.Name
	})

	called := append([]string{}, b.componentsCalled...)
	sort.Strings(called)

	return &instr.ServiceHandler{
		Service:          b.service,
		ComponentsCalled: called,
		FlowHandlers:     handlers,
		FlowsContext:     b.flowsContext,
	}, nil
}
