package flowbuilder

import (
	"strings"

	"github.com/duragraph/duragraph/internal/compiler/config"
	"github.com/duragraph/duragraph/internal/compiler/instr"
	"github.com/duragraph/duragraph/internal/compiler/symtab"
	"github.com/duragraph/duragraph/internal/compiler/synced"
	"github.com/duragraph/duragraph/internal/compiler/trigger"
)

// Lower maps a scheduled Synced tree onto FlowInstructions with the same
// go-down/go-up work-stack walk the other tree rewrites use, keeping
// control-stack depth bounded on large services. Each Synced node maps to
// the corresponding FlowInstruction shape; leaves dispatch on whether the
// statement is an import, an export, or an ordinary expression.
func (b *Builder) Lower(s synced.Synced[trigger.StmtID, int]) instr.FlowInstruction {
	stack := []hoistTask{{node: s}}
	var results []instr.FlowInstruction

	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !t.goUp {
			switch t.node.Kind {
			case synced.LeafKind:
				results = append(results, b.lowerLeaf(t.node.Leaf))
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
			out := make([]instr.FlowInstruction, n)
			copy(out, results[len(results)-n:])
			results = results[:len(results)-n]
			results = append(results, instr.NewSeq(out))
		case synced.ParaKind:
			total := 0
			for _, grp := range t.node.Para {
				total += len(grp.Branches)
			}
			lowered := results[len(results)-total:]
			results = results[:len(results)-total]

			branches := make([]instr.ParaBranch, 0, len(t.node.Para))
			idx := 0
			for _, grp := range t.node.Para {
				is := make([]instr.FlowInstruction, len(grp.Branches))
				for i := range grp.Branches {
					is[i] = lowered[idx]
					idx++
				}
				method := instr.ParaMethodInline
				if grp.Cost > 1 {
					method = instr.ParaMethodThread
				}
				branches = append(branches, instr.ParaBranch{Method: method, Instrs: is})
			}
			results = append(results, instr.NewPara(branches))
		}
	}

	return results[0]
}

func (b *Builder) lowerLeaf(id trigger.StmtID) instr.FlowInstruction {
	spec := b.stmts[id]
	switch {
	case spec.Kind == StmtImport:
		return b.handleImport(spec)
	case b.isExport(id):
		return b.send(spec)
	default:
		return b.handleExpr(spec)
	}
}

// markEvent records an event flow as touched by the current traversal, so
// Compile can prefix the handler with the matching InitEvent block.
func (b *Builder) markEvent(name string) {
	b.events[name] = struct{}{}
}

// handleImport is the first instruction of every handler: stores the arriving
// value in context if it is not a timer, resets a periodic timer if
// the flow is periodic, and records the flow in the event or signal set.
func (b *Builder) handleImport(spec *StmtSpec) instr.FlowInstruction {
	name := spec.ImportName
	if id, ok := b.symtab.GetFlowID(name, false); ok && b.symtab.Get(id).FlowKind == symtab.FlowSignal {
		b.signals[name] = struct{}{}
	} else {
		b.markEvent(name)
	}

	kind := b.timerKinds[name]
	var steps []instr.FlowInstruction
	if kind == symtab.TimerNone {
		steps = append(steps, instr.NewUpdateCtx(name, instr.EventRef(name)))
	}
	if kind == symtab.TimerPeriod {
		steps = append(steps, instr.NewResetTimer(name, name))
	}
	return instr.NewSeq(steps)
}

// send implements the export half of the context-update discipline: sends
// of a context-resident flow are guarded by IfActivated unless the service
// timeout fired earlier in this same traversal (export-hoisting guarantees
// imports, including a possible timeout import, are always visited before
// the trailing export Seq).
func (b *Builder) send(spec *StmtSpec) instr.FlowInstruction {
	name := spec.ExportTarget
	isEvent := !b.flowsContext.IsResident(name)
	sendInstr := instr.NewSend(name, instr.Ident(name), isEvent, spec.Origin)

	if !b.flowsContext.IsResident(name) {
		return sendInstr
	}
	if _, timeoutFired := b.events[b.service+"$timeout"]; timeoutFired {
		return sendInstr
	}
	return instr.NewIfActivated(nil, []string{name}, []instr.FlowInstruction{sendInstr}, nil)
}

// handleExpr dispatches a statement to its per-kind lowering.
func (b *Builder) handleExpr(spec *StmtSpec) instr.FlowInstruction {
	switch spec.Kind {
	case StmtIdent:
		return b.lowerIdent(spec)
	case StmtSample:
		return b.lowerSample(spec)
	case StmtScan:
		b.markEvent(spec.Dest)
		return instr.NewUpdateEvent(spec.Dest, instr.Some(instr.InCtx(spec.Src)))
	case StmtTimeout:
		return b.lowerTimeout(spec)
	case StmtThrottle:
		return instr.NewIfThrottle(spec.Dest, spec.Src, spec.Delta,
			[]instr.FlowInstruction{instr.NewUpdateCtx(spec.Dest, instr.InCtx(spec.Src))})
	case StmtOnChange:
		old := spec.Dest + "$old"
		b.markEvent(spec.Dest)
		return instr.NewIfChange(old, instr.InCtx(spec.Src), []instr.FlowInstruction{
			instr.NewUpdateCtx(old, instr.Ident(spec.Src)),
			instr.NewUpdateEvent(spec.Dest, instr.Some(instr.Ident(spec.Src))),
		})
	case StmtPersist:
		return instr.NewIfChange(spec.Dest, instr.EventRef(spec.Src),
			[]instr.FlowInstruction{instr.NewUpdateCtx(spec.Dest, instr.EventRef(spec.Src))})
	case StmtMerge:
		return b.lowerMerge(spec)
	case StmtTime:
		return instr.NewDefLet(spec.Dest, instr.Instant(b.arrivingImportName))
	case StmtComponentCall:
		return b.lowerComponentCall(spec)
	case StmtFunctionCall:
		return b.lowerFunctionCall(spec)
	}
	return instr.NewSeq(nil)
}

func (b *Builder) lowerIdent(spec *StmtSpec) instr.FlowInstruction {
	var steps []instr.FlowInstruction
	if spec.DestIsEvent {
		b.markEvent(spec.Dest)
		steps = append(steps, instr.NewUpdateEvent(spec.Dest, instr.Ident(spec.Src)))
	} else {
		steps = append(steps, instr.NewDefLet(spec.Dest, instr.Ident(spec.Src)))
	}
	if spec.Persisted {
		steps = append(steps, instr.NewUpdateCtx(spec.Dest, instr.Ident(spec.Dest)))
	}
	return instr.NewSeq(steps)
}

func (b *Builder) lowerSample(spec *StmtSpec) instr.FlowInstruction {
	if b.arrivingImportName == spec.Src {
		return instr.NewUpdateCtx(spec.Src+"$stored", instr.Ident(spec.Src))
	}
	return instr.NewUpdateCtx(spec.Dest, instr.TakeFromCtx(spec.Src))
}

func (b *Builder) lowerTimeout(spec *StmtSpec) instr.FlowInstruction {
	if b.arrivingImportName == spec.Src {
		return instr.NewResetTimer(spec.Period, spec.Period)
	}
	b.markEvent(spec.Dest)
	return instr.NewSeq([]instr.FlowInstruction{
		instr.NewUpdateEvent(spec.Dest, instr.None()),
		instr.NewResetTimer(spec.Period, spec.Period),
	})
}

func (b *Builder) lowerMerge(spec *StmtSpec) instr.FlowInstruction {
	b.markEvent(spec.Dest)
	second := instr.NewIfActivated(nil, []string{spec.Src2},
		[]instr.FlowInstruction{instr.NewUpdateEvent(spec.Dest, instr.Some(instr.EventRef(spec.Src2)))}, nil)
	return instr.NewIfActivated(nil, []string{spec.Src},
		[]instr.FlowInstruction{instr.NewUpdateEvent(spec.Dest, instr.Some(instr.EventRef(spec.Src)))},
		[]instr.FlowInstruction{second})
}

func (b *Builder) lowerComponentCall(spec *StmtSpec) instr.FlowInstruction {
	b.componentsCalled = append(b.componentsCalled, spec.Callee)
	pattern := "(" + strings.Join(spec.Outputs, ", ") + ")"
	body := []instr.FlowInstruction{instr.NewCompCall(pattern, spec.Callee, spec.Inputs)}
	for _, out := range spec.Outputs {
		if spec.OutputIsEvent[out] {
			b.markEvent(out)
			body = append(body, instr.NewUpdateEvent(out, instr.Ident(out)))
		} else {
			body = append(body, instr.NewUpdateCtx(out, instr.Ident(out)))
		}
	}
	if b.cfg.Propagation == config.OnChange {
		return instr.NewIfActivated(nil, spec.Inputs, body, nil)
	}
	return instr.NewSeq(body)
}

func (b *Builder) lowerFunctionCall(spec *StmtSpec) instr.FlowInstruction {
	pattern := "(" + strings.Join(spec.Outputs, ", ") + ")"
	body := []instr.FlowInstruction{instr.NewFunCall(pattern, spec.Callee, spec.Inputs)}
	for _, out := range spec.Outputs {
		body = append(body, instr.NewUpdateCtx(out, instr.Ident(out)))
	}
	if b.cfg.Propagation == config.OnChange {
		return instr.NewIfActivated(nil, spec.Inputs, body, nil)
	}
	return instr.NewSeq(body)
}
