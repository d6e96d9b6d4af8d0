package flowbuilder

import (
	"github.com/duragraph/duragraph/internal/compiler/instr"
	"github.com/duragraph/duragraph/internal/compiler/trigger"
	"github.com/duragraph/duragraph/internal/pkg/errors"
)

// Stash enforces the input-store's single-write-per-interval rule: a flow
// may be written into the delay input-store at most once between
// two firings of the service delay timer.
func (b *Builder) Stash(name string) error {
	if _, occupied := b.inputStore[name]; occupied {
		return errors.DuplicateStash(name)
	}
	b.inputStore[name] = &storedValue{flow: name}
	return nil
}

// ClearStash empties the delay input-store; callers invoke this once the
// service delay timer has fired and HandleDelay has been lowered.
func (b *Builder) ClearStash() {
	b.inputStore = make(map[string]*storedValue)
}

func (b *Builder) importIDForName(name string) (trigger.StmtID, bool) {
	for _, id := range b.imports {
		if b.stmts[id].ImportName == name {
			return id, true
		}
	}
	return 0, false
}

// BuildDelayHandler builds the delay handler's match arms: one arm per
// subset of the k stashable flows (2^k arms total, including the
// all-absent arm), each carrying the scheduled-and-lowered subgraph
// reachable from exactly that subset's imports. Arms are neither
// deduplicated nor capped, every subset is generated even when several
// produce identical bodies; exponential blowup for large k is a known
// limit.
func (b *Builder) BuildDelayHandler() (instr.FlowInstruction, error) {
	k := len(b.stashableFlows)
	arms := make([]instr.MatchArm, 0, 1<<uint(k))

	for mask := 0; mask < (1 << uint(k)); mask++ {
		var present []string
		var importIDs []trigger.StmtID
		for i, name := range b.stashableFlows {
			if mask&(1<<uint(i)) != 0 {
				present = append(present, name)
				if id, ok := b.importIDForName(name); ok {
					importIDs = append(importIDs, id)
				}
			}
		}
		// An arm runs everything any of its present inputs can trigger.
		nodes := b.trig.Subgraph(importIDs...)

		var then []instr.FlowInstruction
		if len(nodes) > 0 {
			lowered, err := b.scheduleAndLower(nodes)
			if err != nil {
				return instr.FlowInstruction{}, err
			}
			then = []instr.FlowInstruction{lowered}
		}
		arms = append(arms, instr.MatchArm{Present: present, Then: then})
	}

	return instr.NewHandleDelay(append([]string{}, b.stashableFlows...), arms), nil
}
