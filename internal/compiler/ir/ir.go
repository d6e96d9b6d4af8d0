// Package ir defines the JSON-serializable contract between the
// flow-instruction builder and its upstream collaborators, the
// lexer/parser/type-checker stages that live outside this module. Those
// passes hand the compiler a fully resolved statement graph; this package
// is the boundary where that handoff happens: a ServiceGraph DTO in, a
// wired flowbuilder.Builder out.
package ir

import (
	"sort"

	"github.com/duragraph/duragraph/internal/compiler/config"
	"github.com/duragraph/duragraph/internal/compiler/dag"
	"github.com/duragraph/duragraph/internal/compiler/flowbuilder"
	"github.com/duragraph/duragraph/internal/compiler/instr"
	"github.com/duragraph/duragraph/internal/compiler/symtab"
	"github.com/duragraph/duragraph/internal/compiler/trigger"
	"github.com/duragraph/duragraph/internal/pkg/errors"
)

// StatementDTO describes one node of a service's statement graph in wire
// form: string-named fields mirroring flowbuilder.StmtSpec, with flow
// names in place of the in-process symbol/statement ids the compiler
// assigns once the graph is loaded.
type StatementDTO struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`

	Dest string `json:"dest,omitempty"`
	Src  string `json:"src,omitempty"`
	Src2 string `json:"src2,omitempty"`

	Delta float64 `json:"delta,omitempty"`

	Callee       string   `json:"callee,omitempty"`
	Inputs       []string `json:"inputs,omitempty"`
	Outputs      []string `json:"outputs,omitempty"`
	EventOutputs []string `json:"event_outputs,omitempty"`

	DestIsEvent bool `json:"dest_is_event,omitempty"`
	Persisted   bool `json:"persisted,omitempty"`

	ImportName   string  `json:"import_name,omitempty"`
	ImportType   string  `json:"import_type,omitempty"`
	ImportPath   string  `json:"import_path,omitempty"`
	ExportTarget string  `json:"export_target,omitempty"`
	Origin       *string `json:"origin,omitempty"`
}

// EdgeDTO is one dependency edge between two StatementDTO ids.
type EdgeDTO struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Weight int    `json:"weight"`
}

// ServiceGraph is the wire-level description of one service: its
// statements, their dependency edges, and which statement ids are
// channel imports (arriving flows) versus exports.
type ServiceGraph struct {
	Service    string         `json:"service"`
	Statements []StatementDTO `json:"statements"`
	Edges      []EdgeDTO      `json:"edges"`
	Imports    []string       `json:"imports"`
	Exports    []string       `json:"exports"`
}

// Build resolves a ServiceGraph DTO into a flowbuilder.Builder, performing
// its one-time graph enrichment in the process, plus the
// list of ArrivingFlow values BuildServiceHandler should compile.
func Build(sg ServiceGraph, cfg *config.Config) (*flowbuilder.Builder, []instr.ArrivingFlow, error) {
	g := dag.New[trigger.StmtID]()
	stmts := make(map[trigger.StmtID]*flowbuilder.StmtSpec, len(sg.Statements))
	idOf := make(map[string]trigger.StmtID, len(sg.Statements))

	ids := append([]StatementDTO{}, sg.Statements...)
	sort.Slice(ids, func(i, j int) bool { return ids[i].ID < ids[j].ID })
	for i, st := range ids {
		nodeID := trigger.StmtID(i)
		idOf[st.ID] = nodeID
		g.AddNode(nodeID)
	}

	tab := symtab.New()
	var collector errors.Collector

	for _, st := range ids {
		nodeID := idOf[st.ID]
		outputIsEvent := make(map[string]bool, len(st.Outputs))
		eventSet := make(map[string]struct{}, len(st.EventOutputs))
		for _, o := range st.EventOutputs {
			eventSet[o] = struct{}{}
		}
		for _, o := range st.Outputs {
			_, isEvent := eventSet[o]
			outputIsEvent[o] = isEvent
		}

		stmts[nodeID] = &flowbuilder.StmtSpec{
			ID:            nodeID,
			Kind:          flowbuilder.StmtKind(st.Kind),
			Dest:          st.Dest,
			Src:           st.Src,
			Src2:          st.Src2,
			Delta:         st.Delta,
			Callee:        st.Callee,
			Inputs:        st.Inputs,
			Outputs:       st.Outputs,
			OutputIsEvent: outputIsEvent,
			DestIsEvent:   st.DestIsEvent,
			Persisted:     st.Persisted,
			ImportName:    st.ImportName,
			ExportTarget:  st.ExportTarget,
			Origin:        st.Origin,
		}

		if st.Dest != "" {
			kind := symtab.FlowSignal
			if st.DestIsEvent {
				kind = symtab.FlowEvent
			}
			tab.InsertFlow(st.Dest, kind, symtab.TimerNone, "", &collector)
		}
		if st.ImportName != "" {
			tab.InsertFlow(st.ImportName, symtab.FlowEvent, symtab.TimerNone, st.ImportPath, &collector)
		}
		for _, out := range st.Outputs {
			kind := symtab.FlowSignal
			if outputIsEvent[out] {
				kind = symtab.FlowEvent
			}
			tab.InsertFlow(out, kind, symtab.TimerNone, "", &collector)
		}
	}
	if collector.HasErrors() {
		return nil, nil, collector.First()
	}

	// Every flow a statement reads must resolve; a near-miss name gets a
	// "did you mean" hint.
	for _, st := range ids {
		reads := append([]string{}, st.Inputs...)
		if st.Src != "" {
			reads = append(reads, st.Src)
		}
		if st.Src2 != "" {
			reads = append(reads, st.Src2)
		}
		for _, name := range reads {
			if _, ok := tab.GetFlowID(name, false); ok {
				continue
			}
			hint, _ := tab.FuzzyLookup(name)
			return nil, nil, errors.UnknownSymbol("flow", name, hint)
		}
	}

	for _, e := range sg.Edges {
		from, ok := idOf[e.From]
		if !ok {
			return nil, nil, errors.NewDomainError("INVALID_INPUT", "unknown statement id "+e.From+" in edges", errors.ErrInvalidInput)
		}
		to, ok := idOf[e.To]
		if !ok {
			return nil, nil, errors.NewDomainError("INVALID_INPUT", "unknown statement id "+e.To+" in edges", errors.ErrInvalidInput)
		}
		if err := g.AddEdge(from, to, dag.Label{Weight: e.Weight}); err != nil {
			return nil, nil, err
		}
	}

	imports := make([]trigger.StmtID, 0, len(sg.Imports))
	for _, name := range sg.Imports {
		id, ok := idOf[name]
		if !ok {
			return nil, nil, errors.NewDomainError("INVALID_INPUT", "unknown statement id "+name+" in imports", errors.ErrInvalidInput)
		}
		imports = append(imports, id)
	}

	exports := make(map[trigger.StmtID]struct{}, len(sg.Exports))
	for _, name := range sg.Exports {
		id, ok := idOf[name]
		if !ok {
			return nil, nil, errors.NewDomainError("INVALID_INPUT", "unknown statement id "+name+" in exports", errors.ErrInvalidInput)
		}
		exports[id] = struct{}{}
	}

	builder := flowbuilder.New(sg.Service, g, stmts, imports, exports, tab, cfg)
	return builder, builder.Arrivals(), nil
}

// Compile is the convenience one-shot entry point: build the graph, then
// synthesize the full ServiceHandler.
func Compile(sg ServiceGraph, cfg *config.Config) (*instr.ServiceHandler, error) {
	builder, arrivals, err := Build(sg, cfg)
	if err != nil {
		return nil, err
	}
	return builder.BuildServiceHandler(arrivals)
}
