package flowbuilder

import "github.com/duragraph/duragraph/internal/compiler/trigger"

// StmtKind tags the IR expression kind of one statement node, driving the
// per-kind lowering.
type StmtKind string

const (
	StmtImport        StmtKind = "import"
	StmtExport        StmtKind = "export"
	StmtIdent         StmtKind = "ident"
	StmtSample        StmtKind = "sample"
	StmtScan          StmtKind = "scan"
	StmtTimeout       StmtKind = "timeout"
	StmtThrottle      StmtKind = "throttle"
	StmtOnChange      StmtKind = "on_change"
	StmtPersist       StmtKind = "persist"
	StmtMerge         StmtKind = "merge"
	StmtTime          StmtKind = "time"
	StmtComponentCall StmtKind = "component_call"
	StmtFunctionCall  StmtKind = "function_call"
)

// StmtSpec is the per-node metadata the lowering pass needs: which IR
// operator this node represents and its operands. The upstream IR stages
// populate these before handing the statement graph to
// flowbuilder.Builder.
type StmtSpec struct {
	ID   trigger.StmtID
	Kind StmtKind

	// Dest is the flow name this statement defines (Ident/Sample/Scan/...).
	Dest string
	// Src/Src2 name the flow(s) this statement reads from.
	Src, Src2 string

	// Period names the timer flow synthesized for Sample/Scan/Timeout.
	Period string
	// Delta is Throttle's minimum inter-update interval.
	Delta float64

	// Component/Function name plus positional input flow names, for
	// ComponentCall/FunctionCall.
	Callee  string
	Inputs  []string
	Outputs []string
	// OutputIsEvent reports, per output name, whether it is an event
	// (UpdateEvent) or a signal (UpdateCtx).
	OutputIsEvent map[string]bool

	// DestIsEvent distinguishes Ident's two lowering forms.
	DestIsEvent bool
	// Persisted marks Dest as context-resident.
	Persisted bool

	// ImportName is the ArrivingFlow name that feeds an Import statement.
	ImportName string
	// ExportTarget names the flow exported, and Origin an optional
	// provenance tag threaded into instr.Send.
	ExportTarget string
	Origin       *string
}
