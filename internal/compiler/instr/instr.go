// Package instr defines the output data model of the flow-instruction
// builder: FlowInstruction trees, ArrivingFlow variants,
// and the ServiceHandler/FlowHandler envelopes that carry them. Every type
// here is plain data — JSON-serializable so the HTTP and CLI surfaces can
// round-trip a compiled service without a bespoke pretty-printer.
package instr

// ExprKind tags the leaf expression variants.
type ExprKind string

const (
	ExprIdent        ExprKind = "ident"
	ExprInCtx        ExprKind = "in_ctx"
	ExprEventRef     ExprKind = "event_ref"
	ExprTakeFromCtx  ExprKind = "take_from_ctx"
	ExprSome         ExprKind = "some"
	ExprNone         ExprKind = "none"
	ExprLiteral      ExprKind = "literal"
	ExprInstant      ExprKind = "instant"
)

// Expr is a leaf expression appearing inside a FlowInstruction. Only the
// fields relevant to Kind are populated.
type Expr struct {
	Kind ExprKind `json:"kind"`

	// Ident / InCtx / EventRef / TakeFromCtx / Instant
	Name string `json:"name,omitempty"`

	// Some wraps Inner; None and Literal use Literal directly.
	Inner   *Expr       `json:"inner,omitempty"`
	Literal interface{} `json:"literal,omitempty"`
}

func Ident(name string) Expr       { return Expr{Kind: ExprIdent, Name: name} }
func InCtx(name string) Expr       { return Expr{Kind: ExprInCtx, Name: name} }
func EventRef(name string) Expr    { return Expr{Kind: ExprEventRef, Name: name} }
func TakeFromCtx(name string) Expr { return Expr{Kind: ExprTakeFromCtx, Name: name} }
func Some(inner Expr) Expr         { return Expr{Kind: ExprSome, Inner: &inner} }
func None() Expr                   { return Expr{Kind: ExprNone} }
func Lit(v interface{}) Expr       { return Expr{Kind: ExprLiteral, Literal: v} }
func Instant(importName string) Expr {
	return Expr{Kind: ExprInstant, Name: importName}
}

// ParaMethod tags how a Para block's branches should be executed by a
// faithful runtime: an opportunity, not an obligation.
type ParaMethod string

const (
	ParaMethodThread ParaMethod = "thread"
	ParaMethodInline ParaMethod = "inline"
)

// ParaBranch groups FlowInstructions that may run concurrently under the
// same method tag.
type ParaBranch struct {
	Method ParaMethod        `json:"method"`
	Instrs []FlowInstruction `json:"instrs"`
}

// MatchArm is one occupancy-subset arm of a HandleDelay instruction:
// Present lists which stashed input flows this arm
// assumes arrived, and Then is the lowered subgraph for that subset.
type MatchArm struct {
	Present []string          `json:"present"`
	Then    []FlowInstruction `json:"then"`
}

// Kind tags which variant of FlowInstruction a value holds.
type Kind string

const (
	KindSeq         Kind = "seq"
	KindPara        Kind = "para"
	KindIfActivated Kind = "if_activated"
	KindInitEvent   Kind = "init_event"
	KindUpdateEvent Kind = "update_event"
	KindUpdateCtx   Kind = "update_ctx"
	KindDefLet      Kind = "def_let"
	KindResetTimer  Kind = "reset_timer"
	KindSend        Kind = "send"
	KindHandleDelay Kind = "handle_delay"
	KindCompCall    Kind = "comp_call"
	KindFunCall     Kind = "fun_call"
	KindIfChange    Kind = "if_change"
	KindIfThrottle  Kind = "if_throttle"
	KindExpr        Kind = "expr"
)

// FlowInstruction is the inductive output of lowering. As with Synced,
// construct values with the NewXxx helpers below rather than struct
// literals, to keep field population consistent with Kind.
type FlowInstruction struct {
	Kind Kind `json:"kind"`

	// Seq
	Seq []FlowInstruction `json:"seq,omitempty"`

	// Para
	Para []ParaBranch `json:"para,omitempty"`

	// IfActivated
	Events  []string          `json:"events,omitempty"`
	Signals []string          `json:"signals,omitempty"`
	Then    []FlowInstruction `json:"then,omitempty"`
	Else    []FlowInstruction `json:"else,omitempty"`

	// InitEvent / UpdateEvent / UpdateCtx / DefLet / ResetTimer / Send /
	// IfChange / IfThrottle all key off Name.
	Name string `json:"name,omitempty"`
	Expr *Expr  `json:"expr,omitempty"`

	// Send
	IsEvent bool    `json:"is_event,omitempty"`
	Origin  *string `json:"origin,omitempty"`

	// ResetTimer
	Import string `json:"import,omitempty"`

	// HandleDelay
	FlowNames []string   `json:"flow_names,omitempty"`
	Arms      []MatchArm `json:"arms,omitempty"`

	// CompCall / FunCall
	Pattern string   `json:"pattern,omitempty"`
	Inputs  []string `json:"inputs,omitempty"`

	// IfThrottle
	Src   string  `json:"src,omitempty"`
	Delta float64 `json:"delta,omitempty"`

	// Leaf expression (Kind == KindExpr)
	Leaf *Expr `json:"leaf,omitempty"`
}

func NewSeq(is []FlowInstruction) FlowInstruction {
	if len(is) == 1 {
		return is[0]
	}
	return FlowInstruction{Kind: KindSeq, Seq: is}
}

func NewPara(branches []ParaBranch) FlowInstruction {
	if len(branches) == 1 && len(branches[0].Instrs) == 1 {
		return branches[0].Instrs[0]
	}
	return FlowInstruction{Kind: KindPara, Para: branches}
}

func NewIfActivated(events, signals []string, then, els []FlowInstruction) FlowInstruction {
	return FlowInstruction{Kind: KindIfActivated, Events: events, Signals: signals, Then: then, Else: els}
}

func NewInitEvent(name string) FlowInstruction {
	return FlowInstruction{Kind: KindInitEvent, Name: name}
}

func NewUpdateEvent(name string, expr Expr) FlowInstruction {
	return FlowInstruction{Kind: KindUpdateEvent, Name: name, Expr: &expr}
}

func NewUpdateCtx(name string, expr Expr) FlowInstruction {
	return FlowInstruction{Kind: KindUpdateCtx, Name: name, Expr: &expr}
}

func NewDefLet(name string, expr Expr) FlowInstruction {
	return FlowInstruction{Kind: KindDefLet, Name: name, Expr: &expr}
}

func NewResetTimer(name, importName string) FlowInstruction {
	return FlowInstruction{Kind: KindResetTimer, Name: name, Import: importName}
}

func NewSend(name string, expr Expr, isEvent bool, origin *string) FlowInstruction {
	return FlowInstruction{Kind: KindSend, Name: name, Expr: &expr, IsEvent: isEvent, Origin: origin}
}

func NewHandleDelay(flowNames []string, arms []MatchArm) FlowInstruction {
	return FlowInstruction{Kind: KindHandleDelay, FlowNames: flowNames, Arms: arms}
}

func NewCompCall(pattern, name string, inputs []string) FlowInstruction {
	return FlowInstruction{Kind: KindCompCall, Pattern: pattern, Name: name, Inputs: inputs}
}

func NewFunCall(pattern, name string, inputs []string) FlowInstruction {
	return FlowInstruction{Kind: KindFunCall, Pattern: pattern, Name: name, Inputs: inputs}
}

func NewIfChange(name string, newExpr Expr, then []FlowInstruction) FlowInstruction {
	return FlowInstruction{Kind: KindIfChange, Name: name, Expr: &newExpr, Then: then}
}

func NewIfThrottle(name, src string, delta float64, then []FlowInstruction) FlowInstruction {
	return FlowInstruction{Kind: KindIfThrottle, Name: name, Src: src, Delta: delta, Then: then}
}

func NewExpr(e Expr) FlowInstruction {
	return FlowInstruction{Kind: KindExpr, Leaf: &e}
}

// ArrivingFlowKind tags which variant of ArrivingFlow a value holds.
type ArrivingFlowKind string

const (
	ArrivingChannel        ArrivingFlowKind = "channel"
	ArrivingPeriod         ArrivingFlowKind = "period"
	ArrivingDeadline       ArrivingFlowKind = "deadline"
	ArrivingServiceDelay   ArrivingFlowKind = "service_delay"
	ArrivingServiceTimeout ArrivingFlowKind = "service_timeout"
)

// ArrivingFlow identifies the event that triggers a FlowHandler.
type ArrivingFlow struct {
	Kind ArrivingFlowKind `json:"kind"`
	Name string           `json:"name"`

	// Channel only.
	Type string `json:"type,omitempty"`
	Path string `json:"path,omitempty"`
}

func Channel(name, typ, path string) ArrivingFlow {
	return ArrivingFlow{Kind: ArrivingChannel, Name: name, Type: typ, Path: path}
}
func Period(name string) ArrivingFlow        { return ArrivingFlow{Kind: ArrivingPeriod, Name: name} }
func Deadline(name string) ArrivingFlow      { return ArrivingFlow{Kind: ArrivingDeadline, Name: name} }
func ServiceDelay(name string) ArrivingFlow  { return ArrivingFlow{Kind: ArrivingServiceDelay, Name: name} }
func ServiceTimeout(name string) ArrivingFlow {
	return ArrivingFlow{Kind: ArrivingServiceTimeout, Name: name}
}

// FlowHandler pairs one arriving flow with the instruction tree it runs.
type FlowHandler struct {
	ArrivingFlow ArrivingFlow    `json:"arriving_flow"`
	Instruction  FlowInstruction `json:"instruction"`
}

// FlowContext is the persistent, per-service store of context-resident
// flow values, keyed by flow name for the JSON surface.
type FlowContext struct {
	Resident map[string]struct{} `json:"resident"`
}

func NewFlowContext() *FlowContext {
	return &FlowContext{Resident: make(map[string]struct{})}
}

// Persist registers name as context-resident, idempotently.
func (fc *FlowContext) Persist(name string) {
	fc.Resident[name] = struct{}{}
}

// IsResident reports whether name's value must survive between arrivals.
func (fc *FlowContext) IsResident(name string) bool {
	_, ok := fc.Resident[name]
	return ok
}

// ServiceHandler is the compiled output for one service.
type ServiceHandler struct {
	Service          string        `json:"service"`
	ComponentsCalled []string      `json:"components_called"`
	FlowHandlers     []FlowHandler `json:"flow_handlers"`
	FlowsContext     *FlowContext  `json:"flows_context"`
}
