// Package symtab implements the compiler's scoped symbol table: typed
// symbol kinds, nested-scope name resolution, write-once type/path fields,
// and Levenshtein-based "did you mean" hints.
package symtab

import (
	"fmt"
	"sort"

	"github.com/duragraph/duragraph/internal/pkg/errors"
)

// SymbolID uniquely and permanently identifies a symbol; ids are
// monotonically increasing and never reused.
type SymbolID int

// FlowKind distinguishes event flows (instantaneous) from signal flows
// (continuously defined, last-value-sampled).
type FlowKind int

const (
	FlowEvent FlowKind = iota
	FlowSignal
)

// TimerKind tags a Flow symbol synthesized for timing purposes.
type TimerKind int

const (
	TimerNone TimerKind = iota
	TimerPeriod
	TimerDeadline
	TimerServiceTimeout
	TimerServiceDelay
)

// IdentScope is where an Identifier symbol lives.
type IdentScope int

const (
	ScopeLocal IdentScope = iota
	ScopeOutput
)

// Kind tags which variant of SymbolKind a Symbol carries.
type Kind int

const (
	KindIdentifier Kind = iota
	KindInit
	KindFlow
	KindFunction
	KindNode
	KindService
	KindStructure
	KindEnumeration
	KindEnumerationElement
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindIdentifier:
		return "identifier"
	case KindInit:
		return "init"
	case KindFlow:
		return "flow"
	case KindFunction:
		return "function"
	case KindNode:
		return "node"
	case KindService:
		return "service"
	case KindStructure:
		return "structure"
	case KindEnumeration:
		return "enumeration"
	case KindEnumerationElement:
		return "enum element"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Loc is a lightweight source location, just enough to attach a
// "declared here" note to error messages; full span tracking
// belongs to the out-of-scope parser.
type Loc struct {
	Line, Col int
}

// Symbol is one entry of the symbol table. Only the fields relevant to
// Kind are meaningful; a kind tag plus per-kind fields stands in for a
// closed sum type.
type Symbol struct {
	ID   SymbolID
	Name string
	Kind Kind
	Loc  Loc

	// Identifier / Init
	IdentScope IdentScope

	// Flow
	FlowKind  FlowKind
	Timer     TimerKind
	FlowPath  string // empty for local flows

	// Function
	FuncInputs    []SymbolID
	FuncOutputTyp Once[string]
	FuncPath      Once[string]
	WeightHint    *int // optional weight-percent hint biasing branch-method selection

	// Node
	NodeInputs  []SymbolID
	NodeOutputs map[string]SymbolID
	NodeLocals  map[string]SymbolID
	NodeInits   map[string]SymbolID
	NodePath    Once[string]

	// Structure
	Fields []SymbolID

	// Enumeration
	Elements []SymbolID

	// EnumerationElement
	EnumName string

	// Array
	ArraySize int
	ArrayTyp  Once[string]

	// shared, write-once
	Typing   Once[string]
	Constant *string // constant-expr, if this identifier is a compile-time constant
}

// key is what redefinition/lookup is keyed on within a scope: a symbol's
// kind plus its name, except enum elements which are keyed by enum+name
// under the same name.
type key struct {
	kind     Kind
	enumName string
	name     string
}

func keyOf(kind Kind, name, enumName string) key {
	if kind == KindEnumerationElement {
		return key{kind: kind, enumName: enumName, name: name}
	}
	return key{kind: kind, name: name}
}

// Table is the symbol table: an append-only list of Symbols plus a stack
// of scopes mapping keys to SymbolIDs.
type Table struct {
	symbols []Symbol
	scopes  []map[key]SymbolID
	names   map[string][]SymbolID // name -> ids, across all scopes, for fuzzy lookup
}

// New returns a Table with a single (global) scope.
func New() *Table {
	return &Table{
		scopes: []map[key]SymbolID{make(map[key]SymbolID)},
		names:  make(map[string][]SymbolID),
	}
}

// Local pushes a new, nested scope.
func (t *Table) Local() {
	t.scopes = append(t.scopes, make(map[key]SymbolID))
}

// Global pops the innermost scope. Panics if called on the outermost scope
// since that would leave the table without any scope at all — a caller
// bug, not a user error.
func (t *Table) Global() {
	if len(t.scopes) == 1 {
		panic("symtab: cannot pop the global scope")
	}
	t.scopes = t.scopes[:len(t.scopes)-1]
}

func (t *Table) insert(kind Kind, name string, enumName string, fill func(*Symbol)) (SymbolID, *errors.DomainError) {
	k := keyOf(kind, name, enumName)
	top := t.scopes[len(t.scopes)-1]
	if _, ok := top[k]; ok {
		return 0, errors.Redefinition(kind.String(), name)
	}

	id := SymbolID(len(t.symbols))
	sym := Symbol{ID: id, Name: name, Kind: kind, EnumName: enumName}
	if fill != nil {
		fill(&sym)
	}
	t.symbols = append(t.symbols, sym)
	top[k] = id
	t.names[name] = append(t.names[name], id)
	return id, nil
}

// InsertIdentifier inserts an Identifier symbol into the current scope.
func (t *Table) InsertIdentifier(name string, scope IdentScope, collector *errors.Collector) (SymbolID, error) {
	id, err := t.insert(KindIdentifier, name, "", func(s *Symbol) { s.IdentScope = scope })
	if collector != nil {
		collector.Add(err)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertInit inserts an Init symbol into the current scope.
func (t *Table) InsertInit(name string, scope IdentScope, collector *errors.Collector) (SymbolID, error) {
	id, err := t.insert(KindInit, name, "", func(s *Symbol) { s.IdentScope = scope })
	if collector != nil {
		collector.Add(err)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertFlow inserts a Flow symbol into the current scope.
func (t *Table) InsertFlow(name string, fk FlowKind, timer TimerKind, path string, collector *errors.Collector) (SymbolID, error) {
	id, err := t.insert(KindFlow, name, "", func(s *Symbol) {
		s.FlowKind = fk
		s.Timer = timer
		s.FlowPath = path
	})
	if collector != nil {
		collector.Add(err)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertFunction inserts a Function symbol into the current scope.
func (t *Table) InsertFunction(name string, inputs []SymbolID, collector *errors.Collector) (SymbolID, error) {
	id, err := t.insert(KindFunction, name, "", func(s *Symbol) { s.FuncInputs = inputs })
	if collector != nil {
		collector.Add(err)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertNode inserts a Node symbol into the current scope.
func (t *Table) InsertNode(name string, inputs []SymbolID, outputs map[string]SymbolID, collector *errors.Collector) (SymbolID, error) {
	id, err := t.insert(KindNode, name, "", func(s *Symbol) {
		s.NodeInputs = inputs
		s.NodeOutputs = outputs
	})
	if collector != nil {
		collector.Add(err)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertService inserts a Service symbol into the current scope.
func (t *Table) InsertService(name string, collector *errors.Collector) (SymbolID, error) {
	id, err := t.insert(KindService, name, "", nil)
	if collector != nil {
		collector.Add(err)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertStructure inserts a Structure symbol into the current scope.
func (t *Table) InsertStructure(name string, fields []SymbolID, collector *errors.Collector) (SymbolID, error) {
	id, err := t.insert(KindStructure, name, "", func(s *Symbol) { s.Fields = fields })
	if collector != nil {
		collector.Add(err)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertEnumeration inserts an Enumeration symbol into the current scope.
func (t *Table) InsertEnumeration(name string, elements []SymbolID, collector *errors.Collector) (SymbolID, error) {
	id, err := t.insert(KindEnumeration, name, "", func(s *Symbol) { s.Elements = elements })
	if collector != nil {
		collector.Add(err)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertEnumerationElement inserts an EnumerationElement, keyed by the
// enclosing enum's name plus this element's name.
func (t *Table) InsertEnumerationElement(enumName, name string, collector *errors.Collector) (SymbolID, error) {
	id, err := t.insert(KindEnumerationElement, name, enumName, nil)
	if collector != nil {
		collector.Add(err)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertArray inserts an Array symbol into the current scope.
func (t *Table) InsertArray(name string, size int, collector *errors.Collector) (SymbolID, error) {
	id, err := t.insert(KindArray, name, "", func(s *Symbol) { s.ArraySize = size })
	if collector != nil {
		collector.Add(err)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the symbol for id. Panics if id is out of range: ids are
// only ever produced by this table, so an invalid id is a caller bug.
func (t *Table) Get(id SymbolID) *Symbol {
	return &t.symbols[id]
}

// lookup walks the scope stack outward from the top, unless localOnly.
func (t *Table) lookup(kind Kind, name, enumName string, localOnly bool) (SymbolID, bool) {
	k := keyOf(kind, name, enumName)
	if localOnly {
		if id, ok := t.scopes[len(t.scopes)-1][k]; ok {
			return id, true
		}
		return 0, false
	}
	for i := len(t.scopes) - 1; i >= 0; i-- {
		if id, ok := t.scopes[i][k]; ok {
			return id, true
		}
	}
	return 0, false
}

// GetIdentifierID resolves an Identifier by name.
func (t *Table) GetIdentifierID(name string, localOnly bool) (SymbolID, bool) {
	return t.lookup(KindIdentifier, name, "", localOnly)
}

// GetFlowID resolves a Flow by name.
func (t *Table) GetFlowID(name string, localOnly bool) (SymbolID, bool) {
	return t.lookup(KindFlow, name, "", localOnly)
}

// GetNodeID resolves a Node by name.
func (t *Table) GetNodeID(name string, localOnly bool) (SymbolID, bool) {
	return t.lookup(KindNode, name, "", localOnly)
}

// GetFunctionID resolves a Function by name.
func (t *Table) GetFunctionID(name string, localOnly bool) (SymbolID, bool) {
	return t.lookup(KindFunction, name, "", localOnly)
}

// GetEnumerationID resolves an Enumeration by name.
func (t *Table) GetEnumerationID(name string, localOnly bool) (SymbolID, bool) {
	return t.lookup(KindEnumeration, name, "", localOnly)
}

// GetTypeID resolves a Structure, Enumeration, or Array type by name.
func (t *Table) GetTypeID(name string, localOnly bool) (SymbolID, bool) {
	for _, k := range [...]Kind{KindStructure, KindEnumeration, KindArray} {
		if id, ok := t.lookup(k, name, "", localOnly); ok {
			return id, true
		}
	}
	return 0, false
}

// GetEnumerationElementID resolves an element of enumName.
func (t *Table) GetEnumerationElementID(enumName, name string, localOnly bool) (SymbolID, bool) {
	return t.lookup(KindEnumerationElement, name, enumName, localOnly)
}

// PutBackInContext re-registers an existing symbol's key into the current
// (possibly different) scope, so it becomes resolvable there too.
func (t *Table) PutBackInContext(id SymbolID) {
	sym := t.Get(id)
	k := keyOf(sym.Kind, sym.Name, sym.EnumName)
	t.scopes[len(t.scopes)-1][k] = id
}

// SetType sets a symbol's type, write-once (panics on a second call).
func (t *Table) SetType(id SymbolID, typ string) {
	t.Get(id).Typing.Set(typ)
}

// SetPath sets a Function or Node symbol's call path, write-once.
func (t *Table) SetPath(id SymbolID, path string) {
	sym := t.Get(id)
	switch sym.Kind {
	case KindFunction:
		sym.FuncPath.Set(path)
	case KindNode:
		sym.NodePath.Set(path)
	default:
		panic(fmt.Sprintf("symtab: SetPath called on a %s symbol", sym.Kind))
	}
}

// SetOutputType sets a Function symbol's output type, write-once.
func (t *Table) SetOutputType(id SymbolID, typ string) {
	t.Get(id).FuncOutputTyp.Set(typ)
}

// SetConstant attaches a compile-time constant expression to a symbol.
func (t *Table) SetConstant(id SymbolID, expr string) {
	t.Get(id).Constant = &expr
}

// GetConstant resolves name to its constant expression. Resolving a known
// symbol that carries no constant is an error distinct from an unknown
// name.
func (t *Table) GetConstant(name string, localOnly bool) (string, *errors.DomainError) {
	id, ok := t.GetIdentifierID(name, localOnly)
	if !ok {
		hint, _ := t.FuzzyLookup(name)
		return "", errors.UnknownSymbol("identifier", name, hint)
	}
	sym := t.Get(id)
	if sym.Constant == nil {
		return "", errors.ExpectedConstant(name)
	}
	return *sym.Constant, nil
}

// FuzzyLookup returns the nearest known name within Levenshtein distance 2
// of name, for "unknown identifier, did you mean X?" hints. Candidates are
// scanned in sorted order so equally-near names always yield the same
// hint.
func (t *Table) FuzzyLookup(name string) (string, bool) {
	candidates := make([]string, 0, len(t.names))
	for candidate := range t.names {
		if candidate != name {
			candidates = append(candidates, candidate)
		}
	}
	sort.Strings(candidates)

	best := ""
	bestDist := 3 // strictly greater than the ≤2 threshold
	for _, candidate := range candidates {
		d := levenshtein(name, candidate)
		if d <= 2 && d < bestDist {
			bestDist = d
			best = candidate
		}
	}
	return best, best != ""
}
