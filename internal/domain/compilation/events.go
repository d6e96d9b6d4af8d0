// Package compilation holds the domain events the flow compiler publishes
// on internal/pkg/eventbus, one event type per state change of the
// compiled-service aggregate.
package compilation

import (
	"time"

	"github.com/duragraph/duragraph/internal/compiler/instr"
)

const (
	EventTypeServiceCompiled    = "compilation.service_compiled"
	EventTypeScheduleCycleFound = "compilation.schedule_cycle_found"
)

// ServiceCompiled fires once a service's ServiceHandler has been fully
// synthesized and is ready to persist/publish.
type ServiceCompiled struct {
	Service        string
	GraphID        string
	Version        string
	FlowHandlerCnt int
	CompiledAt     time.Time
}

func (e ServiceCompiled) EventType() string     { return EventTypeServiceCompiled }
func (e ServiceCompiled) AggregateID() string   { return e.Service }
func (e ServiceCompiled) AggregateType() string { return "compiled_service" }

// ScheduleCycleFound fires when the scheduler (internal/compiler/synced)
// rejects a service's statement graph as cyclic, so operators can see
// which service/graph failed without scraping logs.
type ScheduleCycleFound struct {
	Service string
	GraphID string
	Reason  string
	FoundAt time.Time
}

func (e ScheduleCycleFound) EventType() string     { return EventTypeScheduleCycleFound }
func (e ScheduleCycleFound) AggregateID() string   { return e.Service }
func (e ScheduleCycleFound) AggregateType() string { return "compiled_service" }

// CompiledAnnouncement is the wire payload shipped over NATS once a
// compiled plan is durably stored: enough for a worker to hot-reload the
// plan, and for plan caches to invalidate the right key.
type CompiledAnnouncement struct {
	GraphID string                `json:"graph_id"`
	Service string                `json:"service"`
	Version string                `json:"version"`
	Handler *instr.ServiceHandler `json:"handler"`
}
