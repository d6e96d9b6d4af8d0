// Package config holds the environment-driven knobs the flow-instruction
// builder consumes, loaded the same getEnv way as cmd/server/config.
package config

import "os"

// Propagation selects how component/function calls are guarded.
type Propagation string

const (
	// EventIsles calls a component/function unconditionally once its isle
	// (reachability subgraph) fires.
	EventIsles Propagation = "event_isles"
	// OnChange guards every call behind IfActivated on its inputs.
	OnChange Propagation = "on_change"
)

// Config holds the compiler's runtime-tunable knobs.
type Config struct {
	// Propagation chooses between EventIsles and OnChange call guarding.
	Propagation Propagation
	// Para, if false, linearizes scheduling via topological sort instead
	// of emitting Para blocks.
	Para bool
}

// Load reads Config from the environment, defaulting to EventIsles
// propagation and Para scheduling enabled.
func Load() *Config {
	return &Config{
		Propagation: getEnvPropagation("FLOWC_PROPAGATION", EventIsles),
		Para:        getEnvBool("FLOWC_PARA", true),
	}
}

func getEnvPropagation(key string, defaultValue Propagation) Propagation {
	switch os.Getenv(key) {
	case string(EventIsles):
		return EventIsles
	case string(OnChange):
		return OnChange
	default:
		return defaultValue
	}
}

func getEnvBool(key string, defaultValue bool) bool {
	switch os.Getenv(key) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
