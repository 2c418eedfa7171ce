package decision

import "time"

// State is the aggregated entity state handed to a decider, keyed by entity
// identifier. It is built fresh per invocation and contains only entities
// that exist.
type State map[string]any

// Entity returns the snapshot for an identifier and whether it was loaded.
func (s State) Entity(id string) (any, bool) {
	snapshot, ok := s[id]
	return snapshot, ok
}

// Context carries the per-invocation inputs a pure decider needs. It is
// passed explicitly into every decision and never read from ambient state,
// which keeps deciders replayable.
type Context struct {
	// Now is the decision timestamp supplied by the engine clock.
	Now time.Time
	// CommandID identifies the command instance being decided.
	CommandID string
	// CorrelationID links this decision to the triggering workflow.
	CorrelationID string
}

// Decider is the sole business-logic hook of the execution engine. It must be
// side-effect-free: same state, command, and context always produce the same
// output.
type Decider func(state State, command any, dctx Context) Output
