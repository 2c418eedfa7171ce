package decision

// Event represents a domain event emitted by a decider.
//
// Deciders fill Type and PayloadJSON; the remaining fields are stamped
// uniformly by the execution engine so tagging never leaks into decider
// logic. Persistence and transport format belong to the host event store.
type Event struct {
	// Type identifies the kind of event.
	Type string
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
	// SchemaVersion is the payload schema version. Assigned by the engine.
	SchemaVersion int
	// Category groups events for downstream routing. Assigned by the engine.
	Category string
	// BoundedContext names the owning context. Assigned by the engine.
	BoundedContext string
	// StreamType names the stream family. Assigned by the engine.
	StreamType string
}

// Update is one per-entity state change chosen by a decider.
type Update struct {
	// EntityID is the identifier the change applies to. It must name an
	// entity that was loaded into the decision's aggregated state.
	EntityID string
	// Change is the opaque partial update handed to the host's apply
	// callback. The engine never inspects it.
	Change any
}

// Updates is the ordered list of state changes from one decision. The engine
// applies updates strictly in this order and never reorders or batches them.
// Entity ids must be unique within one decision.
type Updates []Update

// UpdateEntity builds a single-entry update list entry.
func UpdateEntity(entityID string, change any) Update {
	return Update{EntityID: entityID, Change: change}
}

// EntityIDs returns the updated identifiers in application order.
func (u Updates) EntityIDs() []string {
	if len(u) == 0 {
		return nil
	}
	ids := make([]string, 0, len(u))
	for _, update := range u {
		ids = append(ids, update.EntityID)
	}
	return ids
}
