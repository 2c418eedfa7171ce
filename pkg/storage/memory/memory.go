// Package memory provides an in-memory store for tests and single-process hosts.
//
// The store holds entity snapshots, scope version rows, and audit events
// behind one mutex, so commits observe the same compare-and-set semantics
// the durable backends provide.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ambit-dev/ambit/pkg/engine"
	"github.com/ambit-dev/ambit/pkg/observability/audit"
	"github.com/ambit-dev/ambit/pkg/storage"
)

// Store keeps all records in process memory.
type Store struct {
	mu       sync.Mutex
	entities map[string]storage.EntityRecord
	scopes   map[string]storage.ScopeRecord
	audits   []audit.Event
	clock    func() time.Time
}

var (
	_ storage.Store = (*Store)(nil)
	_ audit.Store   = (*Store)(nil)
)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		entities: make(map[string]storage.EntityRecord),
		scopes:   make(map[string]storage.ScopeRecord),
		clock:    time.Now,
	}
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

// PutEntity stores an entity snapshot, replacing any existing one.
func (s *Store) PutEntity(ctx context.Context, rec storage.EntityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	rec.Snapshot = append([]byte(nil), rec.Snapshot...)
	s.entities[rec.ID] = rec
	return nil
}

// GetEntity retrieves an entity snapshot by id.
func (s *Store) GetEntity(ctx context.Context, entityID string) (storage.EntityRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.EntityRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entities[entityID]
	if !ok {
		return storage.EntityRecord{}, storage.ErrEntityNotFound
	}
	rec.Snapshot = append([]byte(nil), rec.Snapshot...)
	return rec, nil
}

// DeleteEntity removes an entity snapshot.
func (s *Store) DeleteEntity(ctx context.Context, entityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[entityID]; !ok {
		return storage.ErrEntityNotFound
	}
	delete(s.entities, entityID)
	return nil
}

// ListEntities returns up to limit records ordered by id.
func (s *Store) ListEntities(ctx context.Context, limit int) ([]storage.EntityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	records := make([]storage.EntityRecord, 0, len(ids))
	for _, id := range ids {
		rec := s.entities[id]
		rec.Snapshot = append([]byte(nil), rec.Snapshot...)
		records = append(records, rec)
	}
	return records, nil
}

// LoadEntity implements the engine's loader contract over stored snapshots.
func (s *Store) LoadEntity(ctx context.Context, entityID string) (any, error) {
	rec, err := s.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(rec.Snapshot), nil
}

// GetScope retrieves the current version row for a scope key.
func (s *Store) GetScope(ctx context.Context, scopeKey string) (engine.Scope, error) {
	if err := ctx.Err(); err != nil {
		return engine.Scope{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.scopes[scopeKey]
	if !ok {
		return engine.Scope{}, storage.ErrScopeNotFound
	}
	return engine.Scope{CurrentVersion: rec.CurrentVersion}, nil
}

// CommitScope advances the scope version when expectedVersion still matches,
// creating the row at version one for first writes.
func (s *Store) CommitScope(ctx context.Context, scopeKey string, updatedIDs []string, expectedVersion int64) (engine.Commit, error) {
	if err := ctx.Err(); err != nil {
		return engine.Commit{}, err
	}
	if scopeKey == "" {
		return engine.Commit{}, fmt.Errorf("scope key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if rec, ok := s.scopes[scopeKey]; ok {
		current = rec.CurrentVersion
	}
	if current != expectedVersion {
		return engine.Commit{Conflict: true, CurrentVersion: current}, nil
	}

	next := expectedVersion + 1
	s.scopes[scopeKey] = storage.ScopeRecord{
		Key:            scopeKey,
		CurrentVersion: next,
		UpdatedIDs:     append([]string(nil), updatedIDs...),
		UpdatedAt:      s.now(),
	}
	return engine.Commit{NewVersion: next}, nil
}

// ListScopes returns up to limit records ordered by key.
func (s *Store) ListScopes(ctx context.Context, limit int) ([]storage.ScopeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.scopes))
	for key := range s.scopes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	records := make([]storage.ScopeRecord, 0, len(keys))
	for _, key := range keys {
		rec := s.scopes[key]
		rec.UpdatedIDs = append([]string(nil), rec.UpdatedIDs...)
		records = append(records, rec)
	}
	return records, nil
}

// AppendAuditEvent records an operational audit event.
func (s *Store) AppendAuditEvent(ctx context.Context, evt audit.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if evt.EventName == "" {
		return fmt.Errorf("event name is required")
	}
	if evt.Severity == "" {
		return fmt.Errorf("severity is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.now()
	}
	if evt.Attributes != nil {
		attrs := make(map[string]any, len(evt.Attributes))
		for k, v := range evt.Attributes {
			attrs[k] = v
		}
		evt.Attributes = attrs
	}
	s.audits = append(s.audits, evt)
	return nil
}

// ListAuditEvents returns up to limit audit events in append order.
func (s *Store) ListAuditEvents(ctx context.Context, limit int) ([]audit.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.audits
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return append([]audit.Event(nil), events...), nil
}
