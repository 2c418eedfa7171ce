package storage

import (
	"context"
	"time"

	"github.com/ambit-dev/ambit/pkg/engine"
	apperrors "github.com/ambit-dev/ambit/pkg/errors"
)

// ErrEntityNotFound indicates a requested entity snapshot is missing.
// The engine folds these into an ENTITIES_NOT_FOUND rejection instead of
// treating them as infrastructure failures.
var ErrEntityNotFound = apperrors.New(apperrors.CodeEntityNotFound, "entity snapshot not found")

// ErrScopeNotFound indicates no version row exists for a scope key yet.
// First writes against a scope expect version zero and create the row.
var ErrScopeNotFound = apperrors.New(apperrors.CodeScopeNotFound, "scope not found")

// EntityRecord captures one persisted entity snapshot.
//
// Snapshot is an opaque JSON document. Deciders own its shape; stores never
// inspect it.
type EntityRecord struct {
	ID        string
	Snapshot  []byte
	UpdatedAt time.Time
}

// ScopeRecord captures the version row for one consistency boundary.
type ScopeRecord struct {
	Key            string
	CurrentVersion int64
	// UpdatedIDs lists the entity ids written by the latest commit.
	UpdatedIDs []string
	UpdatedAt  time.Time
}

// EntityStore owns entity snapshots and adapts them to the engine's loader
// contract.
type EntityStore interface {
	PutEntity(ctx context.Context, rec EntityRecord) error
	GetEntity(ctx context.Context, entityID string) (EntityRecord, error)
	DeleteEntity(ctx context.Context, entityID string) error
	// ListEntities returns up to limit records ordered by id.
	ListEntities(ctx context.Context, limit int) ([]EntityRecord, error)
	engine.EntityLoader
}

// ScopeStore owns scope version rows and the conditional commit that
// enforces optimistic concurrency.
type ScopeStore interface {
	engine.ScopeOperations
	// ListScopes returns up to limit records ordered by key.
	ListScopes(ctx context.Context, limit int) ([]ScopeRecord, error)
}

// Store aggregates the persistence surfaces a host wires into the engine.
type Store interface {
	EntityStore
	ScopeStore
}
