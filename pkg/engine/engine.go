package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ambit-dev/ambit/pkg/decision"
	apperrors "github.com/ambit-dev/ambit/pkg/errors"
	"github.com/ambit-dev/ambit/pkg/observability/metrics"
	"github.com/ambit-dev/ambit/pkg/scope"
)

var (
	// ErrDeciderRequired indicates a missing decider.
	ErrDeciderRequired = errors.New("decider is required")
	// ErrEntityLoaderRequired indicates a missing entity loader.
	ErrEntityLoaderRequired = errors.New("entity loader is required")
	// ErrApplyUpdateRequired indicates a missing update application callback.
	ErrApplyUpdateRequired = errors.New("apply update callback is required")
)

// Scope is the version record protecting one consistency boundary. It is
// absent until the first successful commit.
type Scope struct {
	// CurrentVersion is the committed version counter, starting at 1.
	CurrentVersion int64
}

// Commit reports the outcome of a scope version commit.
type Commit struct {
	// Conflict reports that the stored version no longer matched the
	// expected version.
	Conflict bool
	// NewVersion is the scope version after a successful commit.
	NewVersion int64
	// CurrentVersion is the stored version observed on conflict.
	CurrentVersion int64
}

// ScopeOperations reads and commits scope version counters. A nil
// ScopeOperations on a request disables optimistic concurrency entirely.
type ScopeOperations interface {
	// GetScope returns the scope for a key. Absence is reported with an
	// error carrying the SCOPE_NOT_FOUND code.
	GetScope(ctx context.Context, scopeKey string) (Scope, error)
	// CommitScope advances the scope version from expectedVersion by one,
	// recording which entities the decision updated.
	CommitScope(ctx context.Context, scopeKey string, updatedIDs []string, expectedVersion int64) (Commit, error)
}

// EntityLoader resolves one entity snapshot per participating identifier.
type EntityLoader interface {
	// LoadEntity returns the snapshot for an identifier. Absence is
	// reported with an error carrying the ENTITY_NOT_FOUND code.
	LoadEntity(ctx context.Context, entityID string) (any, error)
}

// EntitySet names the entities participating in one decision.
type EntitySet struct {
	// IDs are the participating entity identifiers. Duplicates load once.
	IDs []string
	// Loader resolves snapshots. Required when IDs is non-empty.
	Loader EntityLoader
}

// ApplyFunc applies one entity update chosen by the decider. It is called
// once per mutated identifier, in decision order, on the success path only.
type ApplyFunc func(ctx context.Context, entityID string, update any) error

// Request carries everything one execution needs. Collaborators are injected
// per call; the engine holds no configuration of its own beyond the clock.
type Request struct {
	// ScopeKey names the consistency boundary for this decision.
	ScopeKey string
	// ExpectedVersion is the optimistic baseline. Zero means the scope
	// must not yet exist.
	ExpectedVersion int64
	// BoundedContext names the owning context stamped onto emitted events.
	BoundedContext string
	// StreamType names the stream family stamped onto emitted events.
	StreamType string
	// SchemaVersion is the payload schema version stamped onto emitted events.
	SchemaVersion int
	// EventCategory groups emitted events for downstream routing.
	EventCategory string
	// Scopes reads and commits the scope version. Nil disables the
	// optimistic checks.
	Scopes ScopeOperations
	// Entities names the participating entities and how to load them.
	Entities EntitySet
	// Decider is the business-logic hook invoked over the loaded state.
	Decider decision.Decider
	// Command is the opaque command handed to the decider.
	Command any
	// ApplyUpdate applies one entity change. Required when the decider
	// returns updates.
	ApplyUpdate ApplyFunc
	// CommandID identifies the command instance, passed to the decider.
	CommandID string
	// CorrelationID links the decision to the triggering workflow.
	CorrelationID string
}

// Executor runs decisions across a dynamic consistency boundary. The zero
// value is usable; Now defaults to the wall clock and Metrics to no
// recording.
type Executor struct {
	// Now supplies the decision timestamp.
	Now func() time.Time
	// Metrics records execution telemetry when set.
	Metrics metrics.Recorder
}

// Execute runs one decision to a terminal Result. The error return is
// reserved for wiring faults (missing collaborators, loader or storage
// failures, decider contract violations); every business outcome, including
// conflicts, arrives as a Result.
func (e Executor) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	result, err := e.execute(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if e.Metrics != nil {
		scopeType := scope.ExtractScopeType(req.ScopeKey)
		e.Metrics.RecordExecution(scopeType, string(result.Status), time.Since(start))
		if result.Status == StatusRejected {
			e.Metrics.RecordRejection(scopeType, result.Code)
		}
	}
	return result, nil
}

func (e Executor) execute(ctx context.Context, req Request) (Result, error) {
	if req.Decider == nil {
		return Result{}, ErrDeciderRequired
	}
	if req.ExpectedVersion < 0 {
		return Result{}, fmt.Errorf("expected version must be non-negative, got %d", req.ExpectedVersion)
	}

	if verr := scope.Validate(req.ScopeKey); verr != nil {
		return rejectedResult(string(verr.Code), verr.Message), nil
	}
	scopeType := scope.ExtractScopeType(req.ScopeKey)

	// Pre-check bounds the stale-snapshot window; the commit re-verifies.
	if req.Scopes != nil {
		current, err := req.Scopes.GetScope(ctx, req.ScopeKey)
		switch {
		case err != nil && apperrors.GetCode(err) == apperrors.CodeScopeNotFound:
			if req.ExpectedVersion > 0 {
				e.recordConflict(scopeType, metrics.ConflictStagePreCheck)
				return conflictResult(0), nil
			}
		case err != nil:
			return Result{}, fmt.Errorf("get scope %s: %w", req.ScopeKey, err)
		case current.CurrentVersion != req.ExpectedVersion:
			e.recordConflict(scopeType, metrics.ConflictStagePreCheck)
			return conflictResult(current.CurrentVersion), nil
		}
	}

	ids, err := participantIDs(req.Entities.IDs)
	if err != nil {
		return Result{}, err
	}
	state := make(decision.State, len(ids))
	var missing []string
	if len(ids) > 0 {
		if req.Entities.Loader == nil {
			return Result{}, ErrEntityLoaderRequired
		}
		for _, id := range ids {
			snapshot, err := req.Entities.Loader.LoadEntity(ctx, id)
			if err != nil {
				if apperrors.GetCode(err) == apperrors.CodeEntityNotFound {
					missing = append(missing, id)
					continue
				}
				return Result{}, fmt.Errorf("load entity %s: %w", id, err)
			}
			state[id] = snapshot
		}
	}
	e.recordEntityLoads(scopeType, len(state), len(missing))
	if len(missing) > 0 {
		// All-or-nothing: the decider never observes partial state.
		return rejectedResult(
			string(apperrors.CodeEntitiesNotFound),
			"entities not found: "+strings.Join(missing, ", "),
		), nil
	}

	now := e.Now
	if now == nil {
		now = time.Now
	}
	out := req.Decider(state, req.Command, decision.Context{
		Now:           now().UTC(),
		CommandID:     req.CommandID,
		CorrelationID: req.CorrelationID,
	})
	if err := out.Validate(); err != nil {
		return Result{}, fmt.Errorf("decider output: %w", err)
	}

	switch out.Outcome {
	case decision.OutcomeRejected:
		return rejectedResult(out.Code, out.Reason), nil
	case decision.OutcomeFailed:
		return Result{
			Status: StatusFailed,
			Reason: out.Reason,
			Events: tagEvents(req, out.Events),
		}, nil
	}

	for _, update := range out.Updates {
		if _, loaded := state[update.EntityID]; !loaded {
			return Result{}, fmt.Errorf("update targets unloaded entity %s", update.EntityID)
		}
	}
	if len(out.Updates) > 0 && req.ApplyUpdate == nil {
		return Result{}, ErrApplyUpdateRequired
	}
	for _, update := range out.Updates {
		if err := req.ApplyUpdate(ctx, update.EntityID, update.Change); err != nil {
			return Result{}, fmt.Errorf("apply update %s: %w", update.EntityID, err)
		}
	}
	e.recordUpdatesApplied(scopeType, len(out.Updates))

	updatedIDs := out.Updates.EntityIDs()
	events := tagEvents(req, out.Events)

	if req.Scopes == nil {
		return Result{
			Status:     StatusSuccess,
			Data:       out.Data,
			Events:     events,
			UpdatedIDs: updatedIDs,
		}, nil
	}

	commit, err := req.Scopes.CommitScope(ctx, req.ScopeKey, updatedIDs, req.ExpectedVersion)
	if err != nil {
		return Result{}, fmt.Errorf("commit scope %s: %w", req.ScopeKey, err)
	}
	if commit.Conflict {
		// Applied updates stay in place; the host's transactional
		// envelope owns atomicity across apply and commit.
		e.recordConflict(scopeType, metrics.ConflictStageCommit)
		return conflictResult(commit.CurrentVersion), nil
	}
	return Result{
		Status:       StatusSuccess,
		Data:         out.Data,
		Events:       events,
		ScopeVersion: commit.NewVersion,
		UpdatedIDs:   updatedIDs,
	}, nil
}

func (e Executor) recordConflict(scopeType, stage string) {
	if e.Metrics != nil {
		e.Metrics.RecordConflict(scopeType, stage)
	}
}

func (e Executor) recordEntityLoads(scopeType string, loaded, missing int) {
	if e.Metrics != nil && loaded+missing > 0 {
		e.Metrics.RecordEntityLoads(scopeType, loaded, missing)
	}
}

func (e Executor) recordUpdatesApplied(scopeType string, count int) {
	if e.Metrics != nil && count > 0 {
		e.Metrics.RecordUpdatesApplied(scopeType, count)
	}
}

// tagEvents stamps the per-call stream coordinates onto every emitted event
// so tagging stays uniform and outside decider logic.
func tagEvents(req Request, events []decision.Event) []decision.Event {
	if len(events) == 0 {
		return nil
	}
	tagged := make([]decision.Event, len(events))
	for i, evt := range events {
		evt.SchemaVersion = req.SchemaVersion
		evt.Category = req.EventCategory
		evt.BoundedContext = req.BoundedContext
		evt.StreamType = req.StreamType
		tagged[i] = evt
	}
	return tagged
}

// participantIDs validates and deduplicates the requested entity ids while
// preserving first-occurrence order, so each identifier loads once.
func participantIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, errors.New("entity id must not be empty")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
