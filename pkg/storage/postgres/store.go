// Package postgres implements the storage contracts over PostgreSQL.
//
// The conditional scope commit is a single conditional statement, so the
// version check and the write are atomic without explicit transactions.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ambit-dev/ambit/pkg/engine"
	"github.com/ambit-dev/ambit/pkg/observability/audit"
	"github.com/ambit-dev/ambit/pkg/storage"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Store provides a PostgreSQL-backed store implementing the storage contracts.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ storage.Store = (*Store)(nil)
	_ audit.Store   = (*Store)(nil)
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    snapshot JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS scopes (
    scope_key TEXT PRIMARY KEY,
    current_version BIGINT NOT NULL,
    updated_ids JSONB NOT NULL DEFAULT '[]',
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_events (
    id BIGSERIAL PRIMARY KEY,
    timestamp TIMESTAMPTZ NOT NULL,
    event_name TEXT NOT NULL,
    severity TEXT NOT NULL,
    scope_key TEXT,
    command_id TEXT,
    correlation_id TEXT,
    trace_id TEXT,
    span_id TEXT,
    outcome TEXT,
    attributes_json JSONB
);
`

// Open connects to PostgreSQL using the provided DSN and ensures the schema
// exists before the store is handed to higher layers.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, schemaDDL); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// NewStore wraps an existing database handle. Schema management stays with
// the caller; tests use this with stub connections.
func NewStore(sqlDB *sql.DB) *Store {
	return &Store{sqlDB: sqlDB}
}

// Close closes the underlying database handle. Close is nil-safe.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutEntity stores an entity snapshot, replacing any existing one.
func (s *Store) PutEntity(ctx context.Context, rec storage.EntityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("entity id is required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO entities (id, snapshot, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
`, rec.ID, rec.Snapshot, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put entity: %w", err)
	}
	return nil
}

// GetEntity retrieves an entity snapshot by id.
func (s *Store) GetEntity(ctx context.Context, entityID string) (storage.EntityRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.EntityRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EntityRecord{}, fmt.Errorf("storage is not configured")
	}

	var rec storage.EntityRecord
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, snapshot, updated_at FROM entities WHERE id = $1", entityID,
	).Scan(&rec.ID, &rec.Snapshot, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.EntityRecord{}, storage.ErrEntityNotFound
		}
		return storage.EntityRecord{}, fmt.Errorf("get entity: %w", err)
	}
	return rec, nil
}

// DeleteEntity removes an entity snapshot.
func (s *Store) DeleteEntity(ctx context.Context, entityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	res, err := s.sqlDB.ExecContext(ctx, "DELETE FROM entities WHERE id = $1", entityID)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	if affected == 0 {
		return storage.ErrEntityNotFound
	}
	return nil
}

// ListEntities returns up to limit records ordered by id.
func (s *Store) ListEntities(ctx context.Context, limit int) ([]storage.EntityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT id, snapshot, updated_at FROM entities ORDER BY id LIMIT $1", queryLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var records []storage.EntityRecord
	for rows.Next() {
		var rec storage.EntityRecord
		if err := rows.Scan(&rec.ID, &rec.Snapshot, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read entities: %w", err)
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
	if s == nil || s.sqlDB == nil {
		return engine.Scope{}, fmt.Errorf("storage is not configured")
	}

	var version int64
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT current_version FROM scopes WHERE scope_key = $1", scopeKey,
	).Scan(&version)
	if err != nil {
		if err == sql.ErrNoRows {
			return engine.Scope{}, storage.ErrScopeNotFound
		}
		return engine.Scope{}, fmt.Errorf("get scope: %w", err)
	}
	return engine.Scope{CurrentVersion: version}, nil
}

// CommitScope advances the scope version when expectedVersion still matches,
// creating the row at version one for first writes.
func (s *Store) CommitScope(ctx context.Context, scopeKey string, updatedIDs []string, expectedVersion int64) (engine.Commit, error) {
	if err := ctx.Err(); err != nil {
		return engine.Commit{}, err
	}
	if s == nil || s.sqlDB == nil {
		return engine.Commit{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(scopeKey) == "" {
		return engine.Commit{}, fmt.Errorf("scope key is required")
	}

	if updatedIDs == nil {
		updatedIDs = []string{}
	}
	idsJSON, err := json.Marshal(updatedIDs)
	if err != nil {
		return engine.Commit{}, fmt.Errorf("marshal updated ids: %w", err)
	}

	next := expectedVersion + 1
	now := time.Now().UTC()
	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO scopes (scope_key, current_version, updated_ids, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (scope_key) DO NOTHING
`, scopeKey, next, idsJSON, now)
	} else {
		res, err = s.sqlDB.ExecContext(ctx, `
UPDATE scopes SET current_version = $1, updated_ids = $2, updated_at = $3
WHERE scope_key = $4 AND current_version = $5
`, next, idsJSON, now, scopeKey, expectedVersion)
	}
	if err != nil {
		return engine.Commit{}, fmt.Errorf("write scope version: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return engine.Commit{}, fmt.Errorf("write scope version: %w", err)
	}
	if affected == 0 {
		// Another writer holds the row at a different version.
		var current int64
		err := s.sqlDB.QueryRowContext(ctx,
			"SELECT current_version FROM scopes WHERE scope_key = $1", scopeKey,
		).Scan(&current)
		if err != nil && err != sql.ErrNoRows {
			return engine.Commit{}, fmt.Errorf("reread scope version: %w", err)
		}
		return engine.Commit{Conflict: true, CurrentVersion: current}, nil
	}
	return engine.Commit{NewVersion: next}, nil
}

// ListScopes returns up to limit records ordered by key.
func (s *Store) ListScopes(ctx context.Context, limit int) ([]storage.ScopeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT scope_key, current_version, updated_ids, updated_at FROM scopes ORDER BY scope_key LIMIT $1",
		queryLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var records []storage.ScopeRecord
	for rows.Next() {
		var rec storage.ScopeRecord
		var idsJSON []byte
		if err := rows.Scan(&rec.Key, &rec.CurrentVersion, &idsJSON, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		if err := json.Unmarshal(idsJSON, &rec.UpdatedIDs); err != nil {
			return nil, fmt.Errorf("decode updated ids for %s: %w", rec.Key, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read scopes: %w", err)
	}
	return records, nil
}

// AppendAuditEvent records an operational audit event.
func (s *Store) AppendAuditEvent(ctx context.Context, evt audit.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(evt.EventName) == "" {
		return fmt.Errorf("event name is required")
	}
	if strings.TrimSpace(evt.Severity) == "" {
		return fmt.Errorf("severity is required")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	var attributesJSON []byte
	if len(evt.Attributes) > 0 {
		payload, err := json.Marshal(evt.Attributes)
		if err != nil {
			return fmt.Errorf("marshal audit attributes: %w", err)
		}
		attributesJSON = payload
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO audit_events (timestamp, event_name, severity, scope_key, command_id, correlation_id, trace_id, span_id, outcome, attributes_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`,
		evt.Timestamp,
		evt.EventName,
		evt.Severity,
		toNullString(evt.ScopeKey),
		toNullString(evt.CommandID),
		toNullString(evt.CorrelationID),
		toNullString(evt.TraceID),
		toNullString(evt.SpanID),
		toNullString(evt.Outcome),
		attributesJSON,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns up to limit audit events in append order.
func (s *Store) ListAuditEvents(ctx context.Context, limit int) ([]audit.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT timestamp, event_name, severity, scope_key, command_id, correlation_id, trace_id, span_id, outcome, attributes_json
FROM audit_events ORDER BY id LIMIT $1
`, queryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var evt audit.Event
		var scopeKey, commandID, correlationID, traceID, spanID, outcome sql.NullString
		var attributesJSON []byte
		if err := rows.Scan(&evt.Timestamp, &evt.EventName, &evt.Severity,
			&scopeKey, &commandID, &correlationID, &traceID, &spanID, &outcome,
			&attributesJSON); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		evt.ScopeKey = scopeKey.String
		evt.CommandID = commandID.String
		evt.CorrelationID = correlationID.String
		evt.TraceID = traceID.String
		evt.SpanID = spanID.String
		evt.Outcome = outcome.String
		if len(attributesJSON) > 0 {
			if err := json.Unmarshal(attributesJSON, &evt.Attributes); err != nil {
				return nil, fmt.Errorf("decode audit attributes: %w", err)
			}
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read audit events: %w", err)
	}
	return events, nil
}

func toNullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

// queryLimit maps the catalog's "zero or negative means all" limit to the
// LIMIT clause, where NULL disables the limit in PostgreSQL.
func queryLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
