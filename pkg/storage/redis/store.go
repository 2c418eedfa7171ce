// Package redis implements the storage contracts over Redis.
//
// Entity snapshots live under a configurable key prefix with a sorted-set
// index for ordered listings. The conditional scope commit runs as a Lua
// script, so the version comparison and the write execute atomically on
// the server.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/ambit-dev/ambit/pkg/engine"
	"github.com/ambit-dev/ambit/pkg/observability/audit"
	"github.com/ambit-dev/ambit/pkg/storage"
)

// Store implements the storage contracts using Redis.
type Store struct {
	client *backend.Client
	prefix string
}

var (
	_ storage.Store = (*Store)(nil)
	_ audit.Store   = (*Store)(nil)
)

type Option func(*Store)

// WithPrefix sets the key prefix for all records.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis store connected to address.
func New(address, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "ambit:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) entityKey(entityID string) string {
	return s.prefix + "entity:" + entityID
}

func (s *Store) entityIndexKey() string {
	return s.prefix + "entities"
}

func (s *Store) scopeHashKey(scopeKey string) string {
	return s.prefix + "scope:" + scopeKey
}

func (s *Store) scopeIndexKey() string {
	return s.prefix + "scopes"
}

func (s *Store) auditKey() string {
	return s.prefix + "audit"
}

type entityEnvelope struct {
	Snapshot  json.RawMessage `json:"snapshot"`
	UpdatedAt int64           `json:"updated_at"`
}

// PutEntity stores an entity snapshot, replacing any existing one.
func (s *Store) PutEntity(ctx context.Context, rec storage.EntityRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("entity id is required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entityEnvelope{
		Snapshot:  json.RawMessage(rec.Snapshot),
		UpdatedAt: rec.UpdatedAt.UTC().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.entityKey(rec.ID), data, 0)
	pipe.ZAdd(ctx, s.entityIndexKey(), backend.Z{Score: 0, Member: rec.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put entity: %w", err)
	}
	return nil
}

// GetEntity retrieves an entity snapshot by id.
func (s *Store) GetEntity(ctx context.Context, entityID string) (storage.EntityRecord, error) {
	val, err := s.client.Get(ctx, s.entityKey(entityID)).Result()
	if err != nil {
		if err == backend.Nil {
			return storage.EntityRecord{}, storage.ErrEntityNotFound
		}
		return storage.EntityRecord{}, fmt.Errorf("get entity: %w", err)
	}

	var envelope entityEnvelope
	if err := json.Unmarshal([]byte(val), &envelope); err != nil {
		return storage.EntityRecord{}, fmt.Errorf("unmarshal entity: %w", err)
	}
	return storage.EntityRecord{
		ID:        entityID,
		Snapshot:  []byte(envelope.Snapshot),
		UpdatedAt: time.UnixMilli(envelope.UpdatedAt).UTC(),
	}, nil
}

// DeleteEntity removes an entity snapshot.
func (s *Store) DeleteEntity(ctx context.Context, entityID string) error {
	deleted, err := s.client.Del(ctx, s.entityKey(entityID)).Result()
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	if deleted == 0 {
		return storage.ErrEntityNotFound
	}
	if err := s.client.ZRem(ctx, s.entityIndexKey(), entityID).Err(); err != nil {
		return fmt.Errorf("delete entity index: %w", err)
	}
	return nil
}

// ListEntities returns up to limit records ordered by id.
func (s *Store) ListEntities(ctx context.Context, limit int) ([]storage.EntityRecord, error) {
	// Members share score zero, so the index yields lexicographic order.
	ids, err := s.client.ZRange(ctx, s.entityIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	records := make([]storage.EntityRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetEntity(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrEntityNotFound) {
				continue
			}
			return nil, err
		}
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
	val, err := s.client.HGet(ctx, s.scopeHashKey(scopeKey), "version").Result()
	if err != nil {
		if err == backend.Nil {
			return engine.Scope{}, storage.ErrScopeNotFound
		}
		return engine.Scope{}, fmt.Errorf("get scope: %w", err)
	}
	version, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return engine.Scope{}, fmt.Errorf("parse scope version %q: %w", val, err)
	}
	return engine.Scope{CurrentVersion: version}, nil
}

// commitScript compares the stored version with the expected one and
// advances it in the same server-side step.
const commitScript = `
local current = tonumber(redis.call("HGET", KEYS[1], "version") or "0")
local expected = tonumber(ARGV[1])
if current ~= expected then
	return {0, current}
end
local next = expected + 1
redis.call("HSET", KEYS[1], "version", next, "updated_ids", ARGV[2], "updated_at", ARGV[3])
redis.call("ZADD", KEYS[2], 0, ARGV[4])
return {1, next}
`

// CommitScope advances the scope version when expectedVersion still matches,
// creating the record at version one for first writes.
func (s *Store) CommitScope(ctx context.Context, scopeKey string, updatedIDs []string, expectedVersion int64) (engine.Commit, error) {
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

	result, err := s.client.Eval(ctx, commitScript,
		[]string{s.scopeHashKey(scopeKey), s.scopeIndexKey()},
		expectedVersion,
		string(idsJSON),
		time.Now().UTC().UnixMilli(),
		scopeKey,
	).Result()
	if err != nil {
		return engine.Commit{}, fmt.Errorf("commit scope: %w", err)
	}

	reply, ok := result.([]any)
	if !ok || len(reply) != 2 {
		return engine.Commit{}, fmt.Errorf("unexpected commit reply %v", result)
	}
	ok64, okCast := reply[0].(int64)
	version, versionCast := reply[1].(int64)
	if !okCast || !versionCast {
		return engine.Commit{}, fmt.Errorf("unexpected commit reply %v", result)
	}

	if ok64 == 0 {
		return engine.Commit{Conflict: true, CurrentVersion: version}, nil
	}
	return engine.Commit{NewVersion: version}, nil
}

// ListScopes returns up to limit records ordered by key.
func (s *Store) ListScopes(ctx context.Context, limit int) ([]storage.ScopeRecord, error) {
	keys, err := s.client.ZRange(ctx, s.scopeIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	records := make([]storage.ScopeRecord, 0, len(keys))
	for _, key := range keys {
		fields, err := s.client.HGetAll(ctx, s.scopeHashKey(key)).Result()
		if err != nil {
			return nil, fmt.Errorf("read scope %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}

		version, err := strconv.ParseInt(fields["version"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse scope version %q: %w", fields["version"], err)
		}
		updatedAt, err := strconv.ParseInt(fields["updated_at"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse scope timestamp %q: %w", fields["updated_at"], err)
		}
		rec := storage.ScopeRecord{
			Key:            key,
			CurrentVersion: version,
			UpdatedAt:      time.UnixMilli(updatedAt).UTC(),
		}
		if err := json.Unmarshal([]byte(fields["updated_ids"]), &rec.UpdatedIDs); err != nil {
			return nil, fmt.Errorf("decode updated ids for %s: %w", key, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// AppendAuditEvent records an operational audit event on an append-only list.
func (s *Store) AppendAuditEvent(ctx context.Context, evt audit.Event) error {
	if strings.TrimSpace(evt.EventName) == "" {
		return fmt.Errorf("event name is required")
	}
	if strings.TrimSpace(evt.Severity) == "" {
		return fmt.Errorf("severity is required")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := s.client.RPush(ctx, s.auditKey(), data).Err(); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns up to limit audit events in append order.
func (s *Store) ListAuditEvents(ctx context.Context, limit int) ([]audit.Event, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	values, err := s.client.LRange(ctx, s.auditKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	events := make([]audit.Event, 0, len(values))
	for _, val := range values {
		var evt audit.Event
		if err := json.Unmarshal([]byte(val), &evt); err != nil {
			return nil, fmt.Errorf("unmarshal audit event: %w", err)
		}
		events = append(events, evt)
	}
	return events, nil
}
