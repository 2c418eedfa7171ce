package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ambit-dev/ambit/pkg/observability/audit"
	"github.com/ambit-dev/ambit/pkg/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "store.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.sqlite")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := first.PutEntity(context.Background(), storage.EntityRecord{ID: "product_1", Snapshot: []byte(`{}`)}); err != nil {
		t.Fatalf("put entity: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer second.Close()

	if _, err := second.GetEntity(context.Background(), "product_1"); err != nil {
		t.Fatalf("expected entity to survive reopen: %v", err)
	}
}

func TestEntityPutGetDelete(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

	rec := storage.EntityRecord{ID: "product_1", Snapshot: []byte(`{"stock":5}`), UpdatedAt: now}
	if err := store.PutEntity(context.Background(), rec); err != nil {
		t.Fatalf("put entity: %v", err)
	}

	got, err := store.GetEntity(context.Background(), "product_1")
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if string(got.Snapshot) != `{"stock":5}` {
		t.Fatalf("snapshot = %s", got.Snapshot)
	}
	if !got.UpdatedAt.Equal(now) {
		t.Fatalf("updated at = %v, want %v", got.UpdatedAt, now)
	}

	// Second put replaces the snapshot.
	rec.Snapshot = []byte(`{"stock":4}`)
	if err := store.PutEntity(context.Background(), rec); err != nil {
		t.Fatalf("put entity: %v", err)
	}
	got, err = store.GetEntity(context.Background(), "product_1")
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if string(got.Snapshot) != `{"stock":4}` {
		t.Fatalf("snapshot = %s", got.Snapshot)
	}

	if err := store.DeleteEntity(context.Background(), "product_1"); err != nil {
		t.Fatalf("delete entity: %v", err)
	}
	if _, err := store.GetEntity(context.Background(), "product_1"); !errors.Is(err, storage.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
	if err := store.DeleteEntity(context.Background(), "product_1"); !errors.Is(err, storage.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestListEntitiesOrderedWithLimit(t *testing.T) {
	store := openTestStore(t)
	for _, id := range []string{"c", "a", "b"} {
		if err := store.PutEntity(context.Background(), storage.EntityRecord{ID: id, Snapshot: []byte(`{}`)}); err != nil {
			t.Fatalf("put entity %s: %v", id, err)
		}
	}

	records, err := store.ListEntities(context.Background(), 2)
	if err != nil {
		t.Fatalf("list entities: %v", err)
	}
	if len(records) != 2 || records[0].ID != "a" || records[1].ID != "b" {
		t.Fatalf("unexpected records %+v", records)
	}

	all, err := store.ListEntities(context.Background(), 0)
	if err != nil {
		t.Fatalf("list entities: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
}

func TestLoadEntityReturnsRawJSON(t *testing.T) {
	store := openTestStore(t)
	if err := store.PutEntity(context.Background(), storage.EntityRecord{ID: "product_1", Snapshot: []byte(`{"stock":3}`)}); err != nil {
		t.Fatalf("put entity: %v", err)
	}

	snapshot, err := store.LoadEntity(context.Background(), "product_1")
	if err != nil {
		t.Fatalf("load entity: %v", err)
	}
	raw, ok := snapshot.(json.RawMessage)
	if !ok {
		t.Fatalf("expected json.RawMessage, got %T", snapshot)
	}
	if string(raw) != `{"stock":3}` {
		t.Fatalf("snapshot = %s", raw)
	}

	if _, err := store.LoadEntity(context.Background(), "ghost"); !errors.Is(err, storage.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestCommitScopeCompareAndSet(t *testing.T) {
	store := openTestStore(t)
	key := "tenant:t1:reservation:res_123"

	if _, err := store.GetScope(context.Background(), key); !errors.Is(err, storage.ErrScopeNotFound) {
		t.Fatalf("expected ErrScopeNotFound, got %v", err)
	}

	commit, err := store.CommitScope(context.Background(), key, []string{"product_1", "product_2"}, 0)
	if err != nil {
		t.Fatalf("commit scope: %v", err)
	}
	if commit.Conflict || commit.NewVersion != 1 {
		t.Fatalf("expected first commit at version 1, got %+v", commit)
	}

	stale, err := store.CommitScope(context.Background(), key, nil, 0)
	if err != nil {
		t.Fatalf("commit scope: %v", err)
	}
	if !stale.Conflict || stale.CurrentVersion != 1 {
		t.Fatalf("expected conflict at version 1, got %+v", stale)
	}

	next, err := store.CommitScope(context.Background(), key, []string{"product_2"}, 1)
	if err != nil {
		t.Fatalf("commit scope: %v", err)
	}
	if next.Conflict || next.NewVersion != 2 {
		t.Fatalf("expected second commit at version 2, got %+v", next)
	}

	current, err := store.GetScope(context.Background(), key)
	if err != nil {
		t.Fatalf("get scope: %v", err)
	}
	if current.CurrentVersion != 2 {
		t.Fatalf("current version = %d, want 2", current.CurrentVersion)
	}

	scopes, err := store.ListScopes(context.Background(), 0)
	if err != nil {
		t.Fatalf("list scopes: %v", err)
	}
	if len(scopes) != 1 || scopes[0].Key != key || scopes[0].CurrentVersion != 2 {
		t.Fatalf("unexpected scopes %+v", scopes)
	}
	if len(scopes[0].UpdatedIDs) != 1 || scopes[0].UpdatedIDs[0] != "product_2" {
		t.Fatalf("expected latest commit ids, got %v", scopes[0].UpdatedIDs)
	}
}

func TestCommitScopeStaleExpectedVersionOnExistingRow(t *testing.T) {
	store := openTestStore(t)
	key := "tenant:t1:order:ord_1"

	if _, err := store.CommitScope(context.Background(), key, nil, 0); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	// Expecting a version ahead of the stored row conflicts without writing.
	commit, err := store.CommitScope(context.Background(), key, nil, 5)
	if err != nil {
		t.Fatalf("commit scope: %v", err)
	}
	if !commit.Conflict || commit.CurrentVersion != 1 {
		t.Fatalf("expected conflict at version 1, got %+v", commit)
	}
}

func TestAppendAuditEventRoundTrip(t *testing.T) {
	store := openTestStore(t)

	if err := store.AppendAuditEvent(context.Background(), audit.Event{Severity: "INFO"}); err == nil {
		t.Fatal("expected error for missing event name")
	}
	if err := store.AppendAuditEvent(context.Background(), audit.Event{EventName: "test"}); err == nil {
		t.Fatal("expected error for missing severity")
	}

	when := time.Date(2026, 2, 2, 11, 0, 0, 0, time.UTC)
	evt := audit.Event{
		Timestamp:     when,
		EventName:     "engine.command.executed",
		Severity:      "INFO",
		ScopeKey:      "tenant:t1:reservation:res_123",
		CommandID:     "cmd-1",
		CorrelationID: "corr-1",
		Outcome:       "success",
		Attributes:    map[string]any{"updates": 2.0},
	}
	if err := store.AppendAuditEvent(context.Background(), evt); err != nil {
		t.Fatalf("append audit event: %v", err)
	}

	events, err := store.ListAuditEvents(context.Background(), 0)
	if err != nil {
		t.Fatalf("list audit events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if !got.Timestamp.Equal(when) {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, when)
	}
	if got.EventName != evt.EventName || got.Severity != evt.Severity {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.ScopeKey != evt.ScopeKey || got.CommandID != evt.CommandID || got.CorrelationID != evt.CorrelationID {
		t.Fatalf("unexpected identifiers %+v", got)
	}
	if got.TraceID != "" || got.SpanID != "" {
		t.Fatalf("expected empty trace fields, got %+v", got)
	}
	if got.Outcome != "success" {
		t.Fatalf("outcome = %s", got.Outcome)
	}
	if got.Attributes["updates"] != 2.0 {
		t.Fatalf("attributes = %v", got.Attributes)
	}
}
