package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ambit-dev/ambit/pkg/engine"
	"github.com/ambit-dev/ambit/pkg/storage"
)

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
		"SELECT current_version FROM scopes WHERE scope_key = ?", scopeKey,
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
//
// The comparison and write run in one transaction, so concurrent commits
// against the same scope serialize on the version row.
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

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return engine.Commit{}, fmt.Errorf("begin commit transaction: %w", err)
	}

	var current int64
	err = tx.QueryRowContext(ctx,
		"SELECT current_version FROM scopes WHERE scope_key = ?", scopeKey,
	).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		_ = tx.Rollback()
		return engine.Commit{}, fmt.Errorf("read scope version: %w", err)
	}

	if current != expectedVersion {
		_ = tx.Rollback()
		return engine.Commit{Conflict: true, CurrentVersion: current}, nil
	}

	next := expectedVersion + 1
	now := toMillis(time.Now())
	var res sql.Result
	if expectedVersion == 0 {
		res, err = tx.ExecContext(ctx, `
INSERT OR IGNORE INTO scopes (scope_key, current_version, updated_ids, updated_at)
VALUES (?, ?, ?, ?)
`, scopeKey, next, string(idsJSON), now)
	} else {
		res, err = tx.ExecContext(ctx, `
UPDATE scopes SET current_version = ?, updated_ids = ?, updated_at = ?
WHERE scope_key = ? AND current_version = ?
`, next, string(idsJSON), now, scopeKey, expectedVersion)
	}
	if err != nil {
		_ = tx.Rollback()
		return engine.Commit{}, fmt.Errorf("write scope version: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return engine.Commit{}, fmt.Errorf("write scope version: %w", err)
	}
	if affected == 0 {
		// Another writer advanced the version between the read and the write.
		var latest int64
		if err := tx.QueryRowContext(ctx,
			"SELECT current_version FROM scopes WHERE scope_key = ?", scopeKey,
		).Scan(&latest); err != nil && err != sql.ErrNoRows {
			_ = tx.Rollback()
			return engine.Commit{}, fmt.Errorf("reread scope version: %w", err)
		}
		_ = tx.Rollback()
		return engine.Commit{Conflict: true, CurrentVersion: latest}, nil
	}

	if err := tx.Commit(); err != nil {
		return engine.Commit{}, fmt.Errorf("commit scope version: %w", err)
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
		"SELECT scope_key, current_version, updated_ids, updated_at FROM scopes ORDER BY scope_key LIMIT ?",
		queryLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var records []storage.ScopeRecord
	for rows.Next() {
		var rec storage.ScopeRecord
		var idsJSON string
		var updatedAt int64
		if err := rows.Scan(&rec.Key, &rec.CurrentVersion, &idsJSON, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		if err := json.Unmarshal([]byte(idsJSON), &rec.UpdatedIDs); err != nil {
			return nil, fmt.Errorf("decode updated ids for %s: %w", rec.Key, err)
		}
		rec.UpdatedAt = fromMillis(updatedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read scopes: %w", err)
	}
	return records, nil
}
