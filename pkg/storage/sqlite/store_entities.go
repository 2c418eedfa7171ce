package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ambit-dev/ambit/pkg/storage"
)

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
VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at
`, rec.ID, rec.Snapshot, toMillis(rec.UpdatedAt))
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
	var updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, snapshot, updated_at FROM entities WHERE id = ?", entityID,
	).Scan(&rec.ID, &rec.Snapshot, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.EntityRecord{}, storage.ErrEntityNotFound
		}
		return storage.EntityRecord{}, fmt.Errorf("get entity: %w", err)
	}
	rec.UpdatedAt = fromMillis(updatedAt)
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

	res, err := s.sqlDB.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", entityID)
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
		"SELECT id, snapshot, updated_at FROM entities ORDER BY id LIMIT ?", queryLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var records []storage.EntityRecord
	for rows.Next() {
		var rec storage.EntityRecord
		var updatedAt int64
		if err := rows.Scan(&rec.ID, &rec.Snapshot, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		rec.UpdatedAt = fromMillis(updatedAt)
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
