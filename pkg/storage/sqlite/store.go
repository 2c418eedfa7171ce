package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ambit-dev/ambit/internal/platform/storage/sqlitemigrate"
	"github.com/ambit-dev/ambit/pkg/observability/audit"
	"github.com/ambit-dev/ambit/pkg/storage"
	"github.com/ambit-dev/ambit/pkg/storage/sqlite/migrations"

	_ "modernc.org/sqlite"
)

// Store provides a SQLite-backed store implementing the storage contracts.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ storage.Store = (*Store)(nil)
	_ audit.Store   = (*Store)(nil)
)

// Open opens a SQLite store at the provided path and applies embedded
// migrations before the store is handed to higher layers.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.EngineFS, "engine"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying SQLite database.
//
// Close is intentionally nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// toNullString maps optional fields to sql.NullString for nullable columns.
func toNullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

// queryLimit maps the catalog's "zero or negative means all" limit to the
// SQLite LIMIT clause, where a negative value disables the limit.
func queryLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
