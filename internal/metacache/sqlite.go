package metacache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore persists cache entries in SQLite. Entries serialize as JSON so
// the schema survives describe shape changes without migrations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sobject_lists (
			connection_id TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL,
			entry TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sobject_metadata (
			cache_key TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			entry TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metadata_connection ON sobject_metadata(connection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_metadata_expires ON sobject_metadata(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_lists_expires ON sobject_lists(expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetList(ctx context.Context, connectionID string) (*ListEntry, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT entry FROM sobject_lists WHERE connection_id = ?`, connectionID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get list entry: %w", err)
	}
	var entry ListEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode list entry: %w", err)
	}
	return &entry, nil
}

func (s *SQLiteStore) PutList(ctx context.Context, entry *ListEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode list entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sobject_lists (connection_id, expires_at, entry) VALUES (?, ?, ?)
		 ON CONFLICT(connection_id) DO UPDATE SET expires_at = excluded.expires_at, entry = excluded.entry`,
		entry.ConnectionID, entry.ExpiresAt.UnixMilli(), string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to put list entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMetadata(ctx context.Context, cacheKey string) (*MetadataEntry, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT entry FROM sobject_metadata WHERE cache_key = ?`, cacheKey,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata entry: %w", err)
	}
	var entry MetadataEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode metadata entry: %w", err)
	}
	return &entry, nil
}

func (s *SQLiteStore) PutMetadata(ctx context.Context, entry *MetadataEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode metadata entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sobject_metadata (cache_key, connection_id, expires_at, entry) VALUES (?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET expires_at = excluded.expires_at, entry = excluded.entry`,
		entry.CacheKey, entry.ConnectionID, entry.ExpiresAt.UnixMilli(), string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to put metadata entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteConnection(ctx context.Context, connectionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sobject_lists WHERE connection_id = ?`, connectionID); err != nil {
		return fmt.Errorf("failed to delete list entry: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sobject_metadata WHERE connection_id = ?`, connectionID); err != nil {
		return fmt.Errorf("failed to delete metadata entries: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, int, error) {
	cutoff := now.UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sobject_lists WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sweep list entries: %w", err)
	}
	lists, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM sobject_metadata WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sweep metadata entries: %w", err)
	}
	metadata, _ := res.RowsAffected()

	return int(lists), int(metadata), nil
}
