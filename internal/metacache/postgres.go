package metacache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore persists cache entries in Postgres (or CockroachDB).
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds connection pool settings for the cache store.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default pool settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens a connection with the given DSN and ensures the
// schema.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithDB wraps an existing connection without ensuring the
// schema. Used by tests and by callers that share one pool across stores.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sobject_lists (
			connection_id TEXT PRIMARY KEY,
			expires_at TIMESTAMPTZ NOT NULL,
			entry JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sobject_metadata (
			cache_key TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			entry JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metadata_connection ON sobject_metadata(connection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_metadata_expires ON sobject_metadata(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_lists_expires ON sobject_lists(expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetList(ctx context.Context, connectionID string) (*ListEntry, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT entry FROM sobject_lists WHERE connection_id = $1`, connectionID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get list entry: %w", err)
	}
	var entry ListEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode list entry: %w", err)
	}
	return &entry, nil
}

func (s *PostgresStore) PutList(ctx context.Context, entry *ListEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode list entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sobject_lists (connection_id, expires_at, entry) VALUES ($1, $2, $3)
		 ON CONFLICT (connection_id) DO UPDATE SET expires_at = EXCLUDED.expires_at, entry = EXCLUDED.entry`,
		entry.ConnectionID, entry.ExpiresAt, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to put list entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMetadata(ctx context.Context, cacheKey string) (*MetadataEntry, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT entry FROM sobject_metadata WHERE cache_key = $1`, cacheKey,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata entry: %w", err)
	}
	var entry MetadataEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode metadata entry: %w", err)
	}
	return &entry, nil
}

func (s *PostgresStore) PutMetadata(ctx context.Context, entry *MetadataEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode metadata entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sobject_metadata (cache_key, connection_id, expires_at, entry) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cache_key) DO UPDATE SET expires_at = EXCLUDED.expires_at, entry = EXCLUDED.entry`,
		entry.CacheKey, entry.ConnectionID, entry.ExpiresAt, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to put metadata entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteConnection(ctx context.Context, connectionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sobject_lists WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("failed to delete list entry: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sobject_metadata WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("failed to delete metadata entries: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sobject_lists WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sweep list entries: %w", err)
	}
	lists, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM sobject_metadata WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sweep metadata entries: %w", err)
	}
	metadata, _ := res.RowsAffected()

	return int(lists), int(metadata), nil
}
