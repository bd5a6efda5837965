package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/relaypoint/crmagent/internal/agent"
)

// PostgresConfig holds connection pool settings for the checkpoint store.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DefaultPostgresConfig returns the default pool settings.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		PingTimeout:     10 * time.Second,
	}
}

// PostgresStore is a Postgres-backed Store for multi-process deployments.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, verifies, and initializes the schema.
func NewPostgresStore(dsn string, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	defaults := DefaultPostgresConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaults.MaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaults.PingTimeout
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping checkpoint db: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection, used by tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			conversation_id TEXT PRIMARY KEY,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS writes_log (
			id BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			event JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_writes_log_conversation
			ON writes_log(conversation_id);
		CREATE TABLE IF NOT EXISTS conversation_locks (
			conversation_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			acquired_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("init checkpoint schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB exposes the connection for the DB-backed locker.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Load(ctx context.Context, conversationID string) (*agent.WorkflowState, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE conversation_id = $1`, conversationID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var state agent.WorkflowState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &state, nil
}

func (s *PostgresStore) Save(ctx context.Context, conversationID string, state *agent.WorkflowState) error {
	raw, err := json.Marshal(prepareForSave(state))
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (conversation_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`, conversationID, raw, time.Now())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) WritesLog(ctx context.Context, conversationID string, event *agent.Event) error {
	raw, err := encodeEvent(event)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO writes_log (conversation_id, event, created_at)
		VALUES ($1, $2, $3)
	`, conversationID, raw, time.Now())
	if err != nil {
		return fmt.Errorf("append writes log: %w", err)
	}
	return nil
}
