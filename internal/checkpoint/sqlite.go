package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relaypoint/crmagent/internal/agent"
)

// SQLiteStore is a file-backed Store for single-process deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the checkpoint database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			conversation_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS writes_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			event TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_writes_log_conversation
			ON writes_log(conversation_id);
	`)
	if err != nil {
		return fmt.Errorf("init checkpoint schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, conversationID string) (*agent.WorkflowState, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE conversation_id = ?`, conversationID,
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

func (s *SQLiteStore) Save(ctx context.Context, conversationID string, state *agent.WorkflowState) error {
	raw, err := json.Marshal(prepareForSave(state))
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (conversation_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, conversationID, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WritesLog(ctx context.Context, conversationID string, event *agent.Event) error {
	raw, err := encodeEvent(event)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO writes_log (conversation_id, event, created_at)
		VALUES (?, ?, ?)
	`, conversationID, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("append writes log: %w", err)
	}
	return nil
}

// encodeEvent renders an event as a JSON row. The error field flattens to its
// message.
func encodeEvent(event *agent.Event) (json.RawMessage, error) {
	row := map[string]any{"kind": event.Kind}
	if event.ToolCallID != "" {
		row["tool_call_id"] = event.ToolCallID
	}
	if event.ToolName != "" {
		row["tool_name"] = event.ToolName
		row["tool_ok"] = event.ToolOK
	}
	if event.Text != "" {
		row["text"] = event.Text
	}
	if event.Err != nil {
		row["error"] = event.Err.Error()
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return raw, nil
}
