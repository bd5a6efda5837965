// Package checkpoint persists per-conversation workflow state between turns.
// The checkpoint is the only durable record of a conversation: messages and
// client results are turn-scoped and are cleared before every save, so the
// stored state carries inter-turn memory exclusively in the conversation
// summary.
package checkpoint

import (
	"context"
	"time"

	"github.com/relaypoint/crmagent/internal/agent"
)

// Store is the durable map from conversation id to latest workflow state.
// Absence is reported as (nil, nil). Save must be atomic per conversation id:
// a concurrent Load observes the previous or the new state, never a mix.
type Store interface {
	Load(ctx context.Context, conversationID string) (*agent.WorkflowState, error)
	Save(ctx context.Context, conversationID string, state *agent.WorkflowState) error
}

// WritesLogger optionally records an append-only event log per conversation,
// used for debugging. Not required for correctness.
type WritesLogger interface {
	WritesLog(ctx context.Context, conversationID string, event *agent.Event) error
}

// LogEntry is one row of the writes log.
type LogEntry struct {
	ConversationID string       `json:"conversation_id"`
	Event          *agent.Event `json:"event"`
	CreatedAt      time.Time    `json:"created_at"`
}

// prepareForSave clones the state and strips turn-scoped fields. History
// lives in conversation.summary only.
func prepareForSave(state *agent.WorkflowState) *agent.WorkflowState {
	saved := state.Clone()
	saved.Messages = nil
	saved.ClientResults = nil
	return saved
}
