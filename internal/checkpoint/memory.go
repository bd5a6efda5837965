package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/relaypoint/crmagent/internal/agent"
)

// MemoryStore is an in-process Store, used by tests and the CLI when no
// database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*agent.WorkflowState
	log    map[string][]LogEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*agent.WorkflowState),
		log:    make(map[string][]LogEntry),
	}
}

// Load returns a copy of the stored state, or nil when absent.
func (s *MemoryStore) Load(_ context.Context, conversationID string) (*agent.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[conversationID]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

// Save stores the state with turn-scoped fields cleared.
func (s *MemoryStore) Save(_ context.Context, conversationID string, state *agent.WorkflowState) error {
	saved := prepareForSave(state)
	s.mu.Lock()
	s.states[conversationID] = saved
	s.mu.Unlock()
	return nil
}

// WritesLog appends an event to the conversation's debug log.
func (s *MemoryStore) WritesLog(_ context.Context, conversationID string, event *agent.Event) error {
	s.mu.Lock()
	s.log[conversationID] = append(s.log[conversationID], LogEntry{
		ConversationID: conversationID,
		Event:          event,
		CreatedAt:      time.Now(),
	})
	s.mu.Unlock()
	return nil
}

// Log returns the recorded events for a conversation.
func (s *MemoryStore) Log(conversationID string) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]LogEntry, len(s.log[conversationID]))
	copy(entries, s.log[conversationID])
	return entries
}
