package metacache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	lists    map[string]*ListEntry
	metadata map[string]*MetadataEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists:    make(map[string]*ListEntry),
		metadata: make(map[string]*MetadataEntry),
	}
}

func (s *MemoryStore) GetList(_ context.Context, connectionID string) (*ListEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.lists[connectionID]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (s *MemoryStore) PutList(_ context.Context, entry *ListEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.lists[entry.ConnectionID] = &cp
	return nil
}

func (s *MemoryStore) GetMetadata(_ context.Context, cacheKey string) (*MetadataEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.metadata[cacheKey]
	if !ok {
		return nil, nil
	}
	cp := *entry
	cp.Metadata = *entry.Metadata.Clone()
	return &cp, nil
}

func (s *MemoryStore) PutMetadata(_ context.Context, entry *MetadataEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	cp.Metadata = *entry.Metadata.Clone()
	s.metadata[entry.CacheKey] = &cp
	return nil
}

func (s *MemoryStore) DeleteConnection(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, connectionID)
	for key, entry := range s.metadata {
		if entry.ConnectionID == connectionID {
			delete(s.metadata, key)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lists := 0
	for id, entry := range s.lists {
		if !now.Before(entry.ExpiresAt) {
			delete(s.lists, id)
			lists++
		}
	}
	metadata := 0
	for key, entry := range s.metadata {
		if !now.Before(entry.ExpiresAt) {
			delete(s.metadata, key)
			metadata++
		}
	}
	return lists, metadata, nil
}
