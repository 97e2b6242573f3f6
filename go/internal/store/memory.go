package store

import (
	"context"
	"sync"

	"github.com/mcdev12/watchsync/go/internal/playback"
)

// MemoryStore is a map-backed SessionStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]playback.Persisted
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]playback.Persisted)}
}

func (s *MemoryStore) Save(_ context.Context, sessionID string, p playback.Persisted) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = p
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Load(_ context.Context, sessionID string) (playback.Persisted, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.sessions[sessionID]
	if !ok {
		return playback.Persisted{}, ErrNotFound
	}
	return p, nil
}
