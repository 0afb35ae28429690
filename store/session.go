package store

import (
	"context"
	"sync"

	"klaus/types"
)

// SessionStorer keeps one bounded conversation per session key. Concurrent
// Puts for the same key are last-writer-wins.
type SessionStorer interface {
	Get(ctx context.Context, key string) ([]types.ChatMessage, error)
	Put(ctx context.Context, key string, history []types.ChatMessage) error
}

// MemorySessionStore is the in-process store. State is lost on restart.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string][]types.ChatMessage
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string][]types.ChatMessage)}
}

func (m *MemorySessionStore) Get(_ context.Context, key string) ([]types.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.sessions[key]
	out := make([]types.ChatMessage, len(h))
	copy(out, h)
	return out, nil
}

func (m *MemorySessionStore) Put(_ context.Context, key string, history []types.ChatMessage) error {
	history = types.TrimHistory(history, types.HistoryLimit)
	stored := make([]types.ChatMessage, len(history))
	copy(stored, history)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key] = stored
	return nil
}
