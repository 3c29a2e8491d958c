package repository

import (
	"context"
	"sync"

	"line-relay/internal/domain"
)

// historyPath is the record address shared by the remote backends.
func historyPath(sessionKey string) string {
	return "chat/" + sessionKey
}

// MemoryStore keeps histories in process memory. Contents are lost on
// restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]domain.History
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]domain.History)}
}

func (m *MemoryStore) Get(_ context.Context, sessionKey string) (domain.History, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.data[sessionKey]
	if !ok {
		return nil, false, nil
	}
	return cloneHistory(h), true, nil
}

func (m *MemoryStore) Put(_ context.Context, sessionKey string, history domain.History) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sessionKey] = cloneHistory(history)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, sessionKey)
	return nil
}

// Len returns the number of sessions held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func cloneHistory(h domain.History) domain.History {
	out := make(domain.History, len(h))
	copy(out, h)
	return out
}
