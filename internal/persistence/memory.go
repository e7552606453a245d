package persistence

import (
	"context"
	"sync"
)

// MemoryStore keeps envelopes in process. It is used by tests and when no
// durable storage is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Envelope
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Envelope)}
}

func (s *MemoryStore) Load(ctx context.Context, key string) (*Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	env.State = env.State.Clone()
	if err := check(key, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *MemoryStore) Save(ctx context.Context, key string, env Envelope) error {
	env.State = env.State.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = env
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Len returns the number of stored flows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *MemoryStore) Close() error { return nil }
