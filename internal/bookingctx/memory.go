package bookingctx

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used in tests and single-node
// development runs.
type MemoryStore struct {
	mu       sync.Mutex
	contexts map[string]BookingContext
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contexts: make(map[string]BookingContext)}
}

func (s *MemoryStore) Save(_ context.Context, sessionKey string, bc BookingContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[sessionKey] = bc
}

func (s *MemoryStore) Get(_ context.Context, sessionKey string) (BookingContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bc, ok := s.contexts[sessionKey]
	return bc, ok
}

func (s *MemoryStore) Clear(_ context.Context, sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, sessionKey)
}
