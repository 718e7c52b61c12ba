package pending

import (
	"context"
	"strings"
	"sync"
)

// MemorySet is a process-local pending-set. It is forgotten on restart,
// a fresh request for the same hash then simply verifies again.
type MemorySet struct {
	mu    sync.Mutex
	items map[string]struct{}
}

func NewMemorySet() *MemorySet {
	return &MemorySet{items: make(map[string]struct{})}
}

func key(txHash string) string {
	return strings.ToLower(strings.TrimSpace(txHash))
}

// TryAcquire marks txHash as in flight. It returns false if it already was.
func (s *MemorySet) TryAcquire(_ context.Context, txHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(txHash)
	if _, ok := s.items[k]; ok {
		return false, nil
	}
	s.items[k] = struct{}{}
	return true, nil
}

func (s *MemorySet) Release(_ context.Context, txHash string) error {
	s.mu.Lock()
	delete(s.items, key(txHash))
	s.mu.Unlock()
	return nil
}

func (s *MemorySet) Contains(txHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key(txHash)]
	return ok
}

func (s *MemorySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
