package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is a volatile Store storing checkpoints in a process local
// map. It is safe for concurrent access. Stored and returned states are
// cloned so callers never share memory with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

// NewMemoryStore constructs an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]Checkpoint)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, cp Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.ThreadID] = clone(cp)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, threadID string) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[threadID]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	return clone(cp), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, threadID)
	return nil
}

// Len returns the number of stored threads.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.checkpoints)
}

func clone(cp Checkpoint) Checkpoint {
	out := cp
	out.State = cp.State.Clone()
	if cp.Metadata != nil {
		out.Metadata = make(map[string]string, len(cp.Metadata))
		for k, v := range cp.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
