package artifact

import (
	"context"
	"sync"
)

// InMemoryOptions bound the memory held by an InMemoryStore. Zero means unlimited.
type InMemoryOptions struct {
	MaxEntries int
	MaxBytes   int64
}

type blobKey struct{ threadID, id string }

// InMemoryStore is an in-process Store useful for tests and single-process
// deployments. Data is copied on save / retrieval to avoid accidental
// external mutation of internal buffers.
//
// Layout: threadID -> artifactID -> raw bytes
//
// The store is bounded: once MaxEntries or MaxBytes would be exceeded the
// oldest payloads are dropped first. A dropped payload later surfaces as
// ErrNotFound from read_full_result; the in-band preview is unaffected.
type InMemoryStore struct {
	mu        sync.RWMutex
	opts      InMemoryOptions
	artifacts map[string]map[string][]byte // threadID -> artifactID -> data
	order     []blobKey
	size      int64
}

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore(optFns ...func(o *InMemoryOptions)) *InMemoryStore {
	opts := InMemoryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &InMemoryStore{opts: opts, artifacts: make(map[string]map[string][]byte)}
}

// Save stores (or overwrites) the artifact bytes for the given thread and id.
// The input slice is copied before storage.
func (a *InMemoryStore) Save(ctx context.Context, threadID, artifactID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.artifacts[threadID]; !exists {
		a.artifacts[threadID] = make(map[string][]byte)
	}

	if old, exists := a.artifacts[threadID][artifactID]; exists {
		a.size -= int64(len(old))
		a.removeOrder(blobKey{threadID, artifactID})
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	a.artifacts[threadID][artifactID] = cp
	a.order = append(a.order, blobKey{threadID, artifactID})
	a.size += int64(len(cp))

	a.enforceLimits()

	return nil
}

// Get returns a copy of the stored artifact bytes or ErrNotFound.
func (a *InMemoryStore) Get(ctx context.Context, threadID, artifactID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.artifacts[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := m[artifactID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List returns the artifact ids stored for the thread. The slice is
// a snapshot and safe for caller mutation.
func (a *InMemoryStore) List(ctx context.Context, threadID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.artifacts[threadID]
	if !ok {
		return []string{}, nil
	}
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete removes the artifact if present or returns ErrNotFound.
func (a *InMemoryStore) Delete(ctx context.Context, threadID, artifactID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.artifacts[threadID]
	if !ok {
		return ErrNotFound
	}
	data, ok := m[artifactID]
	if !ok {
		return ErrNotFound
	}
	a.size -= int64(len(data))
	delete(m, artifactID)
	if len(m) == 0 {
		delete(a.artifacts, threadID)
	}
	a.removeOrder(blobKey{threadID, artifactID})
	return nil
}

// Size returns the number of stored payloads and their total byte size.
func (a *InMemoryStore) Size() (int, int64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order), a.size
}

// enforceLimits drops the oldest payloads. Caller holds the write lock.
func (a *InMemoryStore) enforceLimits() {
	for len(a.order) > 1 &&
		((a.opts.MaxEntries > 0 && len(a.order) > a.opts.MaxEntries) ||
			(a.opts.MaxBytes > 0 && a.size > a.opts.MaxBytes)) {
		oldest := a.order[0]
		a.order = a.order[1:]
		if m, ok := a.artifacts[oldest.threadID]; ok {
			a.size -= int64(len(m[oldest.id]))
			delete(m, oldest.id)
			if len(m) == 0 {
				delete(a.artifacts, oldest.threadID)
			}
		}
	}
}

func (a *InMemoryStore) removeOrder(k blobKey) {
	for i, o := range a.order {
		if o == k {
			a.order = append(a.order[:i], a.order[i+1:]...)
			return
		}
	}
}
