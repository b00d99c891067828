package artifact

import "context"

// Store persists opaque payloads addressed by (threadID, id).
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores (or overwrites) the payload.
	Save(ctx context.Context, threadID, id string, data []byte) error
	// Get returns the payload or ErrNotFound.
	Get(ctx context.Context, threadID, id string) ([]byte, error)
	// List returns the ids stored for the thread.
	List(ctx context.Context, threadID string) ([]string, error)
	// Delete removes the payload or returns ErrNotFound.
	Delete(ctx context.Context, threadID, id string) error
}
