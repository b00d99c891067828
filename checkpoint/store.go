package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shubhambiswas2196/markgraph/core"
)

// ErrNotFound is returned when a thread has no checkpoint.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpoint is the persisted snapshot of a thread.
type Checkpoint struct {
	ThreadID  string            `json:"thread_id"`
	State     core.State        `json:"state"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	WrittenAt time.Time         `json:"written_at"`
}

// Store persists checkpoints keyed by thread id.
type Store interface {
	// Put replaces the thread's checkpoint.
	Put(ctx context.Context, cp Checkpoint) error
	// Get returns the thread's checkpoint or ErrNotFound.
	Get(ctx context.Context, threadID string) (Checkpoint, error)
	// Delete removes the thread's checkpoint. Deleting a missing thread is not an error.
	Delete(ctx context.Context, threadID string) error
}

func validate(cp Checkpoint) error {
	if cp.ThreadID == "" {
		return errors.New("checkpoint: thread id is required")
	}
	if cp.State.ThreadID != "" && cp.State.ThreadID != cp.ThreadID {
		return fmt.Errorf("checkpoint: state belongs to thread %q, not %q", cp.State.ThreadID, cp.ThreadID)
	}
	return nil
}

func encode(cp Checkpoint) ([]byte, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode %s: %w", cp.ThreadID, err)
	}
	return data, nil
}

func decode(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: decode: %w", err)
	}
	return cp, nil
}
