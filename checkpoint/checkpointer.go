package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/logging"
	"github.com/shubhambiswas2196/markgraph/metrics"
)

// CheckpointerOptions configure a Checkpointer.
type CheckpointerOptions struct {
	// Timeout bounds every store call. Defaults to 5s.
	Timeout time.Duration
	Logger  logging.Logger
	Clock   core.Clock
}

// Checkpointer applies the persistence policy on top of a Store.
type Checkpointer struct {
	store Store
	opts  CheckpointerOptions
}

// NewCheckpointer wraps store.
func NewCheckpointer(store Store, optFns ...func(o *CheckpointerOptions)) *Checkpointer {
	opts := CheckpointerOptions{
		Timeout: 5 * time.Second,
		Logger:  logging.NoOpLogger{},
		Clock:   time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Checkpointer{store: store, opts: opts}
}

// Save persists st. A failure is logged and counted; the returned error is
// informational and callers continue the turn.
func (c *Checkpointer) Save(ctx context.Context, st core.State, metadata map[string]string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
	defer cancel()

	err := c.store.Put(ctx, Checkpoint{
		ThreadID:  st.ThreadID,
		State:     st,
		Metadata:  metadata,
		WrittenAt: c.opts.Clock().UTC(),
	})
	if err != nil {
		metrics.CheckpointErrors.WithLabelValues("put").Inc()
		c.opts.Logger.Warn("checkpoint.put.failed", "thread_id", st.ThreadID, "node", st.Node, "error", err)
	}
	return err
}

// Load returns the thread's last committed state. found is false when no
// checkpoint exists or the read failed; a fresh state is returned then.
// Rehydrated histories that break the tool-message invariant are discarded.
func (c *Checkpointer) Load(ctx context.Context, threadID string) (st core.State, found bool) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	cp, err := c.store.Get(ctx, threadID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			metrics.CheckpointErrors.WithLabelValues("get").Inc()
			c.opts.Logger.Warn("checkpoint.get.failed", "thread_id", threadID, "error", err)
		}
		return core.NewState(threadID), false
	}

	if err := core.ValidateHistory(cp.State.Messages); err != nil {
		metrics.CheckpointErrors.WithLabelValues("validate").Inc()
		c.opts.Logger.Warn("checkpoint.history.invalid", "thread_id", threadID, "error", err)
		return core.NewState(threadID), false
	}

	st = cp.State
	st.ThreadID = threadID
	if st.Cache == nil {
		st.Cache = map[string]core.CacheEntry{}
	}
	if st.Resources == nil {
		st.Resources = map[string]string{}
	}

	return st, true
}

// Forget deletes the thread's checkpoint.
func (c *Checkpointer) Forget(ctx context.Context, threadID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if err := c.store.Delete(ctx, threadID); err != nil {
		metrics.CheckpointErrors.WithLabelValues("delete").Inc()
		return err
	}
	return nil
}
