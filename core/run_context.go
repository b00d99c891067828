package core

import (
	"context"
	"sync"
	"time"

	"github.com/shubhambiswas2196/markgraph/logging"
)

// Clock returns the current time. Tests inject a fixed or advancing clock to
// exercise cache expiry deterministically.
type Clock func() time.Time

// emitter assigns sequence numbers and forwards events. It is shared by every
// RunContext derived from the same invocation.
type emitter struct {
	mu  sync.Mutex
	seq uint64
	fn  func(Event) error
}

// RunContext carries the explicit, per-invocation execution scope handed to
// every graph node and tool. It aggregates:
//   - The ambient cancellation Context
//   - Identifiers (ThreadID, InvocationID, current Node)
//   - The event emitter (sequence numbered)
//   - The clock used for cache freshness
//   - The per-turn iteration limiter
//
// Nothing reachable from a RunContext is process-global; two threads running
// concurrently never share one.
type RunContext struct {
	Context      context.Context
	ThreadID     string
	InvocationID string
	Node         string
	Clock        Clock
	Limiter      *IterationLimiter

	emit *emitter
	*loggerAdapter
}

// NewRunContext constructs a RunContext. emit may be nil, in which case
// events are dropped.
func NewRunContext(
	ctx context.Context,
	threadID, invocationID string,
	emit func(Event) error,
	logger logging.Logger,
) *RunContext {
	return &RunContext{
		Context:       ctx,
		ThreadID:      threadID,
		InvocationID:  invocationID,
		Clock:         func() time.Time { return time.Now().UTC() },
		Limiter:       NewIterationLimiter(0),
		emit:          &emitter{fn: emit},
		loggerAdapter: newLoggerAdapter(logger, "thread_id", threadID, "invocation_id", invocationID),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// Now returns the current time according to the injected clock.
func (rc *RunContext) Now() time.Time {
	if rc.Clock == nil {
		return time.Now().UTC()
	}
	return rc.Clock()
}

// WithNode returns a copy scoped to the named node. Log lines written through
// the copy carry the node name.
func (rc *RunContext) WithNode(node string) *RunContext {
	var base logging.Logger
	if rc.loggerAdapter != nil {
		base = rc.loggerAdapter.logger
	}

	c := *rc
	c.Node = node
	c.loggerAdapter = newLoggerAdapter(base, "thread_id", rc.ThreadID, "invocation_id", rc.InvocationID, "node", node)
	return &c
}

// WithContext returns a copy bound to ctx (e.g. a per-call timeout).
func (rc *RunContext) WithContext(ctx context.Context) *RunContext {
	c := *rc
	c.Context = ctx
	return &c
}

// Emit stamps the event with identifiers and the next sequence number and
// forwards it. Emission is serialized so sequence order equals delivery order.
func (rc *RunContext) Emit(ev Event) error {
	if rc.emit == nil || rc.emit.fn == nil {
		return nil
	}

	if err := rc.Context.Err(); err != nil {
		return err
	}

	rc.emit.mu.Lock()
	defer rc.emit.mu.Unlock()

	rc.emit.seq++
	ev.Seq = rc.emit.seq
	ev.ThreadID = rc.ThreadID
	ev.InvocationID = rc.InvocationID
	if ev.Author == "" {
		ev.Author = rc.Node
	}

	return rc.emit.fn(ev)
}

// EmitBestEffort emits ev and logs instead of returning a failure.
func (rc *RunContext) EmitBestEffort(ev Event) {
	if err := rc.Emit(ev); err != nil {
		rc.LogDebug("event.emit.dropped", "type", string(ev.Type), "error", err.Error())
	}
}
