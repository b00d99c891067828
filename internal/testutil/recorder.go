package testutil

import (
	"context"
	"sync"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/logging"
)

// Recorder collects events emitted through a RunContext.
// Example:
//
//	rec := NewRecorder()
//	rc := rec.RunContext(context.Background(), "t1")
//	// ... run a node ...
//	assert.Equal(t, 1, rec.Count(core.EventRoutingDecision))
type Recorder struct {
	mu     sync.Mutex
	events []core.Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Emit records ev. It matches the emitter signature of core.NewRunContext.
func (r *Recorder) Emit(ev core.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// RunContext returns a RunContext for threadID that records into r.
func (r *Recorder) RunContext(ctx context.Context, threadID string) *core.RunContext {
	return core.NewRunContext(ctx, threadID, "inv-"+threadID, r.Emit, logging.NoOpLogger{})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

// OfType returns the recorded events of type typ.
func (r *Recorder) OfType(typ core.EventType) []core.Event {
	var out []core.Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events of type typ were recorded.
func (r *Recorder) Count(typ core.EventType) int { return len(r.OfType(typ)) }

// Text concatenates the text_delta payloads. A text_reset drops the run of
// deltas that precedes it.
func (r *Recorder) Text() string {
	var (
		s    string
		mark int
		run  bool
	)
	for _, ev := range r.Events() {
		switch ev.Type {
		case core.EventTextDelta:
			if !run {
				mark, run = len(s), true
			}
			s += ev.Text
		case core.EventTextReset:
			if run {
				s = s[:mark]
			}
			run = false
		default:
			run = false
		}
	}
	return s
}
