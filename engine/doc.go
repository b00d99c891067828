// Package engine runs conversation turns of a supervisor and its specialists.
//
// The Engine compiles a cyclic graph over three kinds of nodes:
//
//	┌──────────────┐  route   ┌──────────────┐
//	│  supervisor  │ ───────► │  specialist  │
//	└──────┬───────┘ ◄─────── └──────┬───────┘
//	       │ tool calls              │ tool calls
//	       ▼                         ▼
//	┌─────────────────────────────────────────┐
//	│ tools (loop guard, cache, eviction)     │
//	└─────────────────────────────────────────┘
//
// Each agent owns a tool executor over its own registry. The tools node
// returns control to the agent that issued the calls. A turn ends when the
// supervisor routes to FINISH, when the loop guard stops a repetition, or
// when an agent trips the approval gate.
//
// # Turns and threads
//
// A thread is identified by its id and persisted through a checkpoint.Store
// after every transition. At most one turn per thread is in flight; turns of
// different threads run concurrently up to Config.MaxConcurrentInvocations.
//
//	id, events, errs, err := eng.Invoke(ctx, "thread-1", engine.Input{Message: "Summarise campaign 42"})
//	for ev := range events {
//	    if ev.Type == core.EventTextDelta {
//	        fmt.Print(ev.Text)
//	    }
//	}
//	if err := <-errs; err != nil { ... }
//
// # Approval
//
// An agent that asks for permission parks its message on the thread and the
// turn ends with an approval_required event. The next Invoke carrying an
// ApprovalDecision resumes the turn: approved calls run, a rejection closes
// the turn with a notice.
package engine
