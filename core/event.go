package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType categorizes stream events emitted while a turn runs.
type EventType string

const (
	// EventTextDelta carries an incremental fragment of model text.
	EventTextDelta EventType = "text_delta"
	// EventTextReset withdraws the run of text_delta fragments just streamed
	// by Author. A retried model call restreams its text after it.
	EventTextReset EventType = "text_reset"
	// EventToolStarted is emitted before a tool call is dispatched.
	EventToolStarted EventType = "tool_started"
	// EventToolCompleted is emitted once a tool result (fresh or cached) is known.
	EventToolCompleted EventType = "tool_completed"
	// EventRoutingDecision is emitted when the supervisor picks the next node.
	EventRoutingDecision EventType = "routing_decision"
	// EventApprovalRequired is emitted when a turn pauses on the approval gate.
	EventApprovalRequired EventType = "approval_required"
	// EventError carries a plain-language error description.
	EventError EventType = "error"
	// EventTurnComplete closes a turn and carries the final response.
	EventTurnComplete EventType = "turn_complete"
)

// Event is the unit of the streaming interface between the engine and
// external clients. After emission it should be treated as immutable.
//
// Seq is assigned by the RunContext and is strictly increasing within an
// invocation. Optional payload fields are populated according to Type.
type Event struct {
	ID           string           `json:"id"`
	InvocationID string           `json:"invocation_id"`
	ThreadID     string           `json:"thread_id"`
	Seq          uint64           `json:"seq"`
	Type         EventType        `json:"type"`
	Author       string           `json:"author,omitempty"`
	Text         string           `json:"text,omitempty"`
	ToolCall     *ToolCall        `json:"tool_call,omitempty"`
	Cached       bool             `json:"cached,omitempty"`
	Evicted      bool             `json:"evicted,omitempty"`
	IsError      bool             `json:"is_error,omitempty"`
	Route        *RoutingDecision `json:"route,omitempty"`
	Status       Status           `json:"status,omitempty"`
	ErrorCode    string           `json:"error_code,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// NewEvent creates a bare event of the given type authored by a node.
func NewEvent(typ EventType, author string) Event {
	return Event{
		ID:        NewID(),
		Type:      typ,
		Author:    author,
		Timestamp: time.Now().UTC(),
	}
}

// NewTextDeltaEvent wraps a streamed text fragment.
func NewTextDeltaEvent(author, delta string) Event {
	e := NewEvent(EventTextDelta, author)
	e.Text = delta
	return e
}

// NewTextResetEvent withdraws the text streamed so far by author.
func NewTextResetEvent(author string) Event {
	return NewEvent(EventTextReset, author)
}

// NewToolStartedEvent announces a tool dispatch.
func NewToolStartedEvent(author string, call ToolCall) Event {
	e := NewEvent(EventToolStarted, author)
	e.ToolCall = &call
	return e
}

// NewToolCompletedEvent reports a tool result. Text holds the in-band content.
func NewToolCompletedEvent(author string, call ToolCall, result Message, cached bool) Event {
	e := NewEvent(EventToolCompleted, author)
	e.ToolCall = &call
	e.Text = result.Content
	e.IsError = result.IsError
	e.Evicted = result.Evicted
	e.Cached = cached
	return e
}

// NewRoutingDecisionEvent reports the supervisor's choice.
func NewRoutingDecisionEvent(author string, d RoutingDecision) Event {
	e := NewEvent(EventRoutingDecision, author)
	e.Route = &d
	return e
}

// NewErrorEvent carries a plain-language error for the end user.
func NewErrorEvent(author string, err error) Event {
	e := NewEvent(EventError, author)
	e.Text = UserMessage(err)
	e.ErrorCode = ErrorCode(err)
	e.IsError = true
	return e
}

// NewID generates a new unique identifier.
func NewID() string { return uuid.NewString() }

// IsTerminal reports whether the event ends the stream of a turn.
func (e Event) IsTerminal() bool {
	return e.Type == EventTurnComplete || e.Type == EventApprovalRequired
}
