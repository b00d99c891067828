package core

import (
	"slices"
	"time"
)

// Finish is the reserved routing target that ends the turn.
const Finish = "FINISH"

// Status describes where a thread currently stands.
type Status string

const (
	// StatusRunning marks a turn in progress.
	StatusRunning Status = "running"
	// StatusCompleted marks a turn that produced a final response.
	StatusCompleted Status = "completed"
	// StatusAwaitingApproval marks a turn paused on the approval gate.
	StatusAwaitingApproval Status = "awaiting_approval"
	// StatusFailed marks a turn that ended with an error.
	StatusFailed Status = "failed"
)

// RoutingDecision is the supervisor's choice of the next specialist.
type RoutingDecision struct {
	Next      string `json:"next"`
	Reasoning string `json:"reasoning,omitempty"`
}

// PendingApproval records the deferred action of a turn paused by the
// approval gate. Message is the AI message whose tool calls were withheld.
type PendingApproval struct {
	Agent       string    `json:"agent"`
	Prompt      string    `json:"prompt"`
	Message     Message   `json:"message"`
	RequestedAt time.Time `json:"requested_at"`
}

// CacheEntry is a cached tool result. When Evicted is set, Value holds the
// preview and Ref the out-of-band location of the full payload.
type CacheEntry struct {
	Value      string    `json:"value"`
	InsertedAt time.Time `json:"inserted_at"`
	Evicted    bool      `json:"evicted,omitempty"`
	Ref        string    `json:"ref,omitempty"`
}

// Fresh reports whether the entry is still usable at now.
func (c CacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.InsertedAt) < ttl
}

// State is the per-thread conversation state. Nodes never mutate it in place;
// they return an Update which is merged through Apply.
type State struct {
	ThreadID          string                `json:"thread_id"`
	Messages          []Message             `json:"messages"`
	TurnStart         int                   `json:"turn_start"`
	Turn              int                   `json:"turn"`
	Node              string                `json:"node,omitempty"`
	Sender            string                `json:"sender,omitempty"`
	Invoked           []string              `json:"invoked,omitempty"`
	Cache             map[string]CacheEntry `json:"cache,omitempty"`
	PermissionGranted bool                  `json:"permission_granted"`
	PendingApproval   *PendingApproval      `json:"pending_approval,omitempty"`
	Resources         map[string]string     `json:"resources,omitempty"`
	Route             *RoutingDecision      `json:"route,omitempty"`
	FinalResponse     string                `json:"final_response,omitempty"`
	Status            Status                `json:"status,omitempty"`
	Iteration         int                   `json:"iteration"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// NewState creates an empty state for a thread.
func NewState(threadID string) State {
	return State{
		ThreadID:  threadID,
		Messages:  []Message{},
		Cache:     map[string]CacheEntry{},
		Resources: map[string]string{},
		UpdatedAt: time.Now().UTC(),
	}
}

// Update is the partial state returned by a node. Nil and empty fields leave
// the corresponding State field untouched.
//
// Reducers:
//   - Messages and Invoked append (Invoked keeps set semantics)
//   - Cache and Resources merge by key
//   - pointer scalars overwrite when set
type Update struct {
	Messages             []Message
	Sender               *string
	Invoked              []string
	Cache                map[string]CacheEntry
	Resources            map[string]string
	PermissionGranted    *bool
	PendingApproval      *PendingApproval
	ClearPendingApproval bool
	Route                *RoutingDecision
	FinalResponse        *string
	Status               *Status
}

// Ptr returns a pointer to v. It keeps Update literals short.
func Ptr[T any](v T) *T { return &v }

// Apply merges u into a copy of s and returns the result.
func (s State) Apply(u Update) State {
	n := s.Clone()

	for _, m := range u.Messages {
		n.Messages = append(n.Messages, m.Clone())
	}

	for _, name := range u.Invoked {
		if !slices.Contains(n.Invoked, name) {
			n.Invoked = append(n.Invoked, name)
		}
	}

	if len(u.Cache) > 0 {
		if n.Cache == nil {
			n.Cache = map[string]CacheEntry{}
		}
		for k, v := range u.Cache {
			n.Cache[k] = v
		}
	}

	if len(u.Resources) > 0 {
		if n.Resources == nil {
			n.Resources = map[string]string{}
		}
		for k, v := range u.Resources {
			n.Resources[k] = v
		}
	}

	if u.Sender != nil {
		n.Sender = *u.Sender
	}

	if u.PermissionGranted != nil {
		n.PermissionGranted = *u.PermissionGranted
	}

	if u.ClearPendingApproval {
		n.PendingApproval = nil
	}

	if u.PendingApproval != nil {
		pa := *u.PendingApproval
		pa.Message = pa.Message.Clone()
		n.PendingApproval = &pa
	}

	if u.Route != nil {
		r := *u.Route
		n.Route = &r
	}

	if u.FinalResponse != nil {
		n.FinalResponse = *u.FinalResponse
	}

	if u.Status != nil {
		n.Status = *u.Status
	}

	n.UpdatedAt = time.Now().UTC()

	return n
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c := s

	c.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		c.Messages[i] = m.Clone()
	}

	c.Invoked = slices.Clone(s.Invoked)

	c.Cache = make(map[string]CacheEntry, len(s.Cache))
	for k, v := range s.Cache {
		c.Cache[k] = v
	}

	c.Resources = make(map[string]string, len(s.Resources))
	for k, v := range s.Resources {
		c.Resources[k] = v
	}

	if s.PendingApproval != nil {
		pa := *s.PendingApproval
		pa.Message = pa.Message.Clone()
		c.PendingApproval = &pa
	}

	if s.Route != nil {
		r := *s.Route
		c.Route = &r
	}

	return c
}

// BeginTurn returns the state prepared for a new human turn: per-turn
// bookkeeping is reset and the permission flag is cleared.
func (s State) BeginTurn(input Message) State {
	n := s.Clone()
	n.Turn++
	n.TurnStart = len(n.Messages)
	n.Messages = append(n.Messages, input.Clone())
	n.Invoked = nil
	n.Route = nil
	n.FinalResponse = ""
	n.PermissionGranted = false
	n.PendingApproval = nil
	n.Status = StatusRunning
	n.Iteration = 0
	n.UpdatedAt = time.Now().UTC()

	return n
}

// TurnMessages returns the messages produced since the current human turn began.
func (s State) TurnMessages() []Message {
	if s.TurnStart < 0 || s.TurnStart > len(s.Messages) {
		return s.Messages
	}

	return s.Messages[s.TurnStart:]
}

// LastMessage returns the most recent message, if any.
func (s State) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}

	return s.Messages[len(s.Messages)-1], true
}

// LastAIText returns the content of the most recent AI message in the current
// turn that carries text.
func (s State) LastAIText() string {
	turn := s.TurnMessages()
	for i := len(turn) - 1; i >= 0; i-- {
		if turn[i].Role == RoleAI && turn[i].Content != "" {
			return turn[i].Content
		}
	}

	return ""
}
