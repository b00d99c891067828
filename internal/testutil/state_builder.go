package testutil

import (
	"github.com/shubhambiswas2196/markgraph/core"
)

// StateBuilder helps construct conversation states with fluent chaining.
// Example:
//
//	st := NewStateBuilder("t1").Human("hi").AI("ads", "", call).ToolResult("ads", call, "{}").Build()
//
// Human starts a new turn the same way the engine does.
type StateBuilder struct {
	st core.State
}

// NewStateBuilder creates a builder for an empty state of the given thread.
func NewStateBuilder(threadID string) *StateBuilder {
	return &StateBuilder{st: core.NewState(threadID)}
}

// Human begins a new turn with a human message (chainable).
func (b *StateBuilder) Human(text string) *StateBuilder {
	b.st = b.st.BeginTurn(core.NewHumanMessage(text))
	return b
}

// AI appends an AI message authored by author (chainable).
func (b *StateBuilder) AI(author, text string, calls ...core.ToolCall) *StateBuilder {
	b.st = b.st.Apply(core.Update{Messages: []core.Message{core.NewAIMessage(author, text, calls...)}, Sender: core.Ptr(author)})
	return b
}

// ToolResult appends the tool message answering call (chainable).
func (b *StateBuilder) ToolResult(author string, call core.ToolCall, content string) *StateBuilder {
	b.st = b.st.Apply(core.Update{Messages: []core.Message{core.NewToolMessage(author, call, content, false)}})
	return b
}

// Resource records a recovered resource handle (chainable).
func (b *StateBuilder) Resource(key, value string) *StateBuilder {
	b.st = b.st.Apply(core.Update{Resources: map[string]string{key: value}})
	return b
}

// Cache stores a cache entry for call (chainable).
func (b *StateBuilder) Cache(call core.ToolCall, entry core.CacheEntry) *StateBuilder {
	b.st = b.st.Apply(core.Update{Cache: map[string]core.CacheEntry{call.CacheKey(): entry}})
	return b
}

// Invoked marks specialists as already run this turn (chainable).
func (b *StateBuilder) Invoked(names ...string) *StateBuilder {
	b.st = b.st.Apply(core.Update{Invoked: names})
	return b
}

// Granted sets the permission flag (chainable).
func (b *StateBuilder) Granted() *StateBuilder {
	b.st = b.st.Apply(core.Update{PermissionGranted: core.Ptr(true)})
	return b
}

// Build returns a deep copy of the assembled state.
func (b *StateBuilder) Build() core.State { return b.st.Clone() }

// Call builds a tool call from alternating key/value pairs.
func Call(id, name string, kv ...any) core.ToolCall {
	args := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		args[key] = kv[i+1]
	}
	return core.ToolCall{ID: id, Name: name, Arguments: args}
}
