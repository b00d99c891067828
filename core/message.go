package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the producer of a Message.
type Role string

const (
	// RoleHuman marks end-user input.
	RoleHuman Role = "human"
	// RoleAI marks model output produced by an agent node.
	RoleAI Role = "ai"
	// RoleTool marks the result of a tool invocation.
	RoleTool Role = "tool"
	// RoleSystem marks engine generated notices.
	RoleSystem Role = "system"
)

// ToolCall is a model request to invoke a named tool with structured arguments.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CacheKey returns the identity of the call used for result caching and loop
// detection: the tool name plus the canonical JSON encoding of its arguments.
// encoding/json sorts map keys, so argument order never changes the key.
func (tc ToolCall) CacheKey() string {
	args := tc.Arguments
	if args == nil {
		args = map[string]any{}
	}

	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%s:%v", tc.Name, args)
	}

	return tc.Name + ":" + string(b)
}

// ArgumentsJSON returns the arguments as a JSON object string.
func (tc ToolCall) ArgumentsJSON() string {
	if len(tc.Arguments) == 0 {
		return "{}"
	}

	b, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}

	return string(b)
}

// Message is one entry of the append-only conversation transcript.
//
// AI messages may carry ToolCalls. Tool messages reference the originating
// call through ToolCallID. Evicted tool messages carry a preview in Content
// and a FullContentRef pointing at the out-of-band payload.
type Message struct {
	ID             string     `json:"id"`
	Role           Role       `json:"role"`
	Author         string     `json:"author,omitempty"`
	Content        string     `json:"content"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID     string     `json:"tool_call_id,omitempty"`
	ToolName       string     `json:"tool_name,omitempty"`
	IsError        bool       `json:"is_error,omitempty"`
	Evicted        bool       `json:"evicted,omitempty"`
	FullContentRef string     `json:"full_content_ref,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

// NewHumanMessage creates an end-user message.
func NewHumanMessage(content string) Message {
	return Message{ID: NewID(), Role: RoleHuman, Author: "user", Content: content, Timestamp: time.Now().UTC()}
}

// NewAIMessage creates an agent message with optional tool calls.
func NewAIMessage(author, content string, calls ...ToolCall) Message {
	return Message{ID: NewID(), Role: RoleAI, Author: author, Content: content, ToolCalls: calls, Timestamp: time.Now().UTC()}
}

// NewToolMessage creates the result message answering a tool call.
func NewToolMessage(author string, call ToolCall, content string, isError bool) Message {
	return Message{
		ID:         NewID(),
		Role:       RoleTool,
		Author:     author,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    isError,
		Timestamp:  time.Now().UTC(),
	}
}

// NewSystemMessage creates an engine notice that is kept in the transcript.
func NewSystemMessage(content string) Message {
	return Message{ID: NewID(), Role: RoleSystem, Author: "system", Content: content, Timestamp: time.Now().UTC()}
}

// HasToolCalls reports whether the message requests tool invocations.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Clone returns a copy that shares no slices or maps with m.
func (m Message) Clone() Message {
	c := m
	if m.ToolCalls != nil {
		c.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			c.ToolCalls[i] = ToolCall{ID: tc.ID, Name: tc.Name, Arguments: cloneMap(tc.Arguments)}
		}
	}

	return c
}

// ValidateHistory checks that every tool message answers a tool call issued
// by a preceding AI message.
func ValidateHistory(msgs []Message) error {
	issued := map[string]struct{}{}

	for i, m := range msgs {
		switch m.Role {
		case RoleAI:
			for _, tc := range m.ToolCalls {
				issued[tc.ID] = struct{}{}
			}
		case RoleTool:
			if _, ok := issued[m.ToolCallID]; !ok {
				return fmt.Errorf("message %d: tool result %q has no preceding tool call", i, m.ToolCallID)
			}
		}
	}

	return nil
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
