package core

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/shubhambiswas2196/markgraph/logging"
)

// ToolContext provides a constrained surface for tool implementations invoked
// on behalf of an agent. It exposes the per-call context (already bounded by
// the call timeout), identifiers, a read-only view of the thread's recovered
// resources and a staging area for new resources. Staged resources are merged
// into the conversation state by the tool executor after the call returns.
type ToolContext struct {
	ctx       context.Context
	runCtx    *RunContext
	call      ToolCall
	agent     string
	resources map[string]string

	mu     sync.Mutex
	staged map[string]string

	*loggerAdapter
}

// NewToolContext constructs a tool context bound to a parent RunContext.
// resources is copied.
func NewToolContext(ctx context.Context, runCtx *RunContext, agent string, call ToolCall, resources map[string]string) *ToolContext {
	var base logging.Logger
	if runCtx != nil && runCtx.loggerAdapter != nil {
		base = runCtx.loggerAdapter.logger
	}

	threadID := ""
	if runCtx != nil {
		threadID = runCtx.ThreadID
	}

	return &ToolContext{
		ctx:           ctx,
		runCtx:        runCtx,
		call:          call,
		agent:         agent,
		resources:     maps.Clone(resources),
		staged:        map[string]string{},
		loggerAdapter: newLoggerAdapter(base, "thread_id", threadID, "tool", call.Name, "tool_call_id", call.ID),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// ThreadID returns the thread the call belongs to.
func (tc *ToolContext) ThreadID() string {
	if tc.runCtx == nil {
		return ""
	}
	return tc.runCtx.ThreadID
}

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// CallID returns the tool call ID associated with the invocation.
func (tc *ToolContext) CallID() string { return tc.call.ID }

// ToolName returns the name of the invoked tool.
func (tc *ToolContext) ToolName() string { return tc.call.Name }

// AgentName returns the agent that requested the call.
func (tc *ToolContext) AgentName() string { return tc.agent }

// Resource returns a recovered resource handle (e.g. spreadsheet_id).
func (tc *ToolContext) Resource(key string) (string, bool) {
	v, ok := tc.resources[key]
	return v, ok
}

// SetResource stages a resource handle discovered by the tool.
func (tc *ToolContext) SetResource(key, value string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.staged[key] = value
	tc.LogDebug("tool.resource.staged", "key", key)
}

// StagedResources returns a copy of the resources staged during the call.
func (tc *ToolContext) StagedResources() map[string]string {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return maps.Clone(tc.staged)
}

// Validate performs a structural sanity check of the context.
func (tc *ToolContext) Validate() error {
	if tc.ctx == nil || tc.call.ID == "" || tc.call.Name == "" {
		return fmt.Errorf("invalid ToolContext")
	}

	return nil
}
