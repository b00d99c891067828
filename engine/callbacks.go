package engine

import (
	"context"
	"fmt"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/logging"
)

// CallbackType defines the lifecycle points where callbacks are executed.
//
// Callbacks observe a turn without influencing it: a failing callback is
// logged and the turn continues.
type CallbackType string

const (
	// CallbackAfterNode is triggered after every committed transition,
	// right after the checkpoint is written.
	CallbackAfterNode CallbackType = "after_node"

	// CallbackTurnComplete is triggered when a turn produced its final response.
	CallbackTurnComplete CallbackType = "turn_complete"

	// CallbackApprovalRequired is triggered when a turn pauses on the approval gate.
	CallbackApprovalRequired CallbackType = "approval_required"

	// CallbackOnError is triggered when a turn fails.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext describes the point in the turn a callback observes.
type CallbackContext struct {
	ThreadID     string
	InvocationID string

	// Node is the node that just ran; Next is where the graph goes next.
	Node string
	Next string

	// State is a snapshot of the committed state. Callbacks must not retain
	// references into it across calls.
	State core.State

	// Err is set for CallbackOnError.
	Err error

	CallbackType CallbackType
}

// Callback defines the interface for execution lifecycle hooks.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(CallbackTurnComplete, func(ctx context.Context, cc *CallbackContext) error {
//	    return auditLog.Record(ctx, cc.ThreadID, cc.State.FinalResponse)
//	})
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager holds the registered callbacks by type. Registration
// happens before the engine is built; execution is safe for concurrent use.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates a manager holding callbacks.
func NewCallbackManager(callbacks ...Callback) *CallbackManager {
	cm := &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
	for _, cb := range callbacks {
		cm.RegisterCallback(cb)
	}
	return cm
}

// RegisterCallback adds a callback for its type. Callbacks of the same type
// run in registration order.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	if callback == nil {
		return
	}
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs every callback of the given type. All callbacks run;
// the first error is returned.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	callbackCtx.CallbackType = callbackType

	var first error
	for _, callback := range cm.callbacks[callbackType] {
		if err := callback.Execute(ctx, callbackCtx); err != nil && first == nil {
			first = fmt.Errorf("callback %s: %w", callbackType, err)
		}
	}
	return first
}

// LoggingCallback writes one log line per lifecycle event.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a logging callback for callbackType.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event.
func (c *LoggingCallback) Execute(_ context.Context, cc *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	args := []any{
		"callback", string(c.callbackType),
		"thread_id", cc.ThreadID,
		"invocation_id", cc.InvocationID,
		"node", cc.Node,
		"next", cc.Next,
		"status", string(cc.State.Status),
		"messages", len(cc.State.Messages),
	}
	if cc.Err != nil {
		args = append(args, "error", cc.Err.Error())
		c.logger.Warn("engine.lifecycle", args...)
		return nil
	}
	c.logger.Info("engine.lifecycle", args...)
	return nil
}

// HistoryValidationCallback checks the tool-message invariant after every
// transition. A violation is reported as a callback error.
type HistoryValidationCallback struct{}

// NewHistoryValidationCallback creates the validation callback.
func NewHistoryValidationCallback() *HistoryValidationCallback {
	return &HistoryValidationCallback{}
}

// Type returns CallbackAfterNode.
func (c *HistoryValidationCallback) Type() CallbackType {
	return CallbackAfterNode
}

// Execute validates the committed history.
func (c *HistoryValidationCallback) Execute(_ context.Context, cc *CallbackContext) error {
	return core.ValidateHistory(cc.State.Messages)
}
