// Package tool implements the tool calling subsystem that lets agents invoke
// structured capabilities (APIs, computations, side-effects) with schema
// validated arguments, consistent error handling and rich metadata for model
// guidance. Tools are resolved through a closed Registry built at startup.
package tool

import (
	"fmt"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/internal/util"
)

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tools are registered once in a Registry and bound to agents by name,
// allowing agents to perform actions beyond text generation such as API
// calls, spreadsheet writes or campaign management.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Honour toolCtx.Context() cancellation and deadlines
//   - Be thread-safe if used concurrently
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the model to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// This schema is used for parameter validation and model function calling.
	Parameters() map[string]any

	// Call executes the tool with structured arguments and ToolContext.
	// The returned value must be a string or JSON-serializable.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes used by ToolError.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeExecution   = "EXECUTION_ERROR"
	CodeTimeout     = "TIMEOUT"
	CodeUnknownTool = "UNKNOWN_TOOL"
	CodePanic       = "PANIC"
)

// ToolError represents errors that occur during tool execution. It is turned
// into an error-shaped tool message rather than aborting the turn.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// ErrorCode returns the categorization code.
func (e *ToolError) ErrorCode() string { return e.Code }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
