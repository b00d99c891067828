package engine

import (
	"errors"

	"github.com/shubhambiswas2196/markgraph/core"
)

// ErrEmptyInput is returned when an invocation carries neither a message nor
// an approval decision.
var ErrEmptyInput = errors.New("input has neither a message nor an approval decision")

// ApprovalDecision answers a pending approval.
type ApprovalDecision struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment,omitempty"`
}

// Input is one caller request against a thread.
//
// A Message starts a new human turn. An Approval resumes a paused turn; any
// Message sent alongside it is ignored. History seeds a thread that has no
// checkpoint yet and is ignored otherwise.
type Input struct {
	Message  string
	History  []core.Message
	Approval *ApprovalDecision
}

// Result is the outcome of InvokeSync.
type Result struct {
	InvocationID string
	// Response is the final response, the approval prompt, or a plain
	// language error description.
	Response string
	Status   core.Status
	Pending  *core.PendingApproval
	Events   []core.Event
}
