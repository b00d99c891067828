package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrLoopDetected is returned when a turn would repeat a tool call issued
	// two agent turns earlier.
	ErrLoopDetected = errors.New("loop detected: repeated tool call")

	// ErrPermissionPending signals that the turn paused on the approval gate.
	// It is control flow, not a failure.
	ErrPermissionPending = errors.New("permission pending")

	// ErrMaxIterations is returned when a turn exceeds the step limit.
	ErrMaxIterations = errors.New("maximum iterations exceeded")

	// ErrInvalidRoute is returned when a router yields a target outside its
	// declared set.
	ErrInvalidRoute = errors.New("invalid route")

	// ErrUnknownTool is returned when a call names a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrThreadBusy is returned when a thread already has a turn in flight.
	ErrThreadBusy = errors.New("thread busy")

	// ErrNoPendingApproval is returned when an approval decision arrives for a
	// thread that is not paused.
	ErrNoPendingApproval = errors.New("no pending approval")
)

// TransientError marks a failure of an external call that may succeed when
// retried (timeouts, rate limits, connection resets).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transient error: %v", e.Err)
	}
	return fmt.Sprintf("transient error in %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as retryable.
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is worth retrying. Caller cancellation is
// never transient; per-call deadlines and network timeouts are.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ConfigurationError reports invalid or missing configuration. It is fatal
// and raised before any external call is made.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode returns a stable machine readable code for err.
func ErrorCode(err error) string {
	var (
		te *TransientError
		ce *ConfigurationError
		cd interface{ ErrorCode() string }
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "CANCELLED"
	case errors.Is(err, ErrLoopDetected):
		return "LOOP_DETECTED"
	case errors.Is(err, ErrPermissionPending):
		return "PERMISSION_PENDING"
	case errors.Is(err, ErrMaxIterations):
		return "MAX_ITERATIONS"
	case errors.Is(err, ErrInvalidRoute):
		return "INVALID_ROUTE"
	case errors.Is(err, ErrThreadBusy):
		return "THREAD_BUSY"
	case errors.As(err, &ce):
		return "CONFIGURATION_ERROR"
	case errors.As(err, &te), errors.Is(err, context.DeadlineExceeded):
		return "TRANSIENT_ERROR"
	case errors.As(err, &cd):
		return cd.ErrorCode()
	default:
		return "INTERNAL_ERROR"
	}
}

// UserMessage maps any error to a plain-language sentence suitable for the
// end user. Internal details never leak through it.
func UserMessage(err error) string {
	switch ErrorCode(err) {
	case "":
		return ""
	case "CANCELLED":
		return "The request was cancelled."
	case "LOOP_DETECTED":
		return "I seem to be going in circles on this request, so I stopped. Could you rephrase or add more detail?"
	case "PERMISSION_PENDING":
		return "This action needs your approval before I can continue."
	case "MAX_ITERATIONS":
		return "This request took too many steps to complete. Please try a narrower request."
	case "THREAD_BUSY":
		return "I am still working on your previous message. Please wait for it to finish."
	case "CONFIGURATION_ERROR":
		return "The assistant is not configured correctly. Please contact the administrator."
	case "TRANSIENT_ERROR":
		return "An external service is temporarily unavailable. Please try again in a moment."
	default:
		return "Something went wrong while processing your request. Please try again."
	}
}
