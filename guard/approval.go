package guard

import (
	"fmt"
	"strings"
	"time"

	"github.com/shubhambiswas2196/markgraph/core"
)

// DefaultSentinel marks agent output that requests a sensitive action.
const DefaultSentinel = "[[APPROVAL_REQUIRED]]"

// RejectionNotice is appended to the history when the caller rejects a deferred action.
const RejectionNotice = "The requested action was not approved, so nothing was executed."

// ApprovalOptions configure an ApprovalPolicy.
type ApprovalOptions struct {
	Sentinel string
	// SensitiveTools always require approval, sentinel or not.
	SensitiveTools []string
}

// ApprovalPolicy decides whether agent output must pause for human consent.
type ApprovalPolicy struct {
	sentinel  string
	sensitive map[string]struct{}
}

// NewApprovalPolicy builds a policy; the sentinel defaults to DefaultSentinel.
func NewApprovalPolicy(optFns ...func(o *ApprovalOptions)) *ApprovalPolicy {
	opts := ApprovalOptions{Sentinel: DefaultSentinel}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Sentinel == "" {
		opts.Sentinel = DefaultSentinel
	}

	p := &ApprovalPolicy{sentinel: opts.Sentinel, sensitive: map[string]struct{}{}}
	for _, name := range opts.SensitiveTools {
		p.sensitive[name] = struct{}{}
	}
	return p
}

// Sentinel returns the configured marker.
func (p *ApprovalPolicy) Sentinel() string { return p.sentinel }

// Requires reports whether msg needs approval given the permission flag.
func (p *ApprovalPolicy) Requires(msg core.Message, granted bool) bool {
	if granted || msg.Role != core.RoleAI {
		return false
	}
	if strings.Contains(msg.Content, p.sentinel) {
		return true
	}
	for _, tc := range msg.ToolCalls {
		if _, ok := p.sensitive[tc.Name]; ok {
			return true
		}
	}
	return false
}

// Strip removes every occurrence of the sentinel and trims the result.
func (p *ApprovalPolicy) Strip(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, p.sentinel, ""))
}

// Gate applies the policy to an agent's output. When approval is needed it
// returns the message to record (sentinel stripped, tool calls removed) and
// the PendingApproval holding the deferred calls. Otherwise it returns msg
// with the sentinel stripped and a nil PendingApproval.
func (p *ApprovalPolicy) Gate(agent string, msg core.Message, granted bool, now time.Time) (core.Message, *core.PendingApproval) {
	needs := p.Requires(msg, granted)

	visible := msg.Clone()
	visible.Content = p.Strip(msg.Content)
	if !needs {
		return visible, nil
	}

	deferred := visible.Clone()
	deferred.ID = core.NewID()
	deferred.Content = ""

	visible.ToolCalls = nil

	return visible, &core.PendingApproval{
		Agent:       agent,
		Prompt:      p.prompt(visible.Content, deferred.ToolCalls),
		Message:     deferred,
		RequestedAt: now,
	}
}

func (p *ApprovalPolicy) prompt(text string, calls []core.ToolCall) string {
	if text != "" {
		return text
	}
	if len(calls) == 0 {
		return "Approval is required before I continue."
	}
	names := make([]string, len(calls))
	for i, tc := range calls {
		names[i] = tc.Name
	}
	return fmt.Sprintf("Approval is required to run: %s.", strings.Join(names, ", "))
}
