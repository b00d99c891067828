package agent

import (
	"fmt"
	"regexp"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/guard"
	"github.com/shubhambiswas2196/markgraph/model"
	"github.com/shubhambiswas2196/markgraph/tool"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// SpecialistOptions configures a Specialist.
type SpecialistOptions struct {
	// Description is shown to the supervisor in its catalogue.
	Description string
	// Instruction is the domain system prompt. Static text is rendered as a
	// template over the thread resources.
	Instruction Instruction
	// Tools is the specialist's tool subset. Only these are bound to its model calls.
	Tools *tool.Registry
	// Invoker carries the model call policy. It defaults to NewInvoker(m).
	Invoker *Invoker
	// Approval gates sensitive output. Nil uses guard.NewApprovalPolicy().
	Approval *guard.ApprovalPolicy
}

// Specialist is a domain agent node: one model call with its own prompt and
// tool subset per activation.
type Specialist struct {
	name        string
	description string
	instruction Instruction
	tools       *tool.Registry
	invoker     *Invoker
	approval    *guard.ApprovalPolicy
}

// NewSpecialist creates a specialist named name backed by m.
func NewSpecialist(name string, m model.Model, optFns ...func(o *SpecialistOptions)) (*Specialist, error) {
	opts := SpecialistOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if !namePattern.MatchString(name) {
		return nil, core.NewConfigurationError("specialists", "invalid specialist name %q", name)
	}
	if name == core.Finish || name == SupervisorName {
		return nil, core.NewConfigurationError("specialists", "specialist name %q is reserved", name)
	}
	if m == nil && opts.Invoker == nil {
		return nil, core.NewConfigurationError("specialists", "specialist %q has no model", name)
	}
	if opts.Tools != nil && opts.Tools.Has(tool.RouteToolName) {
		return nil, core.NewConfigurationError("specialists", "specialist %q must not bind the %s tool", name, tool.RouteToolName)
	}

	if opts.Approval == nil {
		opts.Approval = guard.NewApprovalPolicy()
	}
	if opts.Invoker == nil {
		opts.Invoker = NewInvoker(m, func(o *InvokerOptions) { o.Approval = opts.Approval })
	}
	if opts.Tools == nil {
		opts.Tools = tool.MustRegistry()
	}
	if opts.Description == "" {
		opts.Description = fmt.Sprintf("Handles %s requests.", name)
	}

	return &Specialist{
		name:        name,
		description: opts.Description,
		instruction: opts.Instruction,
		tools:       opts.Tools,
		invoker:     opts.Invoker,
		approval:    opts.Approval,
	}, nil
}

// Name returns the node name.
func (s *Specialist) Name() string { return s.name }

// Description returns the catalogue entry shown to the supervisor.
func (s *Specialist) Description() string { return s.description }

// Tools returns the specialist's tool subset.
func (s *Specialist) Tools() *tool.Registry { return s.tools }

// WithTools returns a copy whose tool subset also holds extra. Tools
// already registered under the same name are kept.
func (s *Specialist) WithTools(extra ...tool.Tool) (*Specialist, error) {
	for _, t := range extra {
		if t != nil && t.Name() == tool.RouteToolName {
			return nil, core.NewConfigurationError("specialists", "specialist %q must not bind the %s tool", s.name, tool.RouteToolName)
		}
	}
	merged, err := mergeTools(s.tools, extra)
	if err != nil {
		return nil, err
	}
	c := *s
	c.tools = merged
	return &c, nil
}

// Run is the graph node. It invokes the model once with only the
// specialist's tools bound and records the answer. Output carrying the
// approval sentinel (or a sensitive tool call) is parked as a pending
// approval instead.
func (s *Specialist) Run(rc *core.RunContext, st core.State) (core.Update, error) {
	prompt, err := s.instruction.Resolve(rc, st)
	if err != nil {
		return core.Update{}, fmt.Errorf("specialist %s: %w", s.name, err)
	}

	resp, err := s.invoker.Invoke(rc, s.name, model.Request{
		SystemPrompt: prompt,
		Messages:     st.Messages,
		Tools:        Definitions(s.tools),
	})
	if err != nil {
		return core.Update{}, fmt.Errorf("specialist %s: %w", s.name, err)
	}

	msg := core.NewAIMessage(s.name, resp.Text, resp.ToolCalls...)

	u := core.Update{
		Sender:  core.Ptr(s.name),
		Invoked: []string{s.name},
	}
	gate(rc, s.approval, s.name, msg, st, &u)

	return u, nil
}

// gate appends msg to u, routing it through the approval policy first.
func gate(rc *core.RunContext, p *guard.ApprovalPolicy, agent string, msg core.Message, st core.State, u *core.Update) {
	visible, pending := p.Gate(agent, msg, st.PermissionGranted, rc.Now())
	u.Messages = append(u.Messages, visible)
	if pending == nil {
		return
	}

	u.PendingApproval = pending
	u.Status = core.Ptr(core.StatusAwaitingApproval)
	u.FinalResponse = core.Ptr(pending.Prompt)
	rc.LogInfo("approval.required", "agent", agent, "deferred_calls", len(pending.Message.ToolCalls))
}

// Definitions converts a registry into model tool definitions.
func Definitions(r *tool.Registry) []model.ToolDefinition {
	tools := r.Tools()
	if len(tools) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = model.NewToolDefinition(t.Name(), t.Description(), t.Parameters())
	}
	return defs
}
