package agent

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/guard"
	"github.com/shubhambiswas2196/markgraph/model"
	"github.com/shubhambiswas2196/markgraph/tool"
)

// SupervisorName is the node name of the router.
const SupervisorName = "supervisor"

// NoAnswerNotice is the final response when a turn finishes without any text.
const NoAnswerNotice = "I could not produce an answer for this request."

// DefaultSupervisorPreamble opens the supervisor's system prompt.
const DefaultSupervisorPreamble = `You are the supervisor of a team of specialist agents helping a marketing user.
Decide who should act next by calling the route tool, or answer the user directly in plain text when no specialist is needed.`

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	// Preamble replaces DefaultSupervisorPreamble. The specialist catalogue,
	// the turn bookkeeping and the recovered resources are always appended.
	Preamble Instruction
	// Tools are utility tools the supervisor may call directly.
	Tools *tool.Registry
	// Invoker carries the model call policy. It defaults to NewInvoker(m).
	Invoker *Invoker
	// Approval gates sensitive output. Nil uses guard.NewApprovalPolicy().
	Approval *guard.ApprovalPolicy
}

type catalogueEntry struct {
	name        string
	description string
}

// Supervisor is the routing node. Each activation it either names the next
// specialist through the route tool, calls utility tools, or answers.
type Supervisor struct {
	catalogue []catalogueEntry
	names     map[string]struct{}
	preamble  Instruction
	tools     *tool.Registry
	route     tool.Tool
	invoker   *Invoker
	approval  *guard.ApprovalPolicy
}

// NewSupervisor creates a supervisor routing between specialists.
func NewSupervisor(m model.Model, specialists []*Specialist, optFns ...func(o *SupervisorOptions)) (*Supervisor, error) {
	opts := SupervisorOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if m == nil && opts.Invoker == nil {
		return nil, core.NewConfigurationError("supervisor", "no model configured")
	}
	if len(specialists) == 0 {
		return nil, core.NewConfigurationError("specialists", "at least one specialist is required")
	}
	if opts.Tools != nil && opts.Tools.Has(tool.RouteToolName) {
		return nil, core.NewConfigurationError("supervisor", "utility tools must not include %q", tool.RouteToolName)
	}

	s := &Supervisor{
		names:    make(map[string]struct{}, len(specialists)),
		preamble: opts.Preamble,
		tools:    opts.Tools,
		invoker:  opts.Invoker,
		approval: opts.Approval,
	}

	names := make([]string, 0, len(specialists))
	for _, sp := range specialists {
		if sp == nil {
			return nil, core.NewConfigurationError("specialists", "nil specialist")
		}
		if _, dup := s.names[sp.Name()]; dup {
			return nil, core.NewConfigurationError("specialists", "duplicate specialist %q", sp.Name())
		}
		s.names[sp.Name()] = struct{}{}
		s.catalogue = append(s.catalogue, catalogueEntry{name: sp.Name(), description: sp.Description()})
		names = append(names, sp.Name())
	}
	s.route = tool.NewRouteTool(names)

	if s.approval == nil {
		s.approval = guard.NewApprovalPolicy()
	}
	if s.invoker == nil {
		s.invoker = NewInvoker(m, func(o *InvokerOptions) { o.Approval = s.approval })
	}
	if s.tools == nil {
		s.tools = tool.MustRegistry()
	}
	if s.preamble.IsZero() {
		s.preamble = NewInstructionFromText(DefaultSupervisorPreamble)
	}

	return s, nil
}

// Name returns the node name.
func (s *Supervisor) Name() string { return SupervisorName }

// Tools returns the utility tools. The route tool is never dispatched and is
// not part of this registry.
func (s *Supervisor) Tools() *tool.Registry { return s.tools }

// Specialists returns the routable specialist names in catalogue order.
func (s *Supervisor) Specialists() []string {
	out := make([]string, len(s.catalogue))
	for i, e := range s.catalogue {
		out[i] = e.name
	}
	return out
}

// WithTools returns a copy whose utility registry also holds extra. Tools
// already registered under the same name are kept.
func (s *Supervisor) WithTools(extra ...tool.Tool) (*Supervisor, error) {
	merged, err := mergeTools(s.tools, extra)
	if err != nil {
		return nil, err
	}
	c := *s
	c.tools = merged
	return &c, nil
}

// Run is the graph node.
func (s *Supervisor) Run(rc *core.RunContext, st core.State) (core.Update, error) {
	prompt, err := s.systemPrompt(rc, st)
	if err != nil {
		return core.Update{}, fmt.Errorf("supervisor: %w", err)
	}

	defs := append([]model.ToolDefinition{
		model.NewToolDefinition(s.route.Name(), s.route.Description(), s.route.Parameters()),
	}, Definitions(s.tools)...)

	resp, err := s.invoker.Invoke(rc, SupervisorName, model.Request{
		SystemPrompt: prompt,
		Messages:     st.Messages,
		Tools:        defs,
	})
	if err != nil {
		return core.Update{}, fmt.Errorf("supervisor: %w", err)
	}

	// An empty decision sends control back to the supervisor unless the
	// recorded message carries tool calls or a pending approval.
	u := core.Update{
		Sender: core.Ptr(SupervisorName),
		Route:  &core.RoutingDecision{},
	}

	var routes, others []core.ToolCall
	for _, tc := range resp.ToolCalls {
		if tc.Name == tool.RouteToolName {
			routes = append(routes, tc)
		} else {
			others = append(others, tc)
		}
	}

	switch {
	case len(routes) > 0:
		if len(others) > 0 {
			rc.LogWarn("supervisor.calls.dropped", "reason", "route requested", "count", len(others))
		}
		// A sentinel next to a route holds the route. The route calls are not
		// recorded; once approved the supervisor runs again and routes anew.
		if text := core.NewAIMessage(SupervisorName, resp.Text); s.approval.Requires(text, st.PermissionGranted) {
			rc.LogInfo("supervisor.route.held", "next", routes[0].Arguments["next"])
			gate(rc, s.approval, SupervisorName, text, st, &u)
			break
		}
		s.applyRoute(rc, st, resp.Text, routes, &u)

	case len(others) > 0:
		gate(rc, s.approval, SupervisorName, core.NewAIMessage(SupervisorName, resp.Text, others...), st, &u)

	default:
		gate(rc, s.approval, SupervisorName, core.NewAIMessage(SupervisorName, resp.Text), st, &u)
		if u.PendingApproval != nil {
			break
		}
		s.finish(rc, st, core.RoutingDecision{Next: core.Finish, Reasoning: "answered directly"}, s.approval.Strip(resp.Text), &u)
	}

	return u, nil
}

// applyRoute records the route calls with their acknowledgements. Only the
// first call is honoured.
func (s *Supervisor) applyRoute(rc *core.RunContext, st core.State, text string, routes []core.ToolCall, u *core.Update) {
	u.Messages = append(u.Messages, core.NewAIMessage(SupervisorName, s.approval.Strip(text), routes...))

	decision, problem := s.decide(routes[0])
	if problem != "" {
		rc.LogWarn("supervisor.route.invalid", "problem", problem)
		u.Messages = append(u.Messages, core.NewToolMessage(SupervisorName, routes[0], problem, true))
	} else {
		ack := fmt.Sprintf("Routing to %s.", decision.Next)
		if decision.Next == core.Finish {
			ack = "Finishing the turn."
		}
		u.Messages = append(u.Messages, core.NewToolMessage(SupervisorName, routes[0], ack, false))
	}

	for _, extra := range routes[1:] {
		u.Messages = append(u.Messages, core.NewToolMessage(SupervisorName, extra, "Ignored: only one route per turn is honoured.", true))
	}

	if problem != "" {
		return
	}

	if decision.Next == core.Finish {
		s.finish(rc, st, decision, s.approval.Strip(text), u)
		return
	}

	u.Route = &decision
	rc.LogInfo("supervisor.route", "next", decision.Next, "reasoning", decision.Reasoning)
	rc.EmitBestEffort(core.NewRoutingDecisionEvent(SupervisorName, decision))
}

// decide validates a route call. A non-empty problem is the error content
// returned to the model.
func (s *Supervisor) decide(tc core.ToolCall) (core.RoutingDecision, string) {
	d, err := tool.ParseRoute(tc.Arguments)
	if err != nil {
		return core.RoutingDecision{}, fmt.Sprintf("Error [%s] from %s: %s", tool.CodeValidation, tool.RouteToolName, err.Error())
	}
	if d.Next == core.Finish {
		return d, ""
	}
	if _, ok := s.names[d.Next]; !ok {
		return core.RoutingDecision{}, fmt.Sprintf("Unknown specialist %q. Choose one of: %s.", d.Next, strings.Join(append(s.Specialists(), core.Finish), ", "))
	}
	return d, ""
}

func (s *Supervisor) finish(rc *core.RunContext, st core.State, d core.RoutingDecision, text string, u *core.Update) {
	final := text
	if final == "" {
		final = st.LastAIText()
	}
	if final == "" {
		final = NoAnswerNotice
	}

	u.Route = &d
	u.FinalResponse = core.Ptr(final)
	u.Status = core.Ptr(core.StatusCompleted)
	rc.EmitBestEffort(core.NewRoutingDecisionEvent(SupervisorName, d))
}

func (s *Supervisor) systemPrompt(rc *core.RunContext, st core.State) (string, error) {
	preamble, err := s.preamble.Resolve(rc, st)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(preamble))

	b.WriteString("\n\nSpecialists:\n")
	for _, e := range s.catalogue {
		fmt.Fprintf(&b, "- %s: %s\n", e.name, e.description)
	}

	b.WriteString("\nAlready invoked this turn: ")
	if len(st.Invoked) == 0 {
		b.WriteString("none")
	} else {
		b.WriteString(strings.Join(st.Invoked, ", "))
	}
	b.WriteString("\n")

	if len(st.Resources) > 0 {
		b.WriteString("\nKnown resources:\n")
		for _, k := range slices.Sorted(maps.Keys(st.Resources)) {
			fmt.Fprintf(&b, "- %s: %s\n", k, st.Resources[k])
		}
	}

	fmt.Fprintf(&b, `
Rules:
- Call %[1]s with next set to a specialist to delegate, or next=%[2]s once the request is fully answered.
- Do not send work back to a specialist that already answered this turn unless the user asked for something it has not covered.
- If a specialist's answer already satisfies the request, route to %[2]s instead of repeating the work.
- Pass identifiers you already know (see Known resources) instead of asking the user again.
`, tool.RouteToolName, core.Finish)

	return b.String(), nil
}

func mergeTools(base *tool.Registry, extra []tool.Tool) (*tool.Registry, error) {
	var add []tool.Tool
	for _, t := range extra {
		if t != nil && !base.Has(t.Name()) {
			add = append(add, t)
		}
	}
	if len(add) == 0 {
		return base, nil
	}
	return base.Merge(add...)
}
