package engine

import (
	"fmt"

	"github.com/shubhambiswas2196/markgraph/agent"
	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/graph"
	"github.com/shubhambiswas2196/markgraph/guard"
	"github.com/shubhambiswas2196/markgraph/metrics"
	"github.com/shubhambiswas2196/markgraph/tool"
	"github.com/shubhambiswas2196/markgraph/toolexec"
)

// ToolsNode is the node that executes pending tool calls.
const ToolsNode = "tools"

// InterruptedNotice answers a tool call left unanswered by an aborted turn.
const InterruptedNotice = "Error [CANCELLED] from %s: the call was interrupted before it completed and was not retried."

// LoopSuppressedNotice answers a tool call withheld by the loop guard.
const LoopSuppressedNotice = "Error [LOOP_DETECTED] from %s: not executed because it repeats an earlier call without progress."

// buildGraph wires the supervisor, the specialists and the tools node:
//
//	supervisor -> specialist | tools | supervisor | END
//	specialist -> tools | supervisor | END
//	tools      -> the requesting agent | END
func (e *Engine) buildGraph(sup *agent.Supervisor, specialists []*agent.Specialist) (*graph.Compiled, error) {
	g := graph.New().
		AddNode(agent.SupervisorName, sup.Run).
		AddNode(ToolsNode, e.runTools).
		SetEntry(agent.SupervisorName)

	agents := []string{agent.SupervisorName}
	fromSupervisor := []string{ToolsNode, agent.SupervisorName, graph.END}

	for _, sp := range specialists {
		g.AddNode(sp.Name(), sp.Run).
			AddConditionalEdge(sp.Name(), routeSpecialist, ToolsNode, agent.SupervisorName, graph.END)
		agents = append(agents, sp.Name())
		fromSupervisor = append(fromSupervisor, sp.Name())
	}

	g.AddConditionalEdge(agent.SupervisorName, routeSupervisor, fromSupervisor...).
		AddConditionalEdge(ToolsNode, routeTools, append(agents, graph.END)...)

	return g.Compile()
}

// pendingCalls returns the last message when it is an AI message awaiting
// tool results.
func pendingCalls(st core.State) (core.Message, bool) {
	last, ok := st.LastMessage()
	if !ok || last.Role != core.RoleAI || !last.HasToolCalls() {
		return core.Message{}, false
	}
	return last, true
}

func routeSupervisor(st core.State) string {
	if st.PendingApproval != nil || st.Status == core.StatusCompleted {
		return graph.END
	}
	if _, ok := pendingCalls(st); ok {
		return ToolsNode
	}
	if st.Route == nil || st.Route.Next == "" {
		return agent.SupervisorName
	}
	if st.Route.Next == core.Finish {
		return graph.END
	}
	return st.Route.Next
}

func routeSpecialist(st core.State) string {
	if st.PendingApproval != nil || st.Status == core.StatusCompleted {
		return graph.END
	}
	if _, ok := pendingCalls(st); ok {
		return ToolsNode
	}
	return agent.SupervisorName
}

func routeTools(st core.State) string {
	if st.Status == core.StatusCompleted {
		return graph.END
	}
	return st.Sender
}

// runTools dispatches the pending calls of the last AI message through the
// requesting agent's executor, after the loop guard had its say.
func (e *Engine) runTools(rc *core.RunContext, st core.State) (core.Update, error) {
	msg, ok := pendingCalls(st)
	if !ok {
		return core.Update{}, fmt.Errorf("%s: no pending tool calls", ToolsNode)
	}

	requester := msg.Author
	if requester == "" {
		requester = st.Sender
	}

	exec, ok := e.executors[requester]
	if !ok {
		return core.Update{}, core.NewConfigurationError("tools", "no executor for agent %q", requester)
	}

	if err := e.loop.Check(st.TurnMessages(), msg.ToolCalls); err != nil {
		return e.suppressLoop(rc, st, requester, msg.ToolCalls, err), nil
	}

	res, err := exec.Execute(rc, st, requester, msg.ToolCalls)
	if err != nil {
		return core.Update{}, err
	}

	return core.Update{
		Messages:  res.Messages,
		Sender:    core.Ptr(requester),
		Cache:     res.Cache,
		Resources: res.Resources,
	}, nil
}

// suppressLoop answers the withheld calls and ends the turn with the latest
// AI text.
func (e *Engine) suppressLoop(rc *core.RunContext, st core.State, requester string, calls []core.ToolCall, cause error) core.Update {
	metrics.LoopDetections.Inc()
	rc.LogWarn("guard.loop_detected", "agent", requester, "code", core.ErrorCode(cause), "error", cause.Error())

	msgs := make([]core.Message, len(calls))
	for i, tc := range calls {
		msgs[i] = core.NewToolMessage(requester, tc, fmt.Sprintf(LoopSuppressedNotice, tc.Name), true)
		rc.EmitBestEffort(core.NewToolCompletedEvent(requester, tc, msgs[i], false))
	}

	return core.Update{
		Messages:      msgs,
		Sender:        core.Ptr(requester),
		FinalResponse: core.Ptr(guard.LoopResponse(st.TurnMessages())),
		Status:        core.Ptr(core.StatusCompleted),
	}
}

// danglingAnswers returns error tool messages for every call of the history
// that never received a result, so the next model request stays valid.
func danglingAnswers(st core.State) []core.Message {
	answered := map[string]struct{}{}
	for _, m := range st.Messages {
		if m.Role == core.RoleTool {
			answered[m.ToolCallID] = struct{}{}
		}
	}

	var out []core.Message
	for _, m := range st.Messages {
		if m.Role != core.RoleAI {
			continue
		}
		for _, tc := range m.ToolCalls {
			if _, ok := answered[tc.ID]; !ok {
				out = append(out, core.NewToolMessage(m.Author, tc, fmt.Sprintf(InterruptedNotice, tc.Name), true))
			}
		}
	}
	return out
}

// newExecutor builds the executor of one agent.
func (e *Engine) newExecutor(name string, tools *tool.Registry) *toolexec.Executor {
	opts := append([]func(o *toolexec.Options){}, e.opts.ToolOptions...)
	if e.opts.Tracer != nil {
		opts = append(opts, func(o *toolexec.Options) { o.Tracer = e.opts.Tracer })
	}
	e.logger.Debug("engine.executor", "agent", name, "tools", tools.Names())
	return toolexec.New(tools, e.blobs, opts...)
}
