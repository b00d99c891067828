package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/tool"
)

func call(name, account string) core.ToolCall {
	return core.ToolCall{ID: core.NewID(), Name: name, Arguments: map[string]any{"account": account}}
}

func aiWith(calls ...core.ToolCall) core.Message {
	return core.NewAIMessage("ads", "", calls...)
}

func TestLoopGuard_DetectsRepeatTwoTurnsBack(t *testing.T) {
	g := NewLoopGuard(0)
	a1, b, a2 := call("get_campaigns", "x"), call("get_performance", "x"), call("get_campaigns", "x")

	turn := []core.Message{
		core.NewHumanMessage("go"),
		aiWith(a1),
		core.NewToolMessage("ads", a1, "r", false),
		aiWith(b),
		core.NewToolMessage("ads", b, "r", false),
		aiWith(a2),
	}

	err := g.Check(turn, []core.ToolCall{a2})
	assert.ErrorIs(t, err, core.ErrLoopDetected)
}

func TestLoopGuard_DifferentArgumentsPass(t *testing.T) {
	g := NewLoopGuard(2)
	a1, b, a2 := call("get_campaigns", "x"), call("get_performance", "x"), call("get_campaigns", "y")

	turn := []core.Message{aiWith(a1), aiWith(b), aiWith(a2)}
	assert.NoError(t, g.Check(turn, []core.ToolCall{a2}))
}

func TestLoopGuard_ImmediateRepeatIsNotTwoBack(t *testing.T) {
	g := NewLoopGuard(2)
	a1, a2 := call("get_campaigns", "x"), call("get_campaigns", "x")

	assert.NoError(t, g.Check([]core.Message{aiWith(a1), aiWith(a2)}, []core.ToolCall{a2}))

	// a window of 1 catches it
	assert.ErrorIs(t, NewLoopGuard(1).Check([]core.Message{aiWith(a1), aiWith(a2)}, []core.ToolCall{a2}), core.ErrLoopDetected)
}

func TestLoopGuard_IgnoresRouteCalls(t *testing.T) {
	g := NewLoopGuard(2)
	route := func() core.ToolCall {
		return core.ToolCall{ID: core.NewID(), Name: tool.RouteToolName, Arguments: map[string]any{"next": "ads"}}
	}
	a := call("get_campaigns", "x")

	turn := []core.Message{
		core.NewAIMessage("supervisor", "", route()),
		aiWith(a),
		core.NewAIMessage("supervisor", "", route()),
	}
	assert.NoError(t, g.Check(turn, turn[2].ToolCalls))
}

func TestLoopGuard_BatchMatchesAnyCall(t *testing.T) {
	g := NewLoopGuard(2)
	a, b, c := call("a", "1"), call("b", "1"), call("c", "1")

	turn := []core.Message{aiWith(a, b), aiWith(c), aiWith(call("d", "1"), call("b", "1"))}
	assert.ErrorIs(t, g.Check(turn, turn[2].ToolCalls), core.ErrLoopDetected)
}

func TestLoopResponse(t *testing.T) {
	turn := []core.Message{
		core.NewHumanMessage("go"),
		core.NewAIMessage("ads", "Checking campaigns now."),
		aiWith(call("a", "1")),
	}
	assert.Equal(t, "Checking campaigns now.", LoopResponse(turn))
	assert.Equal(t, StuckLoopNotice, LoopResponse(turn[:1]))
}

func TestApprovalPolicy_SentinelGatesAndStrips(t *testing.T) {
	p := NewApprovalPolicy()
	pause := call("update_budget", "x")
	msg := core.NewAIMessage("ads", "I will raise the budget. "+DefaultSentinel, pause)
	now := time.Unix(10, 0)

	visible, pending := p.Gate("ads", msg, false, now)
	require.NotNil(t, pending)
	assert.Equal(t, "I will raise the budget.", visible.Content)
	assert.Empty(t, visible.ToolCalls)

	assert.Equal(t, "ads", pending.Agent)
	assert.Equal(t, "I will raise the budget.", pending.Prompt)
	require.Len(t, pending.Message.ToolCalls, 1)
	assert.Equal(t, pause.ID, pending.Message.ToolCalls[0].ID)
	assert.NotEqual(t, visible.ID, pending.Message.ID)
	assert.Equal(t, now, pending.RequestedAt)
}

func TestApprovalPolicy_GrantedPassesThrough(t *testing.T) {
	p := NewApprovalPolicy()
	msg := core.NewAIMessage("ads", DefaultSentinel+" go", call("update_budget", "x"))

	visible, pending := p.Gate("ads", msg, true, time.Now())
	assert.Nil(t, pending)
	assert.Equal(t, "go", visible.Content)
	assert.Len(t, visible.ToolCalls, 1)
}

func TestApprovalPolicy_SensitiveTools(t *testing.T) {
	p := NewApprovalPolicy(func(o *ApprovalOptions) {
		o.Sentinel = "<<ASK>>"
		o.SensitiveTools = []string{"delete_sheet"}
	})

	assert.True(t, p.Requires(core.NewAIMessage("sheets", "", call("delete_sheet", "1")), false))
	assert.False(t, p.Requires(core.NewAIMessage("sheets", "", call("read_sheet", "1")), false))
	assert.False(t, p.Requires(core.NewAIMessage("sheets", DefaultSentinel), false))
	assert.True(t, p.Requires(core.NewAIMessage("sheets", "<<ASK>>"), false))

	_, pending := p.Gate("sheets", core.NewAIMessage("sheets", "", call("delete_sheet", "1")), false, time.Now())
	require.NotNil(t, pending)
	assert.Equal(t, "Approval is required to run: delete_sheet.", pending.Prompt)
}
