package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_ApplyReducers(t *testing.T) {
	s := NewState("t1")
	s.Resources["account_id"] = "42"
	s.Cache["k1"] = CacheEntry{Value: "v1", InsertedAt: time.Unix(100, 0)}

	u := Update{
		Messages:  []Message{NewAIMessage("supervisor", "hello")},
		Sender:    Ptr("supervisor"),
		Invoked:   []string{"ads", "ads"},
		Cache:     map[string]CacheEntry{"k2": {Value: "v2"}},
		Resources: map[string]string{"spreadsheet_id": "sheet-1"},
		Route:     &RoutingDecision{Next: "ads"},
		Status:    Ptr(StatusRunning),
	}

	n := s.Apply(u)

	require.Len(t, n.Messages, 1)
	assert.Equal(t, "hello", n.Messages[0].Content)
	assert.Equal(t, "supervisor", n.Sender)
	assert.Equal(t, []string{"ads"}, n.Invoked)
	assert.Len(t, n.Cache, 2)
	assert.Equal(t, "42", n.Resources["account_id"])
	assert.Equal(t, "sheet-1", n.Resources["spreadsheet_id"])
	assert.Equal(t, "ads", n.Route.Next)
	assert.Equal(t, StatusRunning, n.Status)

	// Original state is untouched.
	assert.Empty(t, s.Messages)
	assert.Len(t, s.Cache, 1)
	assert.NotContains(t, s.Resources, "spreadsheet_id")
}

func TestState_ApplyLeavesUnsetScalars(t *testing.T) {
	s := NewState("t1")
	s.PermissionGranted = true
	s.FinalResponse = "done"

	n := s.Apply(Update{Messages: []Message{NewHumanMessage("x")}})

	assert.True(t, n.PermissionGranted)
	assert.Equal(t, "done", n.FinalResponse)

	n = n.Apply(Update{PermissionGranted: Ptr(false), FinalResponse: Ptr("")})
	assert.False(t, n.PermissionGranted)
	assert.Empty(t, n.FinalResponse)
}

func TestState_PendingApprovalSetAndClear(t *testing.T) {
	s := NewState("t1")
	pa := &PendingApproval{Agent: "ads", Message: NewAIMessage("ads", "", ToolCall{ID: "c1", Name: "pause_campaign"})}

	n := s.Apply(Update{PendingApproval: pa})
	require.NotNil(t, n.PendingApproval)
	assert.Equal(t, "pause_campaign", n.PendingApproval.Message.ToolCalls[0].Name)

	n = n.Apply(Update{ClearPendingApproval: true})
	assert.Nil(t, n.PendingApproval)
}

func TestState_CloneIsDeep(t *testing.T) {
	s := NewState("t1")
	s.Messages = append(s.Messages, NewAIMessage("ads", "", ToolCall{ID: "c1", Name: "list", Arguments: map[string]any{"a": map[string]any{"b": 1}}}))

	c := s.Clone()
	c.Messages[0].ToolCalls[0].Arguments["a"].(map[string]any)["b"] = 2
	c.Resources["x"] = "y"

	assert.Equal(t, 1, s.Messages[0].ToolCalls[0].Arguments["a"].(map[string]any)["b"])
	assert.NotContains(t, s.Resources, "x")
}

func TestState_BeginTurnResetsPerTurnFields(t *testing.T) {
	s := NewState("t1")
	s = s.BeginTurn(NewHumanMessage("first"))
	s = s.Apply(Update{
		Messages:          []Message{NewAIMessage("supervisor", "answer")},
		Invoked:           []string{"ads"},
		PermissionGranted: Ptr(true),
		FinalResponse:     Ptr("answer"),
		Status:            Ptr(StatusCompleted),
	})

	n := s.BeginTurn(NewHumanMessage("second"))

	assert.Equal(t, 2, n.Turn)
	assert.Equal(t, 2, n.TurnStart)
	assert.Len(t, n.Messages, 3)
	assert.Empty(t, n.Invoked)
	assert.False(t, n.PermissionGranted)
	assert.Empty(t, n.FinalResponse)
	assert.Equal(t, StatusRunning, n.Status)
	require.Len(t, n.TurnMessages(), 1)
	assert.Equal(t, "second", n.TurnMessages()[0].Content)
}

func TestState_LastAITextScopedToTurn(t *testing.T) {
	s := NewState("t1").BeginTurn(NewHumanMessage("q1"))
	s = s.Apply(Update{Messages: []Message{NewAIMessage("ads", "old answer")}})
	s = s.BeginTurn(NewHumanMessage("q2"))

	assert.Empty(t, s.LastAIText())

	s = s.Apply(Update{Messages: []Message{NewAIMessage("ads", "new answer"), NewAIMessage("ads", "", ToolCall{ID: "c", Name: "x"})}})
	assert.Equal(t, "new answer", s.LastAIText())
}

func TestCacheEntry_Fresh(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	e := CacheEntry{InsertedAt: base}

	assert.True(t, e.Fresh(base.Add(4*time.Minute), 5*time.Minute))
	assert.False(t, e.Fresh(base.Add(5*time.Minute), 5*time.Minute))
	assert.False(t, e.Fresh(base.Add(6*time.Minute), 5*time.Minute))
}
