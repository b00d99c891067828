package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhambiswas2196/markgraph/core"
)

func TestCollect_StreamsDeltasAndReturnsFinal(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.Enqueue(MockResponse{Text: "hello there world"})

	var deltas []string
	resp, err := Collect(context.Background(), m, Request{Stream: true}, func(s string) {
		deltas = append(deltas, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there world", resp.Text)
	assert.Equal(t, []string{"hello ", "there ", "world"}, deltas)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestCollect_ToolCallsGetIDs(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.Enqueue(MockResponse{ToolCalls: []core.ToolCall{{Name: "lookup", Arguments: map[string]any{"q": "x"}}}})

	resp, err := Collect(context.Background(), m, Request{}, nil)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.NotEmpty(t, resp.ToolCalls[0].ID)
	assert.Equal(t, "tool_calls", resp.FinishReason)
}

func TestCollect_PropagatesError(t *testing.T) {
	m := NewMockModel("mock", "mock")
	boom := errors.New("boom")
	m.Enqueue(MockResponse{Err: boom})

	_, err := Collect(context.Background(), m, Request{}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, m.Calls())
}

func TestMockModel_FallbackResolution(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("hi", "canned")

	resp, err := Collect(context.Background(), m, Request{Messages: []core.Message{core.NewHumanMessage("hi")}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "canned", resp.Text)

	resp, err = Collect(context.Background(), m, Request{Messages: []core.Message{core.NewHumanMessage("other")}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", resp.Text)

	m.Handler = func(req Request) (MockResponse, error) {
		return MockResponse{Text: req.SystemPrompt}, nil
	}
	resp, err = Collect(context.Background(), m, Request{SystemPrompt: "from handler"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "from handler", resp.Text)
	assert.Len(t, m.Requests(), 3)
}

func TestClassifyStatus(t *testing.T) {
	base := errors.New("upstream")

	assert.True(t, core.IsTransient(ClassifyStatus("op", 429, base)))
	assert.True(t, core.IsTransient(ClassifyStatus("op", 503, base)))
	assert.False(t, core.IsTransient(ClassifyStatus("op", 400, base)))
	assert.ErrorIs(t, ClassifyStatus("op", 500, base), base)
	assert.NoError(t, ClassifyStatus("op", 500, nil))
}
