package anthropic

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/model"
)

func TestBuildMessages_MergesToolResultsIntoUserTurn(t *testing.T) {
	c1 := core.ToolCall{ID: "c1", Name: "a"}
	c2 := core.ToolCall{ID: "c2", Name: "b", Arguments: map[string]any{"k": "v"}}

	msgs := BuildMessages([]core.Message{
		core.NewSystemMessage("ignored here"),
		core.NewHumanMessage("go"),
		core.NewAIMessage("ads", "working", c1, c2),
		core.NewToolMessage("ads", c1, "r1", false),
		core.NewToolMessage("ads", c2, "boom", true),
		core.NewAIMessage("ads", "done"),
	})

	require.Len(t, msgs, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Len(t, msgs[1].Content, 3)

	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	require.Len(t, msgs[2].Content, 2)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "c1", msgs[2].Content[0].OfToolResult.ToolUseID)
	assert.Equal(t, "c2", msgs[2].Content[1].OfToolResult.ToolUseID)

	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[3].Role)
}

func TestBuildTools(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{
		model.NewToolDefinition("route", "pick next", map[string]any{
			"type":       "object",
			"properties": map[string]any{"next": map[string]any{"type": "string"}},
			"required":   []any{"next"},
		}),
	})

	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "route", tools[0].OfTool.Name)
	assert.Equal(t, []string{"next"}, tools[0].OfTool.InputSchema.Required)
}

func TestToToolCallAndFinishReason(t *testing.T) {
	tc, err := toToolCall("id", "n", "null")
	require.NoError(t, err)
	assert.Empty(t, tc.Arguments)

	_, err = toToolCall("id", "n", "{")
	assert.Error(t, err)

	assert.Equal(t, "tool_calls", finishReason("tool_use"))
	assert.Equal(t, "stop", finishReason("end_turn"))
	assert.Equal(t, "length", finishReason("max_tokens"))
}
