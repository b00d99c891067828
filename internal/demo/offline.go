package demo

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/model"
	"github.com/shubhambiswas2196/markgraph/tool"
)

var (
	accountPattern = regexp.MustCompile(`act_\d+`)
	rangePattern   = regexp.MustCompile(`\b(7|30|90)\s*(?:d\b|days?)`)
)

// NewOfflineModel returns a deterministic model that plays the supervisor
// and the ads specialist without a provider. The supervisor hands every new
// request to ads and finishes once ads has answered; ads fetches performance
// for the account and range named in the request and echoes the result.
func NewOfflineModel() *model.MockModel {
	m := model.NewMockModel("offline", "mock")
	m.Handler = func(req model.Request) (model.MockResponse, error) {
		if strings.Contains(req.SystemPrompt, "Already invoked this turn: none") {
			return route(AdsAgent, "performance question"), nil
		}
		if strings.Contains(req.SystemPrompt, "Already invoked this turn:") {
			return route(core.Finish, "answered"), nil
		}
		if n := len(req.Messages); n > 0 {
			last := req.Messages[n-1]
			if last.Role == core.RoleTool && last.ToolName != tool.RouteToolName {
				return model.MockResponse{Text: fmt.Sprintf("%s returned: %s", last.ToolName, last.Content)}, nil
			}
		}
		account, period := "act_1001", "30d"
		if input := lastHuman(req.Messages); input != "" {
			if a := accountPattern.FindString(input); a != "" {
				account = a
			}
			if match := rangePattern.FindStringSubmatch(input); match != nil {
				period = match[1] + "d"
			}
		}
		return model.MockResponse{ToolCalls: []core.ToolCall{{
			Name:      "get_performance_data",
			Arguments: map[string]any{"accountId": account, "range": period},
		}}}, nil
	}
	return m
}

func route(next, reasoning string) model.MockResponse {
	return model.MockResponse{ToolCalls: []core.ToolCall{{
		Name:      tool.RouteToolName,
		Arguments: map[string]any{"next": next, "reasoning": reasoning},
	}}}
}

func lastHuman(msgs []core.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == core.RoleHuman {
			return msgs[i].Content
		}
	}
	return ""
}
