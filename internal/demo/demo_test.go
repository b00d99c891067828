package demo

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/engine"
	"github.com/shubhambiswas2196/markgraph/model"
	"github.com/shubhambiswas2196/markgraph/tool"
)

// scriptedTeam answers as the supervisor or the ads specialist depending on
// the system prompt it receives.
func scriptedTeam(adsTurn func(req model.Request) model.MockResponse) *model.MockModel {
	m := model.NewMockModel("demo", "test")
	m.Handler = func(req model.Request) (model.MockResponse, error) {
		switch {
		case strings.Contains(req.SystemPrompt, "Already invoked this turn: none"):
			return model.MockResponse{ToolCalls: []core.ToolCall{{
				Name:      tool.RouteToolName,
				Arguments: map[string]any{"next": AdsAgent, "reasoning": "ads question"},
			}}}, nil
		case strings.Contains(req.SystemPrompt, "supervisor"):
			return model.MockResponse{ToolCalls: []core.ToolCall{{
				Name:      tool.RouteToolName,
				Arguments: map[string]any{"next": core.Finish},
			}}}, nil
		default:
			return adsTurn(req), nil
		}
	}
	return m
}

// lastIsTool reports whether the specialist is answering its own tool results
// rather than a fresh hand-off from the supervisor.
func lastIsTool(req model.Request) bool {
	n := len(req.Messages)
	if n == 0 {
		return false
	}
	last := req.Messages[n-1]
	return last.Role == core.RoleTool && last.ToolName != tool.RouteToolName
}

func newEngine(t *testing.T, m model.Model, ads *Ads) *engine.Engine {
	t.Helper()
	sup, specialists, err := NewTeam(m, func(o *TeamOptions) { o.Ads = ads })
	require.NoError(t, err)
	eng, err := engine.New(sup, specialists)
	require.NoError(t, err)
	return eng
}

func TestPerformanceScenario(t *testing.T) {
	const summary = "Over the last 30 days act_1001 spent on two active campaigns with a steady CTR."

	var prompts []string
	m := scriptedTeam(func(req model.Request) model.MockResponse {
		prompts = append(prompts, req.SystemPrompt)
		if lastIsTool(req) {
			return model.MockResponse{Text: summary}
		}
		return model.MockResponse{ToolCalls: []core.ToolCall{{
			Name:      "get_performance_data",
			Arguments: map[string]any{"accountId": "act_1001", "range": "30d"},
		}}}
	})
	ads := NewAds()
	eng := newEngine(t, m, ads)
	ctx := context.Background()

	res, err := eng.InvokeSync(ctx, "t1", engine.Input{Message: "Fetch last 30 days performance for account act_1001"})
	require.NoError(t, err)
	assert.Equal(t, summary, res.Response)
	assert.Equal(t, int64(1), ads.PerformanceCalls.Load())

	var routes []string
	for _, ev := range res.Events {
		if ev.Type == core.EventRoutingDecision {
			routes = append(routes, ev.Route.Next)
		}
	}
	assert.Equal(t, []string{AdsAgent, core.Finish}, routes)

	st, _ := eng.State(ctx, "t1")
	assert.Equal(t, "act_1001", st.Resources["account_id"])

	res, err = eng.InvokeSync(ctx, "t1", engine.Input{Message: "Fetch last 30 days performance for account act_1001"})
	require.NoError(t, err)
	assert.Equal(t, summary, res.Response)
	assert.Equal(t, int64(1), ads.PerformanceCalls.Load())
	assert.Contains(t, prompts[len(prompts)-1], "Active account: act_1001")
}

func TestEvictedReportIsReadable(t *testing.T) {
	m := scriptedTeam(func(req model.Request) model.MockResponse {
		if !lastIsTool(req) {
			return model.MockResponse{ToolCalls: []core.ToolCall{{
				Name:      "export_daily_report",
				Arguments: map[string]any{"accountId": "act_1001", "range": "90d"},
			}}}
		}
		last := req.Messages[len(req.Messages)-1]
		if last.Evicted {
			return model.MockResponse{ToolCalls: []core.ToolCall{{
				Name:      tool.ReadFullResultToolName,
				Arguments: map[string]any{"ref": last.FullContentRef, "offset": float64(1000), "limit": float64(200)},
			}}}
		}
		return model.MockResponse{Text: "Read: " + last.Content[:20]}
	})
	eng := newEngine(t, m, NewAds())

	res, err := eng.InvokeSync(context.Background(), "t1", engine.Input{Message: "Export the 90 day report"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Response, "Read: "))

	st, _ := eng.State(context.Background(), "t1")
	var evicted, page int
	for _, msg := range st.Messages {
		if msg.Role != core.RoleTool {
			continue
		}
		if msg.Evicted {
			evicted++
			assert.Contains(t, msg.Content, "Result truncated")
		}
		if msg.ToolName == tool.ReadFullResultToolName {
			page++
			assert.Contains(t, msg.Content, "call read_full_result again with offset=1200")
		}
	}
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, page)
}

func TestPauseNeedsApproval(t *testing.T) {
	m := scriptedTeam(func(req model.Request) model.MockResponse {
		if lastIsTool(req) {
			return model.MockResponse{Text: "Campaign cmp_1 is now paused."}
		}
		return model.MockResponse{
			Text: "I will pause Spring Sale (cmp_1).",
			ToolCalls: []core.ToolCall{{
				Name:      "pause_campaign",
				Arguments: map[string]any{"accountId": "act_1001", "campaignId": "cmp_1"},
			}},
		}
	})
	ads := NewAds()
	eng := newEngine(t, m, ads)
	ctx := context.Background()

	res, err := eng.InvokeSync(ctx, "t1", engine.Input{Message: "Pause the spring sale"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusAwaitingApproval, res.Status)
	assert.Equal(t, "I will pause Spring Sale (cmp_1).", res.Response)

	active, err := ads.Campaigns("act_1001", "active")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	res, err = eng.InvokeSync(ctx, "t1", engine.Input{Approval: &engine.ApprovalDecision{Approved: true}})
	require.NoError(t, err)
	assert.Equal(t, "Campaign cmp_1 is now paused.", res.Response)

	active, err = ads.Campaigns("act_1001", "active")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSheets(t *testing.T) {
	s := NewSheets()
	doc := s.Create("Report")

	n, err := s.Append(doc.ID, [][]string{{"a", "b"}, {"c", "d"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.Read(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Report", got.Title)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, got.Rows)

	_, err = s.Append("missing", nil)
	assert.Error(t, err)
}

func TestAds_Deterministic(t *testing.T) {
	a := NewAds()
	p1, err := a.Performance("act_1001", "30d")
	require.NoError(t, err)
	p2, err := a.Performance("act_1001", "30d")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Len(t, p1.Campaigns, 3)

	_, err = a.Performance("act_1001", "1y")
	assert.Error(t, err)

	report, err := a.DailyReport("act_1001", "90d")
	require.NoError(t, err)
	assert.Greater(t, len(report), 15000)
}

func TestOfflineModel(t *testing.T) {
	ads := NewAds()
	eng := newEngine(t, NewOfflineModel(), ads)

	res, err := eng.InvokeSync(context.Background(), "t1", engine.Input{Message: "How did act_2002 do over the last 7 days?"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, res.Status)
	assert.True(t, strings.HasPrefix(res.Response, "get_performance_data returned: "))
	assert.Contains(t, res.Response, "act_2002")
	assert.Equal(t, int64(1), ads.PerformanceCalls.Load())
}
