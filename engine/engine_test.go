package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhambiswas2196/markgraph/agent"
	"github.com/shubhambiswas2196/markgraph/artifact"
	"github.com/shubhambiswas2196/markgraph/checkpoint"
	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/guard"
	"github.com/shubhambiswas2196/markgraph/internal/testutil"
	"github.com/shubhambiswas2196/markgraph/model"
	"github.com/shubhambiswas2196/markgraph/tool"
)

type fixture struct {
	sup    *model.MockModel
	ads    *model.MockModel
	sheets *model.MockModel

	store checkpoint.Store
	blobs *artifact.InMemoryStore

	listCalls  atomic.Int32
	pauseCalls atomic.Int32
}

func newFixture() *fixture {
	return &fixture{
		sup:    model.NewMockModel("supervisor", "test"),
		ads:    model.NewMockModel("ads", "test"),
		sheets: model.NewMockModel("sheets", "test"),
		store:  checkpoint.NewMemoryStore(),
		blobs:  artifact.NewInMemoryStore(),
	}
}

func (f *fixture) engine(t *testing.T, optFns ...func(o *Options)) *Engine {
	t.Helper()

	list := tool.NewFunctionTool("list_campaigns", "List campaigns", map[string]any{"type": "object"},
		func(*core.ToolContext, map[string]any) (any, error) {
			f.listCalls.Add(1)
			return `[{"id":"42","name":"Spring"},{"id":"43","name":"Summer"}]`, nil
		})
	pause := tool.NewFunctionTool("pause_campaign", "Pause a campaign", map[string]any{"type": "object"},
		func(*core.ToolContext, map[string]any) (any, error) {
			f.pauseCalls.Add(1)
			return "paused", nil
		})
	report := tool.NewFunctionTool("export_report", "Export a large report", map[string]any{"type": "object"},
		func(*core.ToolContext, map[string]any) (any, error) {
			return strings.Repeat("row;", 5000), nil
		})

	ads, err := agent.NewSpecialist("ads", f.ads, func(o *agent.SpecialistOptions) {
		o.Description = "Manages ad campaigns"
		o.Tools = tool.MustRegistry(list, pause)
	})
	require.NoError(t, err)

	sheets, err := agent.NewSpecialist("sheets", f.sheets, func(o *agent.SpecialistOptions) {
		o.Description = "Works with spreadsheets"
		o.Tools = tool.MustRegistry(report)
	})
	require.NoError(t, err)

	sup, err := agent.NewSupervisor(f.sup, []*agent.Specialist{ads, sheets})
	require.NoError(t, err)

	opts := append([]func(o *Options){func(o *Options) {
		o.Checkpoints = f.store
		o.Blobs = f.blobs
	}}, optFns...)

	eng, err := New(sup, []*agent.Specialist{ads, sheets}, opts...)
	require.NoError(t, err)
	return eng
}

func route(id, next string) model.MockResponse {
	return model.MockResponse{ToolCalls: []core.ToolCall{testutil.Call(id, tool.RouteToolName, "next", next)}}
}

func calls(tcs ...core.ToolCall) model.MockResponse {
	return model.MockResponse{ToolCalls: tcs}
}

func countEvents(events []core.Event, typ core.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestEngine_Nodes(t *testing.T) {
	eng := newFixture().engine(t)
	assert.ElementsMatch(t, []string{agent.SupervisorName, ToolsNode, "ads", "sheets"}, eng.Nodes())
}

func TestEngine_RoutesToSpecialistAndFinishes(t *testing.T) {
	f := newFixture()
	f.sup.Enqueue(route("r1", "ads"), route("r2", core.Finish))
	f.ads.Enqueue(
		calls(testutil.Call("c1", "list_campaigns")),
		model.MockResponse{Text: "Two campaigns are active."},
	)
	eng := f.engine(t)

	res, err := eng.InvokeSync(context.Background(), "t1", Input{Message: "Which campaigns run?"})
	require.NoError(t, err)

	assert.Equal(t, "Two campaigns are active.", res.Response)
	assert.Equal(t, core.StatusCompleted, res.Status)
	assert.NotEmpty(t, res.InvocationID)
	assert.Equal(t, int32(1), f.listCalls.Load())

	assert.Equal(t, 2, countEvents(res.Events, core.EventRoutingDecision))
	assert.Equal(t, 1, countEvents(res.Events, core.EventToolStarted))
	assert.Equal(t, 1, countEvents(res.Events, core.EventToolCompleted))
	assert.Greater(t, countEvents(res.Events, core.EventTextDelta), 0)

	last := res.Events[len(res.Events)-1]
	assert.Equal(t, core.EventTurnComplete, last.Type)
	assert.True(t, last.IsTerminal())

	st, found := eng.State(context.Background(), "t1")
	require.True(t, found)
	assert.Equal(t, core.StatusCompleted, st.Status)
	assert.Equal(t, []string{"ads"}, st.Invoked)
	require.NoError(t, core.ValidateHistory(st.Messages))

	adsReq := f.ads.Requests()[0]
	var names []string
	for _, d := range adsReq.Tools {
		names = append(names, d.Function.Name)
	}
	assert.ElementsMatch(t, []string{"list_campaigns", "pause_campaign", tool.ReadFullResultToolName}, names)
}

func TestEngine_CachedResultAcrossTurns(t *testing.T) {
	f := newFixture()
	f.sup.Enqueue(
		route("r1", "ads"), route("r2", core.Finish),
		route("r3", "ads"), route("r4", core.Finish),
	)
	f.ads.Enqueue(
		calls(testutil.Call("c1", "list_campaigns")),
		model.MockResponse{Text: "Spring and Summer."},
		calls(testutil.Call("c2", "list_campaigns")),
		model.MockResponse{Text: "Still Spring and Summer."},
	)
	eng := f.engine(t)

	_, err := eng.InvokeSync(context.Background(), "t1", Input{Message: "List campaigns"})
	require.NoError(t, err)

	res, err := eng.InvokeSync(context.Background(), "t1", Input{Message: "List them again"})
	require.NoError(t, err)
	assert.Equal(t, "Still Spring and Summer.", res.Response)
	assert.Equal(t, int32(1), f.listCalls.Load())

	var cached bool
	for _, ev := range res.Events {
		if ev.Type == core.EventToolCompleted {
			cached = ev.Cached
		}
	}
	assert.True(t, cached)

	st, _ := eng.State(context.Background(), "t1")
	assert.Equal(t, 2, st.Turn)
	require.NoError(t, core.ValidateHistory(st.Messages))
}

func TestEngine_ResumesFromCheckpointInNewEngine(t *testing.T) {
	f := newFixture()
	f.sup.Enqueue(route("r1", "ads"), route("r2", core.Finish), route("r3", "ads"), route("r4", core.Finish))
	f.ads.Enqueue(
		calls(testutil.Call("c1", "list_campaigns")),
		model.MockResponse{Text: "Spring and Summer."},
		calls(testutil.Call("c2", "list_campaigns")),
		model.MockResponse{Text: "Same as before."},
	)

	_, err := f.engine(t).InvokeSync(context.Background(), "t1", Input{Message: "List campaigns"})
	require.NoError(t, err)

	restarted := f.engine(t)
	res, err := restarted.InvokeSync(context.Background(), "t1", Input{Message: "And now?"})
	require.NoError(t, err)
	assert.Equal(t, "Same as before.", res.Response)
	assert.Equal(t, int32(1), f.listCalls.Load())

	reqs := f.ads.Requests()
	last := reqs[len(reqs)-1]
	var humans []string
	for _, m := range last.Messages {
		if m.Role == core.RoleHuman {
			humans = append(humans, m.Content)
		}
	}
	assert.Equal(t, []string{"List campaigns", "And now?"}, humans)
}

func TestEngine_ApprovalApproved(t *testing.T) {
	f := newFixture()
	f.sup.Enqueue(route("r1", "ads"), route("r2", core.Finish))
	f.ads.Enqueue(
		model.MockResponse{
			Text:      "I will pause campaign 42. " + guard.DefaultSentinel,
			ToolCalls: []core.ToolCall{testutil.Call("c1", "pause_campaign", "campaign_id", "42")},
		},
		model.MockResponse{Text: "Campaign 42 is paused."},
	)
	eng := f.engine(t)

	res, err := eng.InvokeSync(context.Background(), "t1", Input{Message: "Pause campaign 42"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusAwaitingApproval, res.Status)
	assert.Equal(t, "I will pause campaign 42.", res.Response)
	require.NotNil(t, res.Pending)
	assert.Equal(t, "ads", res.Pending.Agent)
	assert.Equal(t, int32(0), f.pauseCalls.Load())
	assert.Equal(t, core.EventApprovalRequired, res.Events[len(res.Events)-1].Type)
	assert.Greater(t, countEvents(res.Events, core.EventTextDelta), 0)
	for _, ev := range res.Events {
		assert.NotContains(t, ev.Text, guard.DefaultSentinel, "event %s leaked the sentinel", ev.Type)
	}

	res, err = eng.InvokeSync(context.Background(), "t1", Input{Approval: &ApprovalDecision{Approved: true}})
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, res.Status)
	assert.Equal(t, "Campaign 42 is paused.", res.Response)
	assert.Equal(t, int32(1), f.pauseCalls.Load())

	st, _ := eng.State(context.Background(), "t1")
	assert.Nil(t, st.PendingApproval)
	assert.True(t, st.PermissionGranted)
	require.NoError(t, core.ValidateHistory(st.Messages))
	for _, m := range st.Messages {
		assert.NotContains(t, m.Content, guard.DefaultSentinel)
	}
}

func TestEngine_ApprovalRejected(t *testing.T) {
	f := newFixture()
	f.sup.Enqueue(route("r1", "ads"))
	f.ads.Enqueue(model.MockResponse{
		Text:      guard.DefaultSentinel,
		ToolCalls: []core.ToolCall{testutil.Call("c1", "pause_campaign", "campaign_id", "42")},
	})
	eng := f.engine(t)

	_, err := eng.InvokeSync(context.Background(), "t1", Input{Message: "Pause campaign 42"})
	require.NoError(t, err)

	res, err := eng.InvokeSync(context.Background(), "t1", Input{Approval: &ApprovalDecision{Approved: false}})
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, res.Status)
	assert.Equal(t, guard.RejectionNotice, res.Response)
	assert.Equal(t, int32(0), f.pauseCalls.Load())
	assert.Equal(t, 1, f.ads.Calls())

	st, _ := eng.State(context.Background(), "t1")
	assert.Nil(t, st.PendingApproval)
	assert.Equal(t, guard.RejectionNotice, st.LastAIText())
}

func TestEngine_ApprovalWithoutPendingRequest(t *testing.T) {
	eng := newFixture().engine(t)

	_, _, _, err := eng.Invoke(context.Background(), "t1", Input{Approval: &ApprovalDecision{Approved: true}})
	assert.ErrorIs(t, err, core.ErrNoPendingApproval)
}

func TestEngine_LoopGuardEndsTurn(t *testing.T) {
	f := newFixture()
	f.sup.Enqueue(route("r1", "ads"))
	f.ads.Handler = func(model.Request) (model.MockResponse, error) {
		return calls(core.ToolCall{Name: "list_campaigns", Arguments: map[string]any{"status": "active"}}), nil
	}
	eng := f.engine(t)

	res, err := eng.InvokeSync(context.Background(), "t1", Input{Message: "List active campaigns"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, res.Status)
	assert.Equal(t, guard.StuckLoopNotice, res.Response)
	assert.Equal(t, 3, f.ads.Calls())
	assert.Equal(t, int32(1), f.listCalls.Load())

	st, _ := eng.State(context.Background(), "t1")
	require.NoError(t, core.ValidateHistory(st.Messages))
	last, _ := st.LastMessage()
	assert.Equal(t, core.RoleTool, last.Role)
	assert.True(t, last.IsError)
}

func TestEngine_UnknownSpecialistReturnsToSupervisor(t *testing.T) {
	f := newFixture()
	f.sup.Enqueue(route("r1", "billing"), model.MockResponse{Text: "I cannot help with billing."})
	eng := f.engine(t)

	res, err := eng.InvokeSync(context.Background(), "t1", Input{Message: "Fix my invoice"})
	require.NoError(t, err)
	assert.Equal(t, "I cannot help with billing.", res.Response)
	assert.Equal(t, 2, f.sup.Calls())
	assert.Equal(t, 0, f.ads.Calls())
}

func TestEngine_MaxIterations(t *testing.T) {
	f := newFixture()
	f.sup.Handler = func(model.Request) (model.MockResponse, error) { return route("", "ads"), nil }
	f.ads.Handler = func(model.Request) (model.MockResponse, error) {
		return model.MockResponse{Text: "working on it"}, nil
	}
	eng := f.engine(t, func(o *Options) { o.Config.MaxIterations = 5 })

	res, err := eng.InvokeSync(context.Background(), "t1", Input{Message: "loop forever"})
	require.ErrorIs(t, err, core.ErrMaxIterations)
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, core.UserMessage(err), res.Response)
	assert.Equal(t, 1, countEvents(res.Events, core.EventError))

	st, _ := eng.State(context.Background(), "t1")
	assert.Equal(t, core.StatusFailed, st.Status)
}

func TestEngine_ModelFailureIsCommitted(t *testing.T) {
	f := newFixture()
	f.sup.Enqueue(route("r1", "ads"), route("r2", "ads"), route("r3", core.Finish))
	f.ads.Enqueue(
		model.MockResponse{Err: errors.New("invalid request")},
		model.MockResponse{Text: "Recovered."},
	)
	eng := f.engine(t)

	res, err := eng.InvokeSync(context.Background(), "t1", Input{Message: "hello"})
	require.Error(t, err)
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, "INTERNAL_ERROR", core.ErrorCode(err))

	res, err = eng.InvokeSync(context.Background(), "t1", Input{Message: "try again"})
	require.NoError(t, err)
	assert.Equal(t, "Recovered.", res.Response)
}

func TestEngine_ThreadBusyAndCancel(t *testing.T) {
	f := newFixture()
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	var once sync.Once
	f.sup.Handler = func(model.Request) (model.MockResponse, error) {
		once.Do(func() { close(started) })
		<-release
		return model.MockResponse{Text: "too late"}, nil
	}
	eng := f.engine(t)

	_, events, errs, err := eng.Invoke(context.Background(), "t1", Input{Message: "slow"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never started")
	}

	_, _, _, err = eng.Invoke(context.Background(), "t1", Input{Message: "second"})
	assert.ErrorIs(t, err, core.ErrThreadBusy)
	assert.ErrorIs(t, eng.Forget(context.Background(), "t1"), core.ErrThreadBusy)

	require.NoError(t, eng.Cancel("t1"))
	for range events {
	}
	assert.ErrorIs(t, <-errs, context.Canceled)

	st, found := eng.State(context.Background(), "t1")
	require.True(t, found)
	assert.Equal(t, core.StatusRunning, st.Status)
	assert.Error(t, eng.Cancel("t1"))
}

func TestEngine_ConcurrentThreads(t *testing.T) {
	f := newFixture()
	f.sup.Handler = func(model.Request) (model.MockResponse, error) {
		return model.MockResponse{Text: "hello"}, nil
	}
	eng := f.engine(t, func(o *Options) { o.Config.MaxConcurrentInvocations = 2 })

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := eng.InvokeSync(context.Background(), id, Input{Message: "hi"})
			assert.NoError(t, err)
			assert.Equal(t, "hello", res.Response)
		}(id)
	}
	wg.Wait()
}

func TestEngine_RepairsDanglingCalls(t *testing.T) {
	f := newFixture()
	f.sup.Enqueue(model.MockResponse{Text: "Done."})
	eng := f.engine(t)

	dangling := testutil.Call("old", "list_campaigns")
	history := []core.Message{
		core.NewHumanMessage("earlier"),
		core.NewAIMessage("ads", "", dangling),
	}

	_, err := eng.InvokeSync(context.Background(), "t1", Input{Message: "hi", History: history})
	require.NoError(t, err)

	st, _ := eng.State(context.Background(), "t1")
	var repaired *core.Message
	for i, m := range st.Messages {
		if m.Role == core.RoleTool && m.ToolCallID == "old" {
			repaired = &st.Messages[i]
		}
	}
	require.NotNil(t, repaired)
	assert.True(t, repaired.IsError)
	assert.Equal(t, int32(0), f.listCalls.Load())
	assert.Equal(t, "hi", st.TurnMessages()[0].Content)
}

func TestEngine_InvalidSeedHistory(t *testing.T) {
	eng := newFixture().engine(t)

	orphan := core.NewToolMessage("ads", testutil.Call("x", "list_campaigns"), "{}", false)
	_, _, _, err := eng.Invoke(context.Background(), "t1", Input{Message: "hi", History: []core.Message{orphan}})
	var cfgErr *core.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestEngine_EmptyInput(t *testing.T) {
	eng := newFixture().engine(t)

	_, _, _, err := eng.Invoke(context.Background(), "t1", Input{})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, _, _, err = eng.Invoke(context.Background(), "", Input{Message: "hi"})
	assert.Error(t, err)
}

func TestEngine_EvictionAndForget(t *testing.T) {
	f := newFixture()
	f.sup.Enqueue(route("r1", "sheets"), route("r2", core.Finish))
	f.sheets.Enqueue(
		calls(testutil.Call("c1", "export_report")),
		model.MockResponse{Text: "The report is large."},
	)
	eng := f.engine(t)

	_, err := eng.InvokeSync(context.Background(), "t1", Input{Message: "Export the report"})
	require.NoError(t, err)

	st, _ := eng.State(context.Background(), "t1")
	var evicted *core.Message
	for i, m := range st.Messages {
		if m.Role == core.RoleTool && m.Evicted {
			evicted = &st.Messages[i]
		}
	}
	require.NotNil(t, evicted)
	assert.Less(t, len(evicted.Content), 2000)
	assert.NotEmpty(t, evicted.FullContentRef)

	refs, err := f.blobs.List(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	require.NoError(t, eng.Forget(context.Background(), "t1"))

	_, found := eng.State(context.Background(), "t1")
	assert.False(t, found)
	refs, err = f.blobs.List(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

// gatedBlobs blocks List until released, holding Forget mid-way.
type gatedBlobs struct {
	*artifact.InMemoryStore
	once    sync.Once
	listing chan struct{}
	release chan struct{}
}

func (g *gatedBlobs) List(ctx context.Context, threadID string) ([]string, error) {
	g.once.Do(func() { close(g.listing) })
	<-g.release
	return g.InMemoryStore.List(ctx, threadID)
}

func TestEngine_ForgetHoldsThread(t *testing.T) {
	f := newFixture()
	blobs := &gatedBlobs{InMemoryStore: f.blobs, listing: make(chan struct{}), release: make(chan struct{})}
	eng := f.engine(t, func(o *Options) { o.Blobs = blobs })

	done := make(chan error, 1)
	go func() { done <- eng.Forget(context.Background(), "t1") }()

	select {
	case <-blobs.listing:
	case <-time.After(2 * time.Second):
		t.Fatal("forget never reached the blob store")
	}

	_, _, _, err := eng.Invoke(context.Background(), "t1", Input{Message: "hello"})
	assert.ErrorIs(t, err, core.ErrThreadBusy)
	assert.ErrorIs(t, eng.Forget(context.Background(), "t1"), core.ErrThreadBusy)

	close(blobs.release)
	require.NoError(t, <-done)
	assert.NoError(t, eng.Forget(context.Background(), "t1"))
}

func TestEngine_Callbacks(t *testing.T) {
	f := newFixture()
	f.sup.Enqueue(route("r1", "ads"), route("r2", core.Finish))
	f.ads.Enqueue(model.MockResponse{Text: "All good."})

	var (
		mu    sync.Mutex
		nodes []string
		final string
	)
	afterNode := NewFunctionCallback(CallbackAfterNode, func(_ context.Context, cc *CallbackContext) error {
		mu.Lock()
		defer mu.Unlock()
		nodes = append(nodes, cc.Node)
		return nil
	})
	done := NewFunctionCallback(CallbackTurnComplete, func(_ context.Context, cc *CallbackContext) error {
		mu.Lock()
		defer mu.Unlock()
		final = cc.State.FinalResponse
		return errors.New("ignored")
	})

	eng := f.engine(t, func(o *Options) {
		o.Callbacks = []Callback{afterNode, done, NewHistoryValidationCallback()}
	})

	res, err := eng.InvokeSync(context.Background(), "t1", Input{Message: "status?"})
	require.NoError(t, err)
	assert.Equal(t, "All good.", res.Response)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{agent.SupervisorName, "ads", agent.SupervisorName}, nodes)
	assert.Equal(t, "All good.", final)
}

func TestNew_RosterMismatch(t *testing.T) {
	m := model.NewMockModel("m", "test")
	ads, err := agent.NewSpecialist("ads", m)
	require.NoError(t, err)
	sheets, err := agent.NewSpecialist("sheets", m)
	require.NoError(t, err)

	sup, err := agent.NewSupervisor(m, []*agent.Specialist{ads})
	require.NoError(t, err)

	_, err = New(sup, []*agent.Specialist{ads, sheets})
	var cfgErr *core.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = New(nil, []*agent.Specialist{ads})
	assert.True(t, errors.As(err, &cfgErr))
}
