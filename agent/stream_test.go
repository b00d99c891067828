package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/guard"
	"github.com/shubhambiswas2196/markgraph/internal/testutil"
	"github.com/shubhambiswas2196/markgraph/model"
)

// scriptedAttempt streams parts and then fails with err or completes.
type scriptedAttempt struct {
	parts []string
	err   error
}

// scriptedStreamModel plays one scriptedAttempt per Generate call. Partials
// go through an unbuffered channel so they are consumed before the error.
type scriptedStreamModel struct {
	mu       sync.Mutex
	attempts []scriptedAttempt
}

func (m *scriptedStreamModel) Generate(ctx context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response)
	errCh := make(chan error, 1)

	m.mu.Lock()
	a := m.attempts[0]
	m.attempts = m.attempts[1:]
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		for _, p := range a.parts {
			select {
			case <-ctx.Done():
				return
			case respCh <- model.Response{Partial: true, Text: p}:
			}
		}
		if a.err != nil {
			errCh <- a.err
			return
		}
		select {
		case <-ctx.Done():
		case respCh <- model.Response{Text: strings.Join(a.parts, ""), FinishReason: "stop"}:
		}
	}()
	return respCh, errCh
}

func (m *scriptedStreamModel) Info() model.Info { return model.Info{Name: "scripted", Provider: "test"} }

func deltas(rec *testutil.Recorder) string {
	var b strings.Builder
	for _, ev := range rec.OfType(core.EventTextDelta) {
		b.WriteString(ev.Text)
	}
	return b.String()
}

func TestInvoker_RetryDoesNotRestreamText(t *testing.T) {
	m := &scriptedStreamModel{attempts: []scriptedAttempt{
		{parts: []string{"Hello "}, err: core.NewTransientError("scripted", errors.New("503"))},
		{parts: []string{"Hello ", "world"}},
	}}
	rec := testutil.NewRecorder()

	resp, err := NewInvoker(m, fastRetry).Invoke(rec.RunContext(context.Background(), "t1"), "ads", model.Request{})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", resp.Text)
	assert.Equal(t, "Hello world", deltas(rec))
	assert.Equal(t, 0, rec.Count(core.EventTextReset))
}

func TestInvoker_DivergentRetryResetsText(t *testing.T) {
	m := &scriptedStreamModel{attempts: []scriptedAttempt{
		{parts: []string{"Hi ", "there"}, err: core.NewTransientError("scripted", errors.New("overloaded"))},
		{parts: []string{"Hello ", "world"}},
	}}
	rec := testutil.NewRecorder()

	_, err := NewInvoker(m, fastRetry).Invoke(rec.RunContext(context.Background(), "t1"), "ads", model.Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count(core.EventTextReset))
	assert.Equal(t, "Hello world", rec.Text())
}

func TestInvoker_FailedCallWithdrawsText(t *testing.T) {
	m := &scriptedStreamModel{attempts: []scriptedAttempt{
		{parts: []string{"Half an "}, err: errors.New("bad request")},
	}}
	rec := testutil.NewRecorder()

	_, err := NewInvoker(m, fastRetry).Invoke(rec.RunContext(context.Background(), "t1"), "ads", model.Request{})
	require.Error(t, err)
	assert.Equal(t, 1, rec.Count(core.EventTextReset))
	assert.Equal(t, "", rec.Text())
}

func TestInvoker_StripsSentinelFromDeltas(t *testing.T) {
	m := model.NewMockModel("mock", "test").Enqueue(model.MockResponse{
		Text:      "I will pause campaign 42. " + guard.DefaultSentinel,
		ToolCalls: []core.ToolCall{{Name: "pause_campaign", Arguments: map[string]any{"campaignId": "42"}}},
	})
	rec := testutil.NewRecorder()

	resp, err := NewInvoker(m).Invoke(rec.RunContext(context.Background(), "t1"), "ads", model.Request{})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, guard.DefaultSentinel)
	for _, ev := range rec.OfType(core.EventTextDelta) {
		assert.NotContains(t, ev.Text, "[[")
	}
	assert.Equal(t, "I will pause campaign 42. ", rec.Text())
}

func TestInvoker_StripsSentinelSplitAcrossFragments(t *testing.T) {
	m := &scriptedStreamModel{attempts: []scriptedAttempt{
		{parts: []string{"Pausing [[APPR", "OVAL_REQ", "UIRED]] now", " [[x"}},
	}}
	rec := testutil.NewRecorder()

	_, err := NewInvoker(m).Invoke(rec.RunContext(context.Background(), "t1"), "ads", model.Request{})
	require.NoError(t, err)
	for _, ev := range rec.OfType(core.EventTextDelta) {
		assert.NotContains(t, ev.Text, "APPR")
	}
	assert.Equal(t, "Pausing  now [[x", rec.Text())
}

func TestInvoker_CustomSentinel(t *testing.T) {
	policy := guard.NewApprovalPolicy(func(o *guard.ApprovalOptions) { o.Sentinel = "<<ASK>>" })
	m := model.NewMockModel("mock", "test").Enqueue(model.MockResponse{Text: "Delete it? <<ASK>>"})
	rec := testutil.NewRecorder()

	_, err := NewInvoker(m, func(o *InvokerOptions) { o.Approval = policy }).
		Invoke(rec.RunContext(context.Background(), "t1"), "ads", model.Request{})
	require.NoError(t, err)
	assert.Equal(t, "Delete it? ", rec.Text())
}

func TestPartialSuffix(t *testing.T) {
	s := guard.DefaultSentinel
	assert.Equal(t, 0, partialSuffix("hello", s))
	assert.Equal(t, 2, partialSuffix("hello [[", s))
	assert.Equal(t, 5, partialSuffix("x [[APP", s))
	assert.Equal(t, len(s)-1, partialSuffix(s[:len(s)-1], s))
	assert.Equal(t, 0, partialSuffix("", s))
}
