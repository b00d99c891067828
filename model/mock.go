package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shubhambiswas2196/markgraph/core"
)

// MockResponse is one scripted turn of a MockModel.
type MockResponse struct {
	Text      string
	ToolCalls []core.ToolCall
	Err       error
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
//
// Resolution order per call: the Handler (if set), then the scripted queue,
// then a canned response keyed by the last human message, then an echo.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	queue     []MockResponse
	requests  []Request

	// Handler, if set, computes the response from the request.
	Handler func(req Request) (MockResponse, error)
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends scripted responses consumed in FIFO order.
func (m *MockModel) Enqueue(rs ...MockResponse) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, rs...)
	return m
}

// Calls returns how many times Generate was invoked.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockModel) next(req Request) (MockResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	handler := m.Handler
	if handler == nil && len(m.queue) > 0 {
		r := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return r, r.Err
	}
	m.mu.Unlock()

	if handler != nil {
		return handler(req)
	}

	var input string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == core.RoleHuman {
			input = req.Messages[i].Content
			break
		}
	}

	m.mu.Lock()
	full := m.responses[input]
	m.mu.Unlock()
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", input)
	}

	return MockResponse{Text: full}, nil
}

// Generate implements Model; emits optional streaming word chunks then the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		r, err := m.next(req)
		if err != nil {
			errCh <- err
			return
		}

		if req.Stream && r.Text != "" {
			for _, w := range strings.SplitAfter(r.Text, " ") {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: w}:
				}
			}
		}

		finish := "stop"
		if len(r.ToolCalls) > 0 {
			finish = "tool_calls"
		}

		calls := make([]core.ToolCall, len(r.ToolCalls))
		for i, tc := range r.ToolCalls {
			if tc.ID == "" {
				tc.ID = core.NewID()
			}
			calls[i] = tc
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Text: r.Text, ToolCalls: calls, FinishReason: finish}:
		}
	}()

	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
