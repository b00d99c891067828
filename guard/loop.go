package guard

import (
	"fmt"
	"strings"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/tool"
)

// DefaultLoopWindow compares a batch with the one issued exactly two AI turns earlier.
const DefaultLoopWindow = 2

// StuckLoopNotice is the response used when the turn has no AI text to surface.
const StuckLoopNotice = "I stopped because I was about to repeat the same action without making progress. " +
	"Please rephrase the request or provide more detail."

// LoopGuard detects ping-pong repetition of tool calls inside one human turn.
//
// An AI turn is an AI message of the current human turn that requests at
// least one tool other than the routing tool. The pending batch is the most
// recent such message; it is a loop when any of its calls has the same cache
// key as a call in the AI turn Window positions earlier.
type LoopGuard struct {
	Window int
}

// NewLoopGuard returns a guard with the given window; values below 1 use DefaultLoopWindow.
func NewLoopGuard(window int) *LoopGuard {
	if window < 1 {
		window = DefaultLoopWindow
	}
	return &LoopGuard{Window: window}
}

// Check inspects the current turn's messages. pending is the batch about to be
// dispatched and must be the last tool-issuing AI message in turn. It returns
// an error wrapping core.ErrLoopDetected on a match.
func (g *LoopGuard) Check(turn []core.Message, pending []core.ToolCall) error {
	batches := toolBatches(turn)
	if len(batches) == 0 {
		return nil
	}

	// The pending batch is already part of the history.
	prior := len(batches) - 1 - g.Window
	if prior < 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(batches[prior]))
	for _, tc := range batches[prior] {
		seen[tc.CacheKey()] = struct{}{}
	}

	for _, tc := range pending {
		if tc.Name == tool.RouteToolName {
			continue
		}
		if _, ok := seen[tc.CacheKey()]; ok {
			return fmt.Errorf("%w: %s repeated after %d AI turns", core.ErrLoopDetected, tc.Name, g.Window)
		}
	}

	return nil
}

func toolBatches(turn []core.Message) [][]core.ToolCall {
	var batches [][]core.ToolCall
	for _, m := range turn {
		if m.Role != core.RoleAI {
			continue
		}
		var calls []core.ToolCall
		for _, tc := range m.ToolCalls {
			if tc.Name != tool.RouteToolName {
				calls = append(calls, tc)
			}
		}
		if len(calls) > 0 {
			batches = append(batches, calls)
		}
	}
	return batches
}

// LoopResponse picks the text surfaced when a loop ends the turn: the latest
// non-empty AI text of the turn, else StuckLoopNotice.
func LoopResponse(turn []core.Message) string {
	for i := len(turn) - 1; i >= 0; i-- {
		m := turn[i]
		if m.Role == core.RoleAI && strings.TrimSpace(m.Content) != "" {
			return m.Content
		}
	}
	return StuckLoopNotice
}
