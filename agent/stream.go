package agent

import (
	"strings"

	"github.com/shubhambiswas2196/markgraph/core"
)

// deltaStream forwards model text fragments as text_delta events with the
// approval sentinel removed. A fragment tail that could be the start of a
// sentinel split across fragments is held back until the next write.
type deltaStream struct {
	rc       *core.RunContext
	agent    string
	sentinel string

	pending string
	emitted strings.Builder
}

func newDeltaStream(rc *core.RunContext, agent, sentinel string) *deltaStream {
	return &deltaStream{rc: rc, agent: agent, sentinel: sentinel}
}

func (s *deltaStream) write(delta string) {
	text := s.pending + delta
	s.pending = ""
	if s.sentinel != "" {
		text = strings.ReplaceAll(text, s.sentinel, "")
		if n := partialSuffix(text, s.sentinel); n > 0 {
			s.pending = text[len(text)-n:]
			text = text[:len(text)-n]
		}
	}
	s.emit(text)
}

// flush emits the held-back tail once the response is complete.
func (s *deltaStream) flush() {
	text := s.pending
	s.pending = ""
	s.emit(text)
}

// replay streams the text of a retried attempt. Text already emitted by an
// earlier attempt is not repeated; when the retry diverges from it, a
// text_reset withdraws the earlier fragments first.
func (s *deltaStream) replay(raw string) {
	s.pending = ""
	text := raw
	if s.sentinel != "" {
		text = strings.ReplaceAll(text, s.sentinel, "")
	}
	prior := s.emitted.String()
	if strings.HasPrefix(text, prior) {
		s.write(text[len(prior):])
		return
	}
	s.reset()
	s.write(text)
}

// reset withdraws everything emitted so far.
func (s *deltaStream) reset() {
	s.pending = ""
	if s.emitted.Len() == 0 {
		return
	}
	s.emitted.Reset()
	s.rc.EmitBestEffort(core.NewTextResetEvent(s.agent))
}

func (s *deltaStream) emit(text string) {
	if text == "" {
		return
	}
	s.emitted.WriteString(text)
	s.rc.EmitBestEffort(core.NewTextDeltaEvent(s.agent, text))
}

// partialSuffix returns the length of the longest proper prefix of sentinel
// that text ends with.
func partialSuffix(text, sentinel string) int {
	n := min(len(text), len(sentinel)-1)
	for ; n > 0; n-- {
		if strings.HasSuffix(text, sentinel[:n]) {
			return n
		}
	}
	return 0
}
