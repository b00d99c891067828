package toolexec

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/tool"
)

// evict stores content out-of-band when it exceeds MaxChars and returns the
// in-band replacement. ok is false when the content is small enough or the
// blob store rejected it; the full content then stays in-band.
func (e *Executor) evict(ctx context.Context, rc *core.RunContext, tc core.ToolCall, content string) (preview, ref string, ok bool) {
	total := utf8.RuneCountInString(content)
	if e.opts.MaxChars <= 0 || total <= e.opts.MaxChars {
		return "", "", false
	}

	if e.blobs == nil {
		rc.LogWarn("tool.evict.skipped", "tool", tc.Name, "reason", "no blob store", "chars", total)
		return "", "", false
	}

	ref = core.NewID()
	if err := e.blobs.Save(ctx, rc.ThreadID, ref, []byte(content)); err != nil {
		rc.LogWarn("tool.evict.failed", "tool", tc.Name, "chars", total, "error", err)
		return "", "", false
	}

	rc.LogInfo("tool.evicted", "tool", tc.Name, "chars", total, "ref", ref)

	return Preview(content, e.opts.PreviewChars, total, ref), ref, true
}

// Preview renders the first n characters of content followed by the
// truncation notice that tells the model how to read the rest.
func Preview(content string, n, total int, ref string) string {
	head := content
	if n < total {
		head = string([]rune(content)[:n])
	}

	return head + fmt.Sprintf(
		"\n\n[Result truncated: showing the first %d of %d characters. "+
			"The full result is stored as ref=%q; call %s with this ref (and an offset) to read the rest.]",
		min(n, total), total, ref, tool.ReadFullResultToolName,
	)
}
