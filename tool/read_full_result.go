package tool

import (
	"errors"
	"fmt"

	"github.com/shubhambiswas2196/markgraph/artifact"
	"github.com/shubhambiswas2196/markgraph/core"
)

// ReadFullResultToolName is the name of the tool that reads evicted payloads.
const ReadFullResultToolName = "read_full_result"

// DefaultReadPageChars is the page size used when the caller gives no limit.
// It stays below the default eviction threshold so pages are never evicted again.
const DefaultReadPageChars = 10000

// ReadFullResultArgs is the argument shape of the read_full_result tool.
type ReadFullResultArgs struct {
	Ref    string `json:"ref" jsonschema_description:"Reference printed in the truncation notice of an evicted tool result"`
	Offset int    `json:"offset,omitempty" jsonschema_description:"Character offset to start reading from (default 0)"`
	Limit  int    `json:"limit,omitempty" jsonschema_description:"Maximum number of characters to return"`
}

// NewReadFullResultTool returns the tool that pages through an evicted
// payload stored in store. Offsets and limits count characters (runes).
func NewReadFullResultTool(store artifact.Store, pageChars int) Tool {
	if pageChars <= 0 {
		pageChars = DefaultReadPageChars
	}

	return NewFunctionToolFromStruct(
		ReadFullResultToolName,
		"Read the full content of a tool result that was truncated because it was too large. "+
			"Use the ref from the truncation notice and page with offset/limit.",
		ReadFullResultArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			ref, _ := args["ref"].(string)
			if ref == "" {
				return nil, NewToolError(ReadFullResultToolName, "field 'ref' must be a non-empty string", CodeValidation)
			}

			offset := intArg(args, "offset", 0)
			limit := intArg(args, "limit", pageChars)
			if offset < 0 || limit <= 0 {
				return nil, NewToolError(ReadFullResultToolName, "offset must be >= 0 and limit > 0", CodeValidation)
			}
			if limit > pageChars {
				limit = pageChars
			}

			data, err := store.Get(tc.Context(), tc.ThreadID(), ref)
			if err != nil {
				if errors.Is(err, artifact.ErrNotFound) {
					return nil, NewToolError(ReadFullResultToolName, fmt.Sprintf("no stored result for ref %q (it may have expired)", ref), CodeExecution)
				}
				return nil, err
			}

			return Page([]rune(string(data)), offset, limit), nil
		},
	)
}

// Page renders the [offset, offset+limit) character window of full with a
// footer telling the model how to continue.
func Page(full []rune, offset, limit int) string {
	total := len(full)
	if offset >= total {
		return fmt.Sprintf("[offset %d is past the end; total %d characters]", offset, total)
	}

	end := offset + limit
	if end > total {
		end = total
	}

	out := string(full[offset:end])
	if end < total {
		out += fmt.Sprintf("\n\n[characters %d-%d of %d; call %s again with offset=%d to continue]", offset, end, total, ReadFullResultToolName, end)
	}

	return out
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}
