package tool

import (
	"fmt"
	"slices"

	"github.com/shubhambiswas2196/markgraph/core"
)

// RouteToolName is the name of the supervisor's routing capability.
const RouteToolName = "route"

// routeTool exposes the supervisor's routing decision as a tool call whose
// "next" argument is an enum of the specialists plus FINISH. The supervisor
// node intercepts the call; Call only acknowledges it.
type routeTool struct {
	targets []string
}

// NewRouteTool constructs the routing tool for the given specialist names.
func NewRouteTool(specialists []string) Tool {
	targets := slices.Clone(specialists)
	targets = append(targets, core.Finish)
	return &routeTool{targets: targets}
}

func (t *routeTool) Name() string { return RouteToolName }

func (t *routeTool) Description() string {
	return "Select the specialist that should act next, or FINISH when the user's request is fully answered."
}

func (t *routeTool) Parameters() map[string]any {
	enum := make([]any, len(t.targets))
	for i, v := range t.targets {
		enum[i] = v
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"next":      map[string]any{"type": "string", "enum": enum, "description": "Specialist to invoke next, or FINISH"},
			"reasoning": map[string]any{"type": "string", "description": "Short justification for the choice"},
		},
		"required": []any{"next"},
	}
}

func (t *routeTool) Call(_ *core.ToolContext, args map[string]any) (any, error) {
	d, err := ParseRoute(args)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(t.targets, d.Next) {
		return nil, NewToolError(RouteToolName, fmt.Sprintf("unknown route target %q", d.Next), CodeValidation)
	}
	return fmt.Sprintf("Routing to %s.", d.Next), nil
}

// ParseRoute extracts a RoutingDecision from route tool arguments.
func ParseRoute(args map[string]any) (core.RoutingDecision, error) {
	next, _ := args["next"].(string)
	if next == "" {
		return core.RoutingDecision{}, NewToolError(RouteToolName, "field 'next' must be a non-empty string", CodeValidation)
	}
	reasoning, _ := args["reasoning"].(string)
	return core.RoutingDecision{Next: next, Reasoning: reasoning}, nil
}
