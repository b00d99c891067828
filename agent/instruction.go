package agent

import (
	"fmt"
	"maps"
	"slices"

	"github.com/shubhambiswas2196/markgraph/core"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from the thread state.
type Provider interface {
	Instruction(rc *core.RunContext, st core.State) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(rc *core.RunContext, st core.State) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(rc *core.RunContext, st core.State) (string, error) { return f(rc, st) }

// Instruction represents either a static instruction template or a dynamic provider.
//
// Static text is rendered with text/template against TemplateData, so a domain
// prompt can reference {{.resources.spreadsheet_id}} or {{resource "account_id"}}.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static template string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(rc *core.RunContext, st core.State) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether neither text nor provider is set.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text, invoking the provider or rendering
// the template as needed.
func (i Instruction) Resolve(rc *core.RunContext, st core.State) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(rc, st)
	}

	out, err := renderInstruction(i.text, st)
	if err != nil {
		return "", fmt.Errorf("render instruction: %w", err)
	}
	return out, nil
}

// TemplateData exposes the parts of the state a prompt template may use.
func TemplateData(st core.State) map[string]any {
	resources := make(map[string]any, len(st.Resources))
	for k, v := range st.Resources {
		resources[k] = v
	}

	invoked := make([]any, len(st.Invoked))
	for i, name := range st.Invoked {
		invoked[i] = name
	}

	return map[string]any{
		"thread_id":     st.ThreadID,
		"turn":          st.Turn,
		"resources":     resources,
		"resource_keys": slices.Sorted(maps.Keys(st.Resources)),
		"invoked":       invoked,
	}
}
