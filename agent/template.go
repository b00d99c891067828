package agent

import (
	"bytes"
	"slices"
	"strings"
	"text/template"

	"github.com/shubhambiswas2196/markgraph/core"
)

// renderInstruction executes text against TemplateData(st). Besides the
// data keys a template can call:
//
//	resource "spreadsheet_id"   the resource value, or ""
//	invoked "ads"               whether the specialist already ran this turn
//	default "none" .x           .x, or "none" when .x is empty
//	join ", " .resource_keys    joins a string slice
func renderInstruction(text string, st core.State) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New("instruction").Funcs(template.FuncMap{
		"resource": func(key string) string { return st.Resources[key] },
		"invoked":  func(name string) bool { return slices.Contains(st.Invoked, name) },
		"default": func(fallback, val any) any {
			if val == nil || val == "" {
				return fallback
			}
			return val
		},
		"join": func(sep string, items []string) string { return strings.Join(items, sep) },
	}).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, TemplateData(st)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
