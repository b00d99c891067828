// Package graph is a small cyclic state machine over core.State.
//
// Nodes are functions that read the state and return a partial Update which
// is merged with State.Apply. Every node has exactly one outgoing edge:
// either unconditional, or conditional with a router that must answer with a
// member of a declared allowed set. Cycles are legal; a per-run iteration
// limit guarantees termination.
//
//	g := graph.New().
//	    AddNode("supervisor", supervisor).
//	    AddNode("ads", ads).
//	    AddConditionalEdge("supervisor", route, "ads", graph.END).
//	    AddEdge("ads", "supervisor").
//	    SetEntry("supervisor")
//
//	compiled, err := g.Compile()
//	final, err := compiled.Run(rc, state)
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shubhambiswas2196/markgraph/core"
)

// END is the terminal sentinel. It is a valid edge target but not a node.
const END = "__end__"

// NodeFunc runs one step. It must not mutate st; changes go in the Update.
type NodeFunc func(rc *core.RunContext, st core.State) (core.Update, error)

// RouterFunc picks the next node after a conditional edge's source ran.
type RouterFunc func(st core.State) string

type edge struct {
	to      string
	router  RouterFunc
	allowed []string
}

// Graph collects nodes and edges. Builder errors are reported by Compile.
type Graph struct {
	nodes map[string]NodeFunc
	order []string
	edges map[string]edge
	entry string
	errs  []error
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: map[string]NodeFunc{},
		edges: map[string]edge{},
	}
}

// AddNode registers a node.
func (g *Graph) AddNode(name string, fn NodeFunc) *Graph {
	switch {
	case name == "" || name == END:
		g.errs = append(g.errs, fmt.Errorf("invalid node name %q", name))
	case fn == nil:
		g.errs = append(g.errs, fmt.Errorf("node %q has no function", name))
	case g.nodes[name] != nil:
		g.errs = append(g.errs, fmt.Errorf("duplicate node %q", name))
	default:
		g.nodes[name] = fn
		g.order = append(g.order, name)
	}
	return g
}

// AddEdge adds an unconditional edge.
func (g *Graph) AddEdge(from, to string) *Graph {
	return g.addEdge(from, edge{to: to})
}

// AddConditionalEdge adds an edge whose target is chosen by router at run
// time. router must return one of allowed; anything else fails the run with
// core.ErrInvalidRoute.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc, allowed ...string) *Graph {
	if router == nil {
		g.errs = append(g.errs, fmt.Errorf("conditional edge from %q has no router", from))
		return g
	}
	if len(allowed) == 0 {
		g.errs = append(g.errs, fmt.Errorf("conditional edge from %q declares no targets", from))
		return g
	}
	return g.addEdge(from, edge{router: router, allowed: slices.Clone(allowed)})
}

func (g *Graph) addEdge(from string, e edge) *Graph {
	if _, dup := g.edges[from]; dup {
		g.errs = append(g.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return g
	}
	g.edges[from] = e
	return g
}

// SetEntry sets the default start node.
func (g *Graph) SetEntry(name string) *Graph {
	g.entry = name
	return g
}

// Compile validates the structure and freezes it.
func (g *Graph) Compile() (*Compiled, error) {
	errs := slices.Clone(g.errs)

	if g.entry == "" {
		errs = append(errs, errors.New("entry node not set"))
	} else if g.nodes[g.entry] == nil {
		errs = append(errs, fmt.Errorf("entry node %q is not registered", g.entry))
	}

	for from, e := range g.edges {
		if g.nodes[from] == nil {
			errs = append(errs, fmt.Errorf("edge from unknown node %q", from))
		}
		targets := e.allowed
		if e.router == nil {
			targets = []string{e.to}
		}
		for _, to := range targets {
			if to != END && g.nodes[to] == nil {
				errs = append(errs, fmt.Errorf("edge %q -> %q targets an unknown node", from, to))
			}
		}
	}

	for _, name := range g.order {
		if _, ok := g.edges[name]; !ok {
			errs = append(errs, fmt.Errorf("node %q has no outgoing edge", name))
		}
	}

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return nil, core.NewConfigurationError("graph", "%s", strings.Join(msgs, "; "))
	}

	c := &Compiled{
		nodes: make(map[string]NodeFunc, len(g.nodes)),
		edges: make(map[string]edge, len(g.edges)),
		order: slices.Clone(g.order),
		entry: g.entry,
	}
	for k, v := range g.nodes {
		c.nodes[k] = v
	}
	for k, v := range g.edges {
		c.edges[k] = v
	}

	return c, nil
}
