package graph

import (
	"fmt"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/metrics"
)

// DefaultMaxIterations caps node executions per run.
const DefaultMaxIterations = 25

// Hook observes the state after every transition. next is the node that
// will run next (END when the run is over).
type Hook func(rc *core.RunContext, ran, next string, st core.State)

// RunOptions configure a single Run.
type RunOptions struct {
	// Start overrides the entry node, e.g. to resume at a checkpointed node.
	Start string
	// MaxIterations caps node executions. Ignored when the RunContext
	// already carries a bounded limiter.
	MaxIterations int
	// Hook runs after every transition.
	Hook   Hook
	Tracer trace.Tracer
}

// Compiled is an immutable, validated graph. It is safe for concurrent runs.
type Compiled struct {
	nodes map[string]NodeFunc
	edges map[string]edge
	order []string
	entry string
}

// Entry returns the default start node.
func (c *Compiled) Entry() string { return c.entry }

// Nodes returns the node names in registration order.
func (c *Compiled) Nodes() []string { return slices.Clone(c.order) }

// Has reports whether name is a node.
func (c *Compiled) Has(name string) bool { return c.nodes[name] != nil }

// Targets returns every node reachable in one step from "from".
func (c *Compiled) Targets(from string) []string {
	e, ok := c.edges[from]
	if !ok {
		return nil
	}
	if e.router == nil {
		return []string{e.to}
	}
	return slices.Clone(e.allowed)
}

// Run executes from the entry (or RunOptions.Start) until END. On error the
// state reflects the last committed transition.
func (c *Compiled) Run(rc *core.RunContext, st core.State, optFns ...func(o *RunOptions)) (core.State, error) {
	opts := RunOptions{MaxIterations: DefaultMaxIterations}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/shubhambiswas2196/markgraph/graph")
	}

	limiter := rc.Limiter
	if limiter == nil || !limiter.Bounded() {
		limiter = core.NewIterationLimiter(opts.MaxIterations)
	}

	node := c.entry
	if opts.Start != "" {
		node = opts.Start
	}
	if node != END && !c.Has(node) {
		return st, core.NewConfigurationError("graph", "start node %q is not registered", node)
	}

	for node != END {
		if err := rc.Err(); err != nil {
			return st, err
		}
		if err := limiter.Increment(); err != nil {
			rc.LogWarn("graph.max_iterations", "node", node, "iterations", limiter.Count())
			return st, err
		}

		next, updated, err := c.step(rc, opts.Tracer, node, st)
		if err != nil {
			return st, err
		}

		updated.Node = next
		updated.Iteration = limiter.Count()
		st = updated

		if opts.Hook != nil {
			opts.Hook(rc.WithNode(node), node, next, st)
		}

		node = next
	}

	return st, nil
}

func (c *Compiled) step(rc *core.RunContext, tracer trace.Tracer, node string, st core.State) (string, core.State, error) {
	ctx, span := tracer.Start(rc.Context, "graph.node."+node, trace.WithAttributes(
		attribute.String("graph.node", node),
		attribute.String("thread_id", rc.ThreadID),
	))
	defer span.End()

	nrc := rc.WithNode(node).WithContext(ctx)
	nrc.LogDebug("graph.node.start")

	upd, err := c.nodes[node](nrc, st)
	metrics.RecordNode(node, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		nrc.LogError("graph.node.failed", "error", err)
		return "", st, fmt.Errorf("node %s: %w", node, err)
	}

	st = st.Apply(upd)

	next, err := c.next(node, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		nrc.LogError("graph.route.invalid", "error", err)
		return "", st, err
	}

	span.SetAttributes(attribute.String("graph.next", next))
	nrc.LogDebug("graph.node.done", "next", next)

	return next, st, nil
}

func (c *Compiled) next(node string, st core.State) (string, error) {
	e := c.edges[node]
	if e.router == nil {
		return e.to, nil
	}

	to := e.router(st)
	if !slices.Contains(e.allowed, to) {
		return "", fmt.Errorf("%w: %s -> %q (allowed %v)", core.ErrInvalidRoute, node, to, e.allowed)
	}
	return to, nil
}
