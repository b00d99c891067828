package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/shubhambiswas2196/markgraph/artifact"
	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/metrics"
	"github.com/shubhambiswas2196/markgraph/tool"
)

// Defaults for Options.
const (
	DefaultTTL          = 5 * time.Minute
	DefaultMaxChars     = 15000
	DefaultPreviewChars = 1000
	DefaultConcurrency  = 8
	DefaultTimeout      = 30 * time.Second
)

// Options configure an Executor.
type Options struct {
	// TTL is how long a cached result stays fresh.
	TTL time.Duration
	// MaxChars is the eviction threshold in characters.
	MaxChars int
	// PreviewChars is the size of the in-band preview of an evicted result.
	PreviewChars int
	// Concurrency bounds the number of tools running at once.
	Concurrency int
	// Timeout bounds each tool call.
	Timeout time.Duration
	// ResourcePaths maps a resource key to a gjson path looked up in JSON results.
	ResourcePaths map[string]string
	// NoEvict lists tools whose results are never evicted.
	NoEvict []string
	// Tracer records one span per executed call.
	Tracer trace.Tracer
}

// Executor runs batches of tool calls with caching and eviction.
type Executor struct {
	registry *tool.Registry
	blobs    artifact.Store
	opts     Options
	noEvict  map[string]struct{}
}

// New builds an Executor over registry. Evicted payloads go to blobs.
func New(registry *tool.Registry, blobs artifact.Store, optFns ...func(o *Options)) *Executor {
	opts := Options{
		TTL:          DefaultTTL,
		MaxChars:     DefaultMaxChars,
		PreviewChars: DefaultPreviewChars,
		Concurrency:  DefaultConcurrency,
		Timeout:      DefaultTimeout,
		NoEvict:      []string{tool.ReadFullResultToolName},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/shubhambiswas2196/markgraph/toolexec")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.PreviewChars <= 0 {
		opts.PreviewChars = DefaultPreviewChars
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PreviewChars > opts.MaxChars {
		opts.PreviewChars = opts.MaxChars
	}

	noEvict := make(map[string]struct{}, len(opts.NoEvict))
	for _, name := range opts.NoEvict {
		noEvict[name] = struct{}{}
	}

	return &Executor{registry: registry, blobs: blobs, opts: opts, noEvict: noEvict}
}

// Registry returns the tools the executor dispatches to.
func (e *Executor) Registry() *tool.Registry { return e.registry }

// Result is the outcome of one batch. Messages answer the calls in order.
type Result struct {
	Messages  []core.Message
	Cache     map[string]core.CacheEntry
	Resources map[string]string
	Hits      int
	Executed  int
	Evicted   int
}

// outcome is the result of one external invocation.
type outcome struct {
	content   string
	isError   bool
	evicted   bool
	ref       string
	resources map[string]string
}

// Execute answers every call. Fresh cache hits are served without invoking
// the tool; identical calls within the batch run once; the rest fan out
// concurrently. Tool failures become error-shaped tool messages. The only
// returned error is the run context's cancellation.
func (e *Executor) Execute(rc *core.RunContext, st core.State, agent string, calls []core.ToolCall) (Result, error) {
	res := Result{
		Messages:  make([]core.Message, len(calls)),
		Cache:     map[string]core.CacheEntry{},
		Resources: map[string]string{},
	}
	if len(calls) == 0 {
		return res, nil
	}

	now := rc.Now()
	batchStart := time.Now()

	var (
		queue    []core.ToolCall       // unique keys to execute
		slotsFor = map[string][]int{} // key -> call indexes answered by it
	)

	for i, tc := range calls {
		rc.EmitBestEffort(core.NewToolStartedEvent(agent, tc))

		key := tc.CacheKey()
		if entry, ok := st.Cache[key]; ok && entry.Fresh(now, e.opts.TTL) {
			msg := cachedMessage(agent, tc, entry)
			res.Messages[i] = msg
			res.Hits++
			metrics.CacheHits.WithLabelValues(tc.Name).Inc()
			rc.LogDebug("tool.cache.hit", "tool", tc.Name, "age_ms", now.Sub(entry.InsertedAt).Milliseconds())
			rc.EmitBestEffort(core.NewToolCompletedEvent(agent, tc, msg, true))
			continue
		}

		if _, queued := slotsFor[key]; !queued {
			queue = append(queue, tc)
			metrics.CacheMisses.WithLabelValues(tc.Name).Inc()
		}
		slotsFor[key] = append(slotsFor[key], i)
	}

	outcomes := make([]outcome, len(queue))

	g := new(errgroup.Group)
	if e.opts.Concurrency > 0 {
		g.SetLimit(e.opts.Concurrency)
	}
	for qi, tc := range queue {
		g.Go(func() error {
			outcomes[qi] = e.run(rc, st.Resources, agent, tc)
			return nil
		})
	}
	_ = g.Wait() // run never returns an error

	if err := rc.Err(); err != nil {
		return Result{}, err
	}

	for qi, tc := range queue {
		out := outcomes[qi]
		key := tc.CacheKey()
		res.Executed++

		if out.evicted {
			res.Evicted++
		}
		if !out.isError {
			res.Cache[key] = core.CacheEntry{Value: out.content, InsertedAt: now, Evicted: out.evicted, Ref: out.ref}
		}
		for k, v := range out.resources {
			res.Resources[k] = v
		}

		for _, i := range slotsFor[key] {
			call := calls[i]
			msg := core.NewToolMessage(agent, call, out.content, out.isError)
			msg.Evicted = out.evicted
			msg.FullContentRef = out.ref
			res.Messages[i] = msg
			rc.EmitBestEffort(core.NewToolCompletedEvent(agent, call, msg, false))
		}
	}

	rc.LogDebug(
		"tool.batch.complete",
		"agent", agent,
		"count", len(calls),
		"executed", res.Executed,
		"cache_hits", res.Hits,
		"evicted", res.Evicted,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return res, nil
}

func cachedMessage(agent string, tc core.ToolCall, entry core.CacheEntry) core.Message {
	msg := core.NewToolMessage(agent, tc, entry.Value, false)
	msg.Evicted = entry.Evicted
	msg.FullContentRef = entry.Ref
	return msg
}

// run executes one call under the per-call timeout and shapes its result.
func (e *Executor) run(rc *core.RunContext, resources map[string]string, agent string, tc core.ToolCall) outcome {
	ctx, cancel := context.WithTimeout(rc.Context, e.opts.Timeout)
	defer cancel()

	ctx, span := e.opts.Tracer.Start(ctx, "tool."+tc.Name, trace.WithAttributes(
		attribute.String("tool.name", tc.Name),
		attribute.String("tool.call_id", tc.ID),
		attribute.String("agent", agent),
		attribute.String("thread_id", rc.ThreadID),
	))
	defer span.End()

	toolCtx := core.NewToolContext(ctx, rc, agent, tc, resources)

	start := time.Now()
	result, err := e.invoke(toolCtx, tc)
	dur := time.Since(start)

	metrics.RecordToolCall(tc.Name, err != nil, dur)
	rc.LogInfo(
		"tool.executed",
		"agent", agent,
		"tool", tc.Name,
		"tool_call_id", tc.ID,
		"duration_ms", dur.Milliseconds(),
		"error", err != nil,
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rc.LogWarn("tool.failed", "tool", tc.Name, "code", core.ErrorCode(err), "error", err)
		return outcome{content: errorContent(tc.Name, err), isError: true}
	}

	content := stringify(result)
	out := outcome{content: content, resources: toolCtx.StagedResources()}
	for k, v := range scavenge(content, e.opts.ResourcePaths) {
		if _, staged := out.resources[k]; !staged {
			if out.resources == nil {
				out.resources = map[string]string{}
			}
			out.resources[k] = v
		}
	}

	if _, exempt := e.noEvict[tc.Name]; !exempt {
		if preview, ref, ok := e.evict(ctx, rc, tc, content); ok {
			out.content, out.evicted, out.ref = preview, true, ref
			metrics.Evictions.WithLabelValues(tc.Name).Inc()
			span.SetAttributes(attribute.Bool("tool.result_evicted", true))
		}
	}

	return out
}

// invoke looks the tool up and calls it, converting panics and timeouts into
// ToolErrors. A tool that ignores its context is abandoned at the deadline.
func (e *Executor) invoke(toolCtx *core.ToolContext, tc core.ToolCall) (any, error) {
	impl, err := e.registry.Get(tc.Name)
	if err != nil {
		return nil, tool.NewToolError(tc.Name, fmt.Sprintf("tool %q is not available", tc.Name), tool.CodeUnknownTool)
	}

	type callResult struct {
		value any
		err   error
	}

	done := make(chan callResult, 1)
	go func() {
		var r callResult
		defer func() {
			if p := recover(); p != nil {
				toolCtx.LogError("tool.panic", "recover", p, "stack", string(debug.Stack()))
				r = callResult{err: tool.NewToolError(tc.Name, fmt.Sprintf("tool panicked: %v", p), tool.CodePanic)}
			}
			done <- r
		}()
		args := tc.Arguments
		if args == nil {
			args = map[string]any{}
		}
		r.value, r.err = impl.Call(toolCtx, args)
	}()

	ctx := toolCtx.Context()
	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return nil, tool.NewToolError(tc.Name, "tool call timed out", tool.CodeTimeout)
		}
		return r.value, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, tool.NewToolError(tc.Name, fmt.Sprintf("tool call timed out after %s", e.opts.Timeout), tool.CodeTimeout)
		}
		return nil, ctx.Err()
	}
}

func errorContent(name string, err error) string {
	var toolErr *tool.ToolError
	if errors.As(err, &toolErr) {
		return fmt.Sprintf("Error [%s] from %s: %s", toolErr.Code, name, toolErr.Message)
	}
	return fmt.Sprintf("Error [%s] from %s: %s", core.ErrorCode(err), name, err.Error())
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.RawMessage:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
