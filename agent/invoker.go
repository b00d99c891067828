package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/guard"
	"github.com/shubhambiswas2196/markgraph/metrics"
	"github.com/shubhambiswas2196/markgraph/model"
)

// Defaults for InvokerOptions.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	DefaultModelTimeout   = 60 * time.Second
)

// InvokerOptions configure the model call policy shared by every agent node.
type InvokerOptions struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialBackoff and MaxBackoff bound the exponential delay between attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Limiter paces model calls across the engine. Nil disables pacing.
	Limiter *rate.Limiter
	// Stream requests incremental output and forwards text deltas as events.
	Stream bool
	// Approval supplies the sentinel removed from streamed deltas.
	Approval *guard.ApprovalPolicy
}

// Invoker calls a Model with a per-attempt timeout, optional pacing and
// bounded exponential backoff on transient errors.
type Invoker struct {
	model model.Model
	opts  InvokerOptions
}

// NewInvoker wraps m with the call policy.
func NewInvoker(m model.Model, optFns ...func(o *InvokerOptions)) *Invoker {
	opts := InvokerOptions{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		Timeout:        DefaultModelTimeout,
		Stream:         true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Approval == nil {
		opts.Approval = guard.NewApprovalPolicy()
	}

	return &Invoker{model: m, opts: opts}
}

// Model returns the wrapped model.
func (inv *Invoker) Model() model.Model { return inv.model }

// Invoke runs req against the model on behalf of agent and returns the
// final response. Text deltas are emitted as text_delta events while the
// first attempt streams in, with the approval sentinel removed. A retried
// attempt is buffered and only the text not already streamed is emitted once
// it succeeds. Only transient failures are retried.
func (inv *Invoker) Invoke(rc *core.RunContext, agent string, req model.Request) (model.Response, error) {
	if inv.model == nil {
		return model.Response{}, core.NewConfigurationError("model", "agent %q has no model", agent)
	}

	req.Stream = inv.opts.Stream

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = inv.opts.InitialBackoff
	exp.MaxInterval = inv.opts.MaxBackoff
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(inv.opts.MaxAttempts-1)), rc.Context)

	stream := newDeltaStream(rc, agent, inv.opts.Approval.Sentinel())

	var (
		resp    model.Response
		attempt int
		retried strings.Builder
	)

	op := func() error {
		if err := rc.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++

		if inv.opts.Limiter != nil {
			if err := inv.opts.Limiter.Wait(rc.Context); err != nil {
				return backoff.Permanent(err)
			}
		}

		ctx, cancel := context.WithTimeout(rc.Context, inv.opts.Timeout)
		defer cancel()

		onDelta := stream.write
		if attempt > 1 {
			retried.Reset()
			onDelta = func(delta string) { retried.WriteString(delta) }
		}

		r, err := model.Collect(ctx, inv.model, req, onDelta)
		if err == nil {
			resp = r
			if attempt > 1 {
				stream.replay(retried.String())
			}
			stream.flush()
			return nil
		}

		if cerr := rc.Err(); cerr != nil {
			return backoff.Permanent(cerr)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = core.NewTransientError("model "+inv.model.Info().Name, fmt.Errorf("attempt timed out after %s: %w", inv.opts.Timeout, err))
		}
		if !core.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.ModelRetries.WithLabelValues(agent).Inc()
		rc.LogWarn("model.retry", "agent", agent, "attempt", attempt, "wait_ms", wait.Milliseconds(), "error", err.Error())
	}

	start := time.Now()
	err := backoff.RetryNotify(op, policy, notify)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ModelCalls.WithLabelValues(agent, status).Inc()

	if err != nil {
		stream.reset()
		rc.LogError("model.failed", "agent", agent, "attempts", attempt, "code", core.ErrorCode(err), "error", err.Error())
		return model.Response{}, err
	}

	rc.LogDebug(
		"model.completed",
		"agent", agent,
		"attempts", attempt,
		"tool_calls", len(resp.ToolCalls),
		"finish_reason", resp.FinishReason,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return resp, nil
}
