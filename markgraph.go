// Package markgraph provides a high-level façade over the engine and the
// marketing team of agents (a supervisor routing to the ads and sheets
// specialists). Most applications interact with this package by:
//  1. Creating a MarkGraph via New() with a model (optionally overriding the
//     default in-memory checkpoint and blob stores)
//  2. Sending messages to a thread with Invoke or InvokeSync
//  3. Answering paused turns with Approve
//
// All defaults are safe for local development and testing; production
// deployments typically supply durable stores and a structured logger.
package markgraph

import (
	"context"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/engine"
	"github.com/shubhambiswas2196/markgraph/internal/demo"
	"github.com/shubhambiswas2196/markgraph/logging"
	"github.com/shubhambiswas2196/markgraph/model"
)

// Options configures the MarkGraph instance.
type Options struct {
	// Engine options (stores, limits, tool execution, callbacks).
	Engine []func(o *engine.Options)

	// Team options (fake services, model call policy, approval policy).
	Team []func(o *demo.TeamOptions)

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// MarkGraph is the high-level façade aggregating the team and its engine.
type MarkGraph struct {
	opts   Options
	engine *engine.Engine
}

// New builds the team over m and the engine running it.
func New(m model.Model, optFns ...func(o *Options)) (*MarkGraph, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	sup, specialists, err := demo.NewTeam(m, opts.Team...)
	if err != nil {
		return nil, err
	}

	engineOpts := append([]func(o *engine.Options){func(o *engine.Options) {
		o.Logger = opts.Logger
	}}, opts.Engine...)

	eng, err := engine.New(sup, specialists, engineOpts...)
	if err != nil {
		return nil, err
	}

	return &MarkGraph{opts: opts, engine: eng}, nil
}

// Engine exposes the underlying engine.
func (g *MarkGraph) Engine() *engine.Engine { return g.engine }

// Invoke starts a turn with a human message, returning event & error channels.
func (g *MarkGraph) Invoke(ctx context.Context, threadID, message string) (string, <-chan core.Event, <-chan error, error) {
	return g.engine.Invoke(ctx, threadID, engine.Input{Message: message})
}

// InvokeSync is a synchronous helper that drains the async channels.
func (g *MarkGraph) InvokeSync(ctx context.Context, threadID, message string) (engine.Result, error) {
	return g.engine.InvokeSync(ctx, threadID, engine.Input{Message: message})
}

// Approve answers the pending approval of threadID and runs the resumed turn
// to completion.
func (g *MarkGraph) Approve(ctx context.Context, threadID string, approved bool, comment string) (engine.Result, error) {
	return g.engine.InvokeSync(ctx, threadID, engine.Input{
		Approval: &engine.ApprovalDecision{Approved: approved, Comment: comment},
	})
}

// State returns the committed state of threadID.
func (g *MarkGraph) State(ctx context.Context, threadID string) (core.State, bool) {
	return g.engine.State(ctx, threadID)
}

// Forget deletes the checkpoint and evicted payloads of threadID.
func (g *MarkGraph) Forget(ctx context.Context, threadID string) error {
	return g.engine.Forget(ctx, threadID)
}

// Cancel aborts the in-flight turn of threadID.
func (g *MarkGraph) Cancel(threadID string) error { return g.engine.Cancel(threadID) }
