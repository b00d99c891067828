package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/shubhambiswas2196/markgraph/agent"
	"github.com/shubhambiswas2196/markgraph/artifact"
	"github.com/shubhambiswas2196/markgraph/checkpoint"
	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/graph"
	"github.com/shubhambiswas2196/markgraph/guard"
	"github.com/shubhambiswas2196/markgraph/logging"
	"github.com/shubhambiswas2196/markgraph/metrics"
	"github.com/shubhambiswas2196/markgraph/tool"
	"github.com/shubhambiswas2196/markgraph/toolexec"
)

// Config defines tuning parameters for the Engine's operational behavior.
type Config struct {
	// MaxConcurrentInvocations bounds turns running at once across threads.
	// Set to 0 for unlimited (not recommended).
	MaxConcurrentInvocations int64

	// EventBufferSize sets the channel buffer size for event streaming.
	EventBufferSize int

	// MaxIterations caps node executions per invocation.
	MaxIterations int

	// CheckpointTimeout bounds every checkpoint store call.
	CheckpointTimeout time.Duration

	// ReadPageChars is the page size of the read_full_result tool.
	ReadPageChars int

	// LoopWindow is how many AI turns back the loop guard looks.
	LoopWindow int
}

// DefaultConfig provides the default configuration values.
var DefaultConfig = Config{
	MaxConcurrentInvocations: 10,
	EventBufferSize:          100,
	MaxIterations:            graph.DefaultMaxIterations,
	CheckpointTimeout:        5 * time.Second,
	ReadPageChars:            tool.DefaultReadPageChars,
	LoopWindow:               guard.DefaultLoopWindow,
}

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	// Config contains operational parameters for the engine behavior.
	Config Config

	// Checkpoints persists thread state. Defaults to an in-memory store.
	Checkpoints checkpoint.Store

	// Blobs keeps evicted tool payloads. Defaults to a bounded in-memory store.
	Blobs artifact.Store

	// ToolOptions tune the cache and eviction layer of every agent.
	ToolOptions []func(o *toolexec.Options)

	// Callbacks observe the turn lifecycle.
	Callbacks []Callback

	// Clock drives cache freshness. Defaults to time.Now in UTC.
	Clock core.Clock

	// Tracer is handed to the graph and the tool executors.
	Tracer trace.Tracer

	// Logger provides structured logging. Defaults to NoOp logger.
	Logger logging.Logger
}

type activeTurn struct {
	invocationID string
	cancel       context.CancelFunc
}

// Engine runs turns of the supervisor / specialist graph against threads.
//
// Concurrency Model:
//   - One turn at a time per thread; a second Invoke gets ErrThreadBusy
//   - Turns of different threads run concurrently, bounded by a weighted semaphore
//   - Every transition is checkpointed before the next node runs
type Engine struct {
	graph        *graph.Compiled
	executors    map[string]*toolexec.Executor
	loop         *guard.LoopGuard
	checkpointer *checkpoint.Checkpointer
	blobs        artifact.Store
	callbacks    *CallbackManager
	sem          *semaphore.Weighted
	logger       logging.Logger
	opts         Options

	mu     sync.Mutex
	active map[string]activeTurn
}

// New builds an Engine over a supervisor and the specialists it routes to.
//
// Every agent additionally gets the read_full_result tool bound to the blob
// store so evicted results stay reachable.
func New(sup *agent.Supervisor, specialists []*agent.Specialist, optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if sup == nil {
		return nil, core.NewConfigurationError("supervisor", "supervisor is required")
	}
	if err := checkRoster(sup, specialists); err != nil {
		return nil, err
	}

	if opts.Checkpoints == nil {
		opts.Checkpoints = checkpoint.NewMemoryStore()
	}
	if opts.Blobs == nil {
		opts.Blobs = artifact.NewInMemoryStore()
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Config.EventBufferSize <= 0 {
		opts.Config.EventBufferSize = DefaultConfig.EventBufferSize
	}
	if opts.Config.MaxIterations <= 0 {
		opts.Config.MaxIterations = DefaultConfig.MaxIterations
	}
	if opts.Config.CheckpointTimeout <= 0 {
		opts.Config.CheckpointTimeout = DefaultConfig.CheckpointTimeout
	}

	e := &Engine{
		executors: make(map[string]*toolexec.Executor, len(specialists)+1),
		loop:      guard.NewLoopGuard(opts.Config.LoopWindow),
		blobs:     opts.Blobs,
		callbacks: NewCallbackManager(opts.Callbacks...),
		logger:    opts.Logger,
		opts:      opts,
		active:    make(map[string]activeTurn),
	}
	e.checkpointer = checkpoint.NewCheckpointer(opts.Checkpoints, func(o *checkpoint.CheckpointerOptions) {
		o.Timeout = opts.Config.CheckpointTimeout
		o.Logger = opts.Logger
		o.Clock = opts.Clock
	})
	if opts.Config.MaxConcurrentInvocations > 0 {
		e.sem = semaphore.NewWeighted(opts.Config.MaxConcurrentInvocations)
	}

	readFull := tool.NewReadFullResultTool(opts.Blobs, opts.Config.ReadPageChars)

	sup, err := sup.WithTools(readFull)
	if err != nil {
		return nil, err
	}
	e.executors[agent.SupervisorName] = e.newExecutor(agent.SupervisorName, sup.Tools())

	bound := make([]*agent.Specialist, len(specialists))
	for i, sp := range specialists {
		if bound[i], err = sp.WithTools(readFull); err != nil {
			return nil, err
		}
		e.executors[sp.Name()] = e.newExecutor(sp.Name(), bound[i].Tools())
	}

	if e.graph, err = e.buildGraph(sup, bound); err != nil {
		return nil, err
	}

	return e, nil
}

// checkRoster verifies that the supervisor routes to exactly the given specialists.
func checkRoster(sup *agent.Supervisor, specialists []*agent.Specialist) error {
	known := map[string]struct{}{}
	for _, sp := range specialists {
		if sp == nil {
			return core.NewConfigurationError("specialists", "nil specialist")
		}
		known[sp.Name()] = struct{}{}
	}

	routable := sup.Specialists()
	if len(routable) != len(known) {
		return core.NewConfigurationError("specialists", "supervisor routes to %v but %d specialists were given", routable, len(specialists))
	}
	for _, name := range routable {
		if _, ok := known[name]; !ok {
			return core.NewConfigurationError("specialists", "supervisor routes to unknown specialist %q", name)
		}
	}
	return nil
}

// Nodes returns the graph's node names.
func (e *Engine) Nodes() []string { return e.graph.Nodes() }

// Invoke starts a turn on threadID and streams its events.
//
// Immediate errors (returned directly): empty input, ErrThreadBusy,
// ErrNoPendingApproval, invalid seed history. Terminal errors of the running
// turn arrive on the error channel after the matching error event. Both
// channels are closed when the turn ends.
func (e *Engine) Invoke(ctx context.Context, threadID string, in Input) (string, <-chan core.Event, <-chan error, error) {
	if threadID == "" {
		return "", nil, nil, core.NewConfigurationError("thread_id", "thread id is required")
	}
	if in.Message == "" && in.Approval == nil {
		return "", nil, nil, ErrEmptyInput
	}

	invocationID := core.NewID()
	turnCtx, cancel := context.WithCancel(ctx)

	if err := e.claim(threadID, activeTurn{invocationID: invocationID, cancel: cancel}); err != nil {
		cancel()
		return "", nil, nil, err
	}

	st, start, err := e.prepare(turnCtx, threadID, in)
	if err != nil {
		e.release(threadID, invocationID)
		cancel()
		return "", nil, nil, err
	}

	eventsCh := make(chan core.Event, e.opts.Config.EventBufferSize)
	errorsCh := make(chan error, 1)

	emit := func(ev core.Event) error {
		select {
		case <-turnCtx.Done():
			return turnCtx.Err()
		case eventsCh <- ev:
			return nil
		}
	}

	rc := core.NewRunContext(turnCtx, threadID, invocationID, emit, e.logger)
	rc.Clock = e.opts.Clock
	rc.Limiter = core.NewIterationLimiter(e.opts.Config.MaxIterations)

	go func() {
		defer func() {
			e.release(threadID, invocationID)
			cancel()
			close(eventsCh)
			close(errorsCh)
		}()

		if err := e.run(rc, st, start); err != nil {
			errorsCh <- err
		}
	}()

	return invocationID, eventsCh, errorsCh, nil
}

// InvokeSync runs a turn to completion and collects its events.
func (e *Engine) InvokeSync(ctx context.Context, threadID string, in Input) (Result, error) {
	invocationID, eventsCh, errorsCh, err := e.Invoke(ctx, threadID, in)
	if err != nil {
		return Result{}, err
	}

	res := Result{InvocationID: invocationID}
	for ev := range eventsCh {
		res.Events = append(res.Events, ev)
		switch ev.Type {
		case core.EventTurnComplete:
			res.Response, res.Status = ev.Text, ev.Status
		case core.EventApprovalRequired:
			res.Response, res.Status = ev.Text, core.StatusAwaitingApproval
		case core.EventError:
			res.Response, res.Status = ev.Text, core.StatusFailed
		}
	}

	if err := <-errorsCh; err != nil {
		if res.Response == "" {
			res.Response = core.UserMessage(err)
			res.Status = core.StatusFailed
		}
		return res, err
	}

	if res.Status == core.StatusAwaitingApproval {
		if st, ok := e.State(ctx, threadID); ok {
			res.Pending = st.PendingApproval
		}
	}

	return res, nil
}

// Cancel aborts the in-flight turn of threadID. The last committed
// checkpoint stays valid.
func (e *Engine) Cancel(threadID string) error {
	e.mu.Lock()
	turn, ok := e.active[threadID]
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("thread %s has no turn in flight", threadID)
	}

	turn.cancel()
	return nil
}

// State returns the committed state of threadID. found is false for a
// thread without checkpoint.
func (e *Engine) State(ctx context.Context, threadID string) (core.State, bool) {
	return e.checkpointer.Load(ctx, threadID)
}

// Forget abandons threadID: its checkpoint and evicted payloads are deleted.
// The thread is claimed for the whole call, so no turn can start on it
// until the checkpoint and payloads are gone.
func (e *Engine) Forget(ctx context.Context, threadID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	claimID := core.NewID()
	if err := e.claim(threadID, activeTurn{invocationID: claimID, cancel: cancel}); err != nil {
		return fmt.Errorf("forget: %w", err)
	}
	defer e.release(threadID, claimID)

	if err := e.checkpointer.Forget(ctx, threadID); err != nil {
		return fmt.Errorf("forget %s: %w", threadID, err)
	}

	refs, err := e.blobs.List(ctx, threadID)
	if err != nil {
		return fmt.Errorf("forget %s: list blobs: %w", threadID, err)
	}
	var errs []error
	for _, ref := range refs {
		if err := e.blobs.Delete(ctx, threadID, ref); err != nil && !errors.Is(err, artifact.ErrNotFound) {
			errs = append(errs, err)
		}
	}

	e.logger.Info("engine.thread.forgotten", "thread_id", threadID, "blobs", len(refs))
	return errors.Join(errs...)
}

func (e *Engine) claim(threadID string, turn activeTurn) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, busy := e.active[threadID]; busy {
		return fmt.Errorf("thread %s: %w", threadID, core.ErrThreadBusy)
	}
	e.active[threadID] = turn
	return nil
}

func (e *Engine) release(threadID, invocationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if turn, ok := e.active[threadID]; ok && turn.invocationID == invocationID {
		delete(e.active, threadID)
	}
}

// prepare loads the thread and applies the input. It returns the state to
// run and the start node; an empty start with a terminal status means the
// input itself ended the turn (rejection).
func (e *Engine) prepare(ctx context.Context, threadID string, in Input) (core.State, string, error) {
	st, found := e.checkpointer.Load(ctx, threadID)

	if !found && len(in.History) > 0 {
		if err := core.ValidateHistory(in.History); err != nil {
			return core.State{}, "", core.NewConfigurationError("history", "%v", err)
		}
		st = st.Apply(core.Update{Messages: in.History})
	}

	if in.Approval != nil {
		return e.resume(st, *in.Approval)
	}

	if repair := danglingAnswers(st); len(repair) > 0 {
		e.logger.Warn("engine.history.repaired", "thread_id", threadID, "calls", len(repair))
		st = st.Apply(core.Update{Messages: repair})
	}

	return st.BeginTurn(core.NewHumanMessage(in.Message)), agent.SupervisorName, nil
}

// resume applies an approval decision to a paused thread.
func (e *Engine) resume(st core.State, d ApprovalDecision) (core.State, string, error) {
	pending := st.PendingApproval
	if pending == nil {
		return core.State{}, "", fmt.Errorf("thread %s: %w", st.ThreadID, core.ErrNoPendingApproval)
	}

	if !d.Approved {
		metrics.Approvals.WithLabelValues("rejected").Inc()
		notice := guard.RejectionNotice
		return st.Apply(core.Update{
			Messages:             []core.Message{core.NewAIMessage(pending.Agent, notice)},
			ClearPendingApproval: true,
			FinalResponse:        core.Ptr(notice),
			Status:               core.Ptr(core.StatusCompleted),
		}), "", nil
	}

	metrics.Approvals.WithLabelValues("approved").Inc()

	u := core.Update{
		Sender:               core.Ptr(pending.Agent),
		PermissionGranted:    core.Ptr(true),
		ClearPendingApproval: true,
		FinalResponse:        core.Ptr(""),
		Status:               core.Ptr(core.StatusRunning),
	}

	start := pending.Agent
	if pending.Message.HasToolCalls() {
		u.Messages = []core.Message{pending.Message}
		start = ToolsNode
	}

	return st.Apply(u), start, nil
}

// run executes one turn and reports it through events, checkpoints,
// callbacks and metrics.
func (e *Engine) run(rc *core.RunContext, st core.State, start string) error {
	began := time.Now()
	metrics.TurnsStarted.Inc()

	if e.sem != nil {
		if err := e.sem.Acquire(rc.Context, 1); err != nil {
			return err
		}
		defer e.sem.Release(1)
	}

	rc.LogInfo("turn.started", "start", start, "turn", st.Turn, "messages", len(st.Messages))

	next := start
	if next == "" {
		next = graph.END
	}
	_ = e.checkpointer.Save(rc.Context, st, e.metadata(rc, "input", next))

	final := st
	var err error
	if start != "" {
		final, err = e.graph.Run(rc, st, func(o *graph.RunOptions) {
			o.Start = start
			o.MaxIterations = e.opts.Config.MaxIterations
			o.Hook = e.afterStep
			o.Tracer = e.opts.Tracer
		})
	}

	if err != nil {
		return e.fail(rc, final, err, began)
	}

	if final.Status == core.StatusAwaitingApproval && final.PendingApproval != nil {
		metrics.Approvals.WithLabelValues("requested").Inc()
		metrics.RecordTurn(string(core.StatusAwaitingApproval), time.Since(began))
		e.notify(rc, CallbackApprovalRequired, final, nil)

		ev := core.NewEvent(core.EventApprovalRequired, final.PendingApproval.Agent)
		ev.Text = final.PendingApproval.Prompt
		ev.Status = core.StatusAwaitingApproval
		rc.LogInfo("turn.paused", "agent", final.PendingApproval.Agent, "iterations", final.Iteration)
		return rc.Emit(ev)
	}

	if final.Status != core.StatusCompleted || final.FinalResponse == "" {
		response := final.FinalResponse
		if response == "" {
			response = final.LastAIText()
		}
		if response == "" {
			response = agent.NoAnswerNotice
		}
		final = final.Apply(core.Update{FinalResponse: core.Ptr(response), Status: core.Ptr(core.StatusCompleted)})
		_ = e.checkpointer.Save(rc.Context, final, e.metadata(rc, graph.END, graph.END))
	}

	metrics.RecordTurn(string(core.StatusCompleted), time.Since(began))
	e.notify(rc, CallbackTurnComplete, final, nil)

	ev := core.NewEvent(core.EventTurnComplete, final.Sender)
	ev.Text = final.FinalResponse
	ev.Status = core.StatusCompleted
	rc.LogInfo("turn.completed", "iterations", final.Iteration, "duration_ms", time.Since(began).Milliseconds())
	return rc.Emit(ev)
}

// fail records a failed turn. Cancellation leaves the last checkpoint
// untouched; any other error is committed as a failed turn whose history
// stays valid for the next one.
func (e *Engine) fail(rc *core.RunContext, st core.State, cause error, began time.Time) error {
	if errors.Is(cause, context.Canceled) {
		metrics.RecordTurn("cancelled", time.Since(began))
		rc.LogInfo("turn.cancelled", "node", st.Node)
		return cause
	}

	metrics.RecordTurn(string(core.StatusFailed), time.Since(began))
	rc.LogError("turn.failed", "node", st.Node, "code", core.ErrorCode(cause), "error", cause.Error())

	message := core.UserMessage(cause)
	failed := st.Apply(core.Update{
		Messages:      danglingAnswers(st),
		FinalResponse: core.Ptr(message),
		Status:        core.Ptr(core.StatusFailed),
	})
	_ = e.checkpointer.Save(rc.Context, failed, e.metadata(rc, st.Node, graph.END))
	e.notify(rc, CallbackOnError, failed, cause)

	rc.EmitBestEffort(core.NewErrorEvent(st.Node, cause))

	ev := core.NewEvent(core.EventTurnComplete, st.Node)
	ev.Text = message
	ev.Status = core.StatusFailed
	ev.ErrorCode = core.ErrorCode(cause)
	rc.EmitBestEffort(ev)

	return cause
}

// afterStep is the graph hook: checkpoint, then callbacks.
func (e *Engine) afterStep(rc *core.RunContext, ran, next string, st core.State) {
	_ = e.checkpointer.Save(rc.Context, st, e.metadata(rc, ran, next))

	if err := e.callbacks.ExecuteCallbacks(rc.Context, CallbackAfterNode, &CallbackContext{
		ThreadID:     rc.ThreadID,
		InvocationID: rc.InvocationID,
		Node:         ran,
		Next:         next,
		State:        st,
	}); err != nil {
		rc.LogWarn("engine.callback.failed", "error", err.Error())
	}
}

func (e *Engine) notify(rc *core.RunContext, typ CallbackType, st core.State, cause error) {
	if err := e.callbacks.ExecuteCallbacks(rc.Context, typ, &CallbackContext{
		ThreadID:     rc.ThreadID,
		InvocationID: rc.InvocationID,
		Node:         st.Node,
		State:        st,
		Err:          cause,
	}); err != nil {
		rc.LogWarn("engine.callback.failed", "error", err.Error())
	}
}

func (e *Engine) metadata(rc *core.RunContext, ran, next string) map[string]string {
	return map[string]string{
		"invocation_id": rc.InvocationID,
		"node":          ran,
		"next":          next,
	}
}
