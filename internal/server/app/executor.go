package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"strand/internal/async"
	"strand/internal/graph"
	"strand/internal/logging"
	"strand/internal/observability"
)

const (
	defaultRecursionLimit = 25
	defaultWebhookTimeout = 10 * time.Second

	// streamChannelSize gives attached consumers a little slack before the
	// engine blocks on them.
	streamChannelSize = 16
)

// Cancellation causes. The cause decides how a cancelled run winds down:
// superseded and explicitly cancelled runs always stop, while a plain
// context cancellation means the attached client went away and the
// disconnect policy applies.
var (
	errRunCancelled  = errors.New("run cancelled")
	errRunSuperseded = errors.New("run superseded by a newer run on the thread")
)

// RunExecutor drives workflow graph executions: one active run per thread,
// events fanned out through the buffer, disconnect and multitask policies
// enforced here.
type RunExecutor struct {
	graphs  map[string]graph.Graph
	buffer  *EventBuffer
	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
	webhook *http.Client

	mu     sync.Mutex
	active map[string]*ActiveRun // thread_id -> run
}

// RunExecutorOption customizes a RunExecutor.
type RunExecutorOption func(*RunExecutor)

// WithExecutorLogger overrides the component logger.
func WithExecutorLogger(logger logging.Logger) RunExecutorOption {
	return func(e *RunExecutor) {
		e.logger = logging.OrNop(logger)
	}
}

// WithExecutorMetrics attaches the metrics collector.
func WithExecutorMetrics(metrics *observability.MetricsCollector) RunExecutorOption {
	return func(e *RunExecutor) {
		e.metrics = metrics
	}
}

// WithExecutorTracer attaches the tracer provider.
func WithExecutorTracer(tracer *observability.TracerProvider) RunExecutorOption {
	return func(e *RunExecutor) {
		e.tracer = tracer
	}
}

// WithWebhookClient overrides the HTTP client used for webhook callbacks.
func WithWebhookClient(client *http.Client) RunExecutorOption {
	return func(e *RunExecutor) {
		if client != nil {
			e.webhook = client
		}
	}
}

// NewRunExecutor creates an executor over the registered graphs.
func NewRunExecutor(graphs map[string]graph.Graph, buffer *EventBuffer, opts ...RunExecutorOption) *RunExecutor {
	e := &RunExecutor{
		graphs:  graphs,
		buffer:  buffer,
		logger:  logging.NewComponentLogger("RunExecutor"),
		webhook: &http.Client{Timeout: defaultWebhookTimeout},
		active:  make(map[string]*ActiveRun),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the registered graph for an assistant id.
func (e *RunExecutor) Graph(assistantID string) (graph.Graph, error) {
	g, ok := e.graphs[assistantID]
	if !ok {
		return nil, NotFoundErrorf("graph %s", assistantID)
	}
	return g, nil
}

// ListGraphs returns the registered assistant ids in stable order.
func (e *RunExecutor) ListGraphs() []string {
	ids := make([]string, 0, len(e.graphs))
	for id := range e.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasActiveRun reports whether the thread currently executes a run.
func (e *RunExecutor) HasActiveRun(threadID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[threadID] != nil
}

// ActiveRunView returns the wire view of the thread's active run, or nil.
func (e *RunExecutor) ActiveRunView(threadID string) *Run {
	e.mu.Lock()
	run := e.active[threadID]
	e.mu.Unlock()
	if run == nil {
		return nil
	}
	return run.View()
}

// GetRun returns the active run when its id matches.
func (e *RunExecutor) GetRun(threadID, runID string) (*Run, error) {
	view := e.ActiveRunView(threadID)
	if view == nil || view.RunID != runID {
		return nil, NotFoundErrorf("run %s on thread %s", runID, threadID)
	}
	return view, nil
}

// CancelRun cancels the thread's active run when its id matches. The run's
// buffer receives a terminal end event with a cancelled status.
func (e *RunExecutor) CancelRun(ctx context.Context, threadID, runID string) bool {
	e.mu.Lock()
	run := e.active[threadID]
	if run == nil || run.RunID != runID {
		e.mu.Unlock()
		return false
	}
	delete(e.active, threadID)
	e.mu.Unlock()

	run.cancelWith(errRunCancelled)
	e.buffer.Append(runID, Event{Event: EventEnd, Data: map[string]any{"status": "cancelled"}})
	e.logger.Info("Run %s on thread %s cancelled", runID, threadID)
	return true
}

// CancelAll cancels every active run. Used on shutdown.
func (e *RunExecutor) CancelAll() {
	e.mu.Lock()
	runs := make([]*ActiveRun, 0, len(e.active))
	for _, run := range e.active {
		runs = append(runs, run)
	}
	e.active = make(map[string]*ActiveRun)
	e.mu.Unlock()

	for _, run := range runs {
		run.cancelWith(errRunCancelled)
	}
	if len(runs) > 0 {
		e.logger.Info("Cancelled %d active runs", len(runs))
	}
}

// register admits a run under the multitask strategy, cancelling the
// incumbent for interrupt and rollback. Rollback degrades to interrupt: the
// engine owns checkpoint truncation and does not expose it here. Enqueue
// degrades to reject.
func (e *RunExecutor) register(run *ActiveRun, strategy MultitaskStrategy) error {
	if strategy == "" {
		strategy = MultitaskReject
	}

	e.mu.Lock()
	existing := e.active[run.ThreadID]
	if existing != nil {
		switch strategy {
		case MultitaskInterrupt, MultitaskRollback:
			delete(e.active, run.ThreadID)
		case MultitaskEnqueue:
			e.mu.Unlock()
			return ConflictError("enqueue strategy not supported, thread has an active run")
		default:
			e.mu.Unlock()
			return ConflictError("thread already has an active run")
		}
	}
	e.active[run.ThreadID] = run
	e.mu.Unlock()

	if existing != nil {
		e.logger.Info("multitask_strategy=%s: cancelling run %s for new run %s", strategy, existing.RunID, run.RunID)
		existing.cancelWith(errRunSuperseded)
		e.buffer.Append(existing.RunID, Event{
			Event: EventError,
			Data:  map[string]any{"message": fmt.Sprintf("Run %s by new run", strategy)},
		})
		e.buffer.Finish(existing.RunID)
	}
	return nil
}

// deregister removes the run unless a newer run already took the slot.
func (e *RunExecutor) deregister(run *ActiveRun) {
	e.mu.Lock()
	if e.active[run.ThreadID] == run {
		delete(e.active, run.ThreadID)
	}
	e.mu.Unlock()
}

// StreamRun admits and executes a run attached to the caller. The returned
// channel carries every event of the run and closes when it reaches a
// terminal state or detaches to the background. Cancelling ctx triggers the
// run's disconnect policy.
func (e *RunExecutor) StreamRun(ctx context.Context, threadID string, req *RunRequest) <-chan Event {
	out := make(chan Event, streamChannelSize)
	async.Go(e.logger, "executor.stream_run", func() {
		defer close(out)
		e.streamAttached(ctx, threadID, req, out)
	})
	return out
}

func (e *RunExecutor) streamAttached(ctx context.Context, threadID string, req *RunRequest, out chan<- Event) {
	g, err := e.Graph(req.AssistantID)
	if err != nil {
		e.forward(ctx, out, errorEvent(fmt.Sprintf("Graph %s not found", req.AssistantID)))
		return
	}

	run := &ActiveRun{
		RunID:        uuid.NewString(),
		ThreadID:     threadID,
		AssistantID:  req.AssistantID,
		Metadata:     req.Metadata,
		OnDisconnect: disconnectOr(req.OnDisconnect, DisconnectCancel),
		CreatedAt:    time.Now(),
		status:       RunStatusRunning,
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	run.setCancel(cancel)

	if err := e.register(run, req.MultitaskStrategy); err != nil {
		e.forward(ctx, out, errorEvent(conflictMessage(err)))
		return
	}

	detached := false
	defer func() {
		if !detached {
			e.deregister(run)
		}
	}()

	resumable := req.StreamResumable
	emit := func(ev Event) error {
		if resumable {
			e.buffer.Append(run.RunID, ev)
		}
		return e.forward(runCtx, out, ev)
	}

	obsCtx := observability.ContextWithThreadID(observability.ContextWithRunID(runCtx, run.RunID), threadID)
	if e.tracer != nil {
		spanCtx, span := e.tracer.StartSpan(obsCtx, observability.SpanRunExecute,
			observability.RunAttrs(run.RunID, threadID, req.AssistantID)...)
		obsCtx = spanCtx
		defer span.End()
	}

	cfg := buildRunConfig(threadID, req)
	opts := buildStreamOptions(req)
	modeLabel := singleModeLabel(req.StreamMode)

	// Cancellation during the attached phase: superseded and explicitly
	// cancelled runs stop quietly, a client disconnect consults the
	// disconnect policy.
	handleCancelled := func() {
		cause := context.Cause(runCtx)
		if !errors.Is(cause, errRunCancelled) && !errors.Is(cause, errRunSuperseded) &&
			run.OnDisconnect == DisconnectContinue {
			detached = true
			e.detach(g, run, req, cfg, opts, modeLabel, resumable)
			return
		}
		e.windDownCancelled(obsCtx, run, req, resumable, cause)
	}

	if !e.waitDelay(runCtx, run.RunID, req.AfterSeconds) {
		handleCancelled()
		return
	}

	if e.metrics != nil {
		e.metrics.RecordRunStarted(obsCtx, req.AssistantID)
	}

	if err := emit(metadataEvent(run.RunID, threadID)); err != nil {
		handleCancelled()
		return
	}

	streamErr := g.Stream(runCtx, buildInput(req), cfg, opts, func(c graph.Chunk) error {
		return emit(chunkToEvent(c, modeLabel))
	})

	if streamErr == nil {
		e.finalize(obsCtx, g, run, req, cfg, resumable, func(ev Event) { _ = emit(ev) })
		return
	}

	if runCtx.Err() != nil {
		handleCancelled()
		return
	}

	// Engine failure: the error event is buffered even for non-resumable
	// streams so the failure stays observable after disconnect.
	run.setStatus(RunStatusError)
	e.logger.Error("Run %s failed: %v", run.RunID, streamErr)
	ev := errorEvent(streamErr.Error())
	e.buffer.Append(run.RunID, ev)
	e.buffer.Finish(run.RunID)
	_ = e.forward(ctx, out, ev)
	e.recordCompletion(obsCtx, run, req)
}

// CreateRun admits a run and executes it in the background, returning the
// run record immediately.
func (e *RunExecutor) CreateRun(ctx context.Context, threadID string, req *RunRequest) (*Run, error) {
	g, err := e.Graph(req.AssistantID)
	if err != nil {
		return nil, err
	}

	run := &ActiveRun{
		RunID:        uuid.NewString(),
		ThreadID:     threadID,
		AssistantID:  req.AssistantID,
		Metadata:     req.Metadata,
		OnDisconnect: disconnectOr(req.OnDisconnect, DisconnectContinue),
		CreatedAt:    time.Now(),
		status:       RunStatusPending,
	}
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	run.setCancel(cancel)

	if err := e.register(run, req.MultitaskStrategy); err != nil {
		cancel(nil)
		return nil, err
	}

	async.Go(e.logger, "executor.background_run", func() {
		defer cancel(nil)
		defer e.deregister(run)
		e.runDetached(runCtx, g, run, req)
	})

	return run.View(), nil
}

func (e *RunExecutor) runDetached(runCtx context.Context, g graph.Graph, run *ActiveRun, req *RunRequest) {
	resumable := req.StreamResumable
	obsCtx := observability.ContextWithThreadID(observability.ContextWithRunID(runCtx, run.RunID), run.ThreadID)
	if e.tracer != nil {
		spanCtx, span := e.tracer.StartSpan(obsCtx, observability.SpanRunExecute,
			observability.RunAttrs(run.RunID, run.ThreadID, req.AssistantID)...)
		obsCtx = spanCtx
		defer span.End()
	}

	if !e.waitDelay(runCtx, run.RunID, req.AfterSeconds) {
		e.windDownCancelled(obsCtx, run, req, resumable, context.Cause(runCtx))
		return
	}

	run.setStatus(RunStatusRunning)
	if e.metrics != nil {
		e.metrics.RecordRunStarted(obsCtx, req.AssistantID)
	}

	if resumable {
		e.buffer.Append(run.RunID, metadataEvent(run.RunID, run.ThreadID))
	}

	cfg := buildRunConfig(run.ThreadID, req)
	opts := buildStreamOptions(req)
	modeLabel := singleModeLabel(req.StreamMode)

	streamErr := g.Stream(runCtx, buildInput(req), cfg, opts, func(c graph.Chunk) error {
		if resumable {
			e.buffer.Append(run.RunID, chunkToEvent(c, modeLabel))
		}
		return nil
	})

	e.windDown(obsCtx, g, run, req, resumable, &cfg, streamErr)
}

// detach hands an attached run over to a fresh background context after its
// client disconnected under on_disconnect=continue. The engine resumes from
// the last checkpoint; events keep flowing into the buffer.
func (e *RunExecutor) detach(g graph.Graph, run *ActiveRun, req *RunRequest, cfg graph.RunConfig, opts graph.StreamOptions, modeLabel string, resumable bool) {
	bgCtx, cancel := context.WithCancelCause(context.Background())
	run.setCancel(cancel)
	e.logger.Info("Run %s client disconnected, continuing in background", run.RunID)

	async.Go(e.logger, "executor.continue_run", func() {
		defer cancel(nil)
		defer e.deregister(run)

		obsCtx := observability.ContextWithThreadID(observability.ContextWithRunID(bgCtx, run.RunID), run.ThreadID)
		if e.tracer != nil {
			spanCtx, span := e.tracer.StartSpan(obsCtx, observability.SpanRunContinue,
				observability.RunAttrs(run.RunID, run.ThreadID, req.AssistantID)...)
			obsCtx = spanCtx
			defer span.End()
		}

		streamErr := g.Stream(bgCtx, nil, cfg, opts, func(c graph.Chunk) error {
			if resumable {
				e.buffer.Append(run.RunID, chunkToEvent(c, modeLabel))
			}
			return nil
		})

		e.windDown(obsCtx, g, run, req, resumable, &cfg, streamErr)
	})
}

// windDown routes a finished detached execution to the right terminal path.
func (e *RunExecutor) windDown(ctx context.Context, g graph.Graph, run *ActiveRun, req *RunRequest, resumable bool, cfg *graph.RunConfig, streamErr error) {
	if streamErr == nil {
		var resolved graph.RunConfig
		if cfg != nil {
			resolved = *cfg
		} else {
			resolved = buildRunConfig(run.ThreadID, req)
		}
		sink := func(ev Event) {
			if resumable {
				e.buffer.Append(run.RunID, ev)
			}
		}
		e.finalize(ctx, g, run, req, resolved, resumable, sink)
		return
	}

	if errors.Is(streamErr, context.Canceled) || errors.Is(streamErr, context.DeadlineExceeded) {
		cause := streamErr
		if ctx.Err() != nil {
			cause = context.Cause(ctx)
		}
		e.windDownCancelled(ctx, run, req, resumable, cause)
		return
	}

	run.setStatus(RunStatusError)
	e.logger.Error("Background run %s failed: %v", run.RunID, streamErr)
	if resumable {
		e.buffer.Append(run.RunID, errorEvent(streamErr.Error()))
	}
	e.buffer.Finish(run.RunID)
	e.recordCompletion(ctx, run, req)
}

// windDownCancelled finishes a run that was stopped by cancellation.
// Superseded runs stay quiet: the admitting side already wrote their error
// event.
func (e *RunExecutor) windDownCancelled(ctx context.Context, run *ActiveRun, req *RunRequest, resumable bool, cause error) {
	run.setStatus(RunStatusInterrupted)
	switch {
	case errors.Is(cause, errRunSuperseded):
	case errors.Is(cause, errRunCancelled):
		// CancelRun already appended the terminal end event.
	default:
		if resumable {
			e.buffer.Append(run.RunID, errorEvent("Run cancelled"))
		}
		e.buffer.Finish(run.RunID)
	}
	e.recordCompletion(ctx, run, req)
}

// finalize settles the terminal status from engine state (pending next steps
// mean the run interrupted rather than completed), emits the end event, and
// runs webhook and completion policies.
func (e *RunExecutor) finalize(ctx context.Context, g graph.Graph, run *ActiveRun, req *RunRequest, cfg graph.RunConfig, resumable bool, sink func(Event)) {
	stateCfg := cfg
	stateCfg.CheckpointID = ""
	status := RunStatusSuccess
	stateCtx := context.WithoutCancel(ctx)
	if snap, err := g.State(stateCtx, stateCfg, false); err == nil && snap != nil && len(snap.Next) > 0 {
		status = RunStatusInterrupted
	}
	run.setStatus(status)

	sink(Event{Event: EventEnd, Data: nil})
	e.buffer.Finish(run.RunID)

	if req.Webhook != "" {
		e.sendWebhook(stateCtx, req.Webhook, run.RunID, run.ThreadID, string(status))
	}

	if req.OnCompletion == CompletionDelete {
		e.buffer.Clear(run.RunID)
	}

	e.recordCompletion(ctx, run, req)
	e.logger.Info("Run %s on thread %s finished with status %s", run.RunID, run.ThreadID, status)
}

func (e *RunExecutor) recordCompletion(ctx context.Context, run *ActiveRun, req *RunRequest) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordRunCompleted(context.WithoutCancel(ctx), req.AssistantID, string(run.Status()), time.Since(run.CreatedAt))
}

// StreamRunOutput replays the run's history and follows live output until
// the run finishes. The splice between history and live events is atomic:
// nothing is lost or duplicated. The channel closes once the run's buffer
// finishes or ctx is cancelled.
func (e *RunExecutor) StreamRunOutput(ctx context.Context, runID string) <-chan Event {
	out := make(chan Event, streamChannelSize)
	history, sub := e.buffer.Follow(runID)

	async.Go(e.logger, "executor.stream_run_output", func() {
		defer close(out)
		defer sub.Close()

		for _, ev := range history {
			if e.forward(ctx, out, ev) != nil {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if e.forward(ctx, out, ev) != nil {
					return
				}
			}
		}
	})
	return out
}

// WaitRun executes a run attached to ctx and blocks until it finishes,
// aggregating the final output.
func (e *RunExecutor) WaitRun(ctx context.Context, threadID string, req *RunRequest) (*RunWaitResult, error) {
	result := &RunWaitResult{Status: RunStatusSuccess}

	for ev := range e.StreamRun(ctx, threadID, req) {
		switch ev.Event {
		case EventMetadata:
			if data, ok := ev.Data.(map[string]any); ok {
				if id, ok := data["run_id"].(string); ok {
					result.RunID = id
				}
			}
		case EventError:
			result.Status = RunStatusError
			if data, ok := ev.Data.(map[string]any); ok {
				if msg, ok := data["message"].(string); ok {
					result.Error = msg
				}
			}
		case EventEnd:
		default:
			result.Output = ev.Data
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if result.Status != RunStatusError {
		g, err := e.Graph(req.AssistantID)
		if err != nil {
			return nil, err
		}
		cfg := buildRunConfig(threadID, req)
		cfg.CheckpointID = ""
		if snap, err := g.State(ctx, cfg, false); err == nil && snap != nil && len(snap.Next) > 0 {
			result.Status = RunStatusInterrupted
		}
	}
	return result, nil
}

// forward sends an event unless ctx is done.
func (e *RunExecutor) forward(ctx context.Context, out chan<- Event, ev Event) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitDelay honors after_seconds scheduling. Returns false when cancelled
// while waiting.
func (e *RunExecutor) waitDelay(ctx context.Context, runID string, seconds int) bool {
	if seconds <= 0 {
		return ctx.Err() == nil
	}
	e.logger.Info("Run %s delayed by %d seconds", runID, seconds)
	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *RunExecutor) sendWebhook(ctx context.Context, url, runID, threadID, status string) {
	payload, err := json.Marshal(map[string]any{
		"run_id":    runID,
		"thread_id": threadID,
		"status":    status,
	})
	if err != nil {
		e.logger.Warn("Webhook payload marshal failed: %v", err)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaultWebhookTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		e.logger.Warn("Webhook request build failed: %s, error=%v", url, err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.webhook.Do(httpReq)
	if err != nil {
		e.logger.Warn("Webhook callback failed: %s, error=%v", url, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		e.logger.Warn("Webhook callback rejected: %s, status=%d", url, resp.StatusCode)
		return
	}
	e.logger.Info("Webhook callback delivered: %s", url)
}

func metadataEvent(runID, threadID string) Event {
	return Event{Event: EventMetadata, Data: map[string]any{"run_id": runID, "thread_id": threadID}}
}

func errorEvent(message string) Event {
	return Event{Event: EventError, Data: map[string]any{"message": message}}
}

func conflictMessage(err error) string {
	if errors.Is(err, ErrConflict) {
		msg := err.Error()
		return strings.TrimSuffix(msg, ": "+ErrConflict.Error())
	}
	return err.Error()
}

func disconnectOr(policy, fallback DisconnectPolicy) DisconnectPolicy {
	if policy == "" {
		return fallback
	}
	return policy
}

// buildRunConfig translates the wire request into engine configuration. The
// assistant id is recorded in checkpoint metadata so later state reads can
// route the thread back to its graph.
func buildRunConfig(threadID string, req *RunRequest) graph.RunConfig {
	cfg := graph.RunConfig{
		ThreadID:       threadID,
		RecursionLimit: defaultRecursionLimit,
		Metadata:       map[string]any{"assistant_id": req.AssistantID},
		Configurable:   map[string]any{},
	}

	// Checkpoint selection: explicit object form wins over the flat id.
	if req.CheckpointID != "" {
		cfg.CheckpointID = req.CheckpointID
	}
	if req.Checkpoint != nil {
		if req.Checkpoint.CheckpointID != "" {
			cfg.CheckpointID = req.Checkpoint.CheckpointID
		}
		if req.Checkpoint.CheckpointNS != "" {
			cfg.CheckpointNS = req.Checkpoint.CheckpointNS
		}
	}

	if req.Config != nil {
		if req.Config.RecursionLimit > 0 {
			cfg.RecursionLimit = req.Config.RecursionLimit
		}
		if len(req.Config.Tags) > 0 {
			cfg.Tags = req.Config.Tags
		}
		maps.Copy(cfg.Configurable, req.Config.Configurable)
	}
	return cfg
}

func buildStreamOptions(req *RunRequest) graph.StreamOptions {
	return graph.StreamOptions{
		Modes:           req.StreamMode,
		InterruptBefore: req.InterruptBefore,
		InterruptAfter:  req.InterruptAfter,
		Subgraphs:       req.StreamSubgraphs,
	}
}

// buildInput resolves the engine input: a populated command replaces the
// plain input value.
func buildInput(req *RunRequest) any {
	if !req.Command.Empty() {
		return &graph.Command{
			Resume: req.Command.Resume,
			Goto:   req.Command.Goto,
			Update: req.Command.Update,
		}
	}
	return req.Input
}

// singleModeLabel resolves the event label used for bare chunks: the single
// requested mode, values by default, empty when several modes stream at once
// (the chunk then names its own mode).
func singleModeLabel(modes StringList) string {
	switch len(modes) {
	case 0:
		return "values"
	case 1:
		return modes[0]
	default:
		return ""
	}
}

// chunkToEvent names events after their stream mode, with subgraph
// namespaces joined by pipes: mode|ns1|ns2.
func chunkToEvent(c graph.Chunk, singleMode string) Event {
	mode := c.Mode
	if mode == "" {
		mode = singleMode
		if mode == "" {
			mode = "values"
		}
	}
	name := mode
	if len(c.Namespace) > 0 {
		name = mode + "|" + strings.Join(c.Namespace, "|")
	}
	return Event{Event: name, Data: c.Payload}
}
