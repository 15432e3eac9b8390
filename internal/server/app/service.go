package app

import (
	"context"
	"net/http"
	"time"

	"strand/internal/graph"
	"strand/internal/logging"
	"strand/internal/observability"
)

// Service is the run execution and thread facade wired as one unit: graph
// registry, event buffer, run executor, and the state and thread services
// on top. HTTP transports talk to it and to nothing below it.
type Service struct {
	graphs       map[string]graph.Graph
	checkpointer graph.Checkpointer
	buffer       *EventBuffer
	executor     *RunExecutor
	state        *StateService
	threads      *ThreadService
	logger       logging.Logger
}

type serviceConfig struct {
	obs            *observability.Observability
	bufferTTL      time.Duration
	reaperInterval time.Duration
	webhookClient  *http.Client
	threadIndex    ThreadIndexer
	cacheSize      int
	cacheTTL       time.Duration
}

// ServiceOption configures the assembled service.
type ServiceOption func(*serviceConfig)

// WithObservability attaches logging, metrics, and tracing to every layer.
func WithObservability(obs *observability.Observability) ServiceOption {
	return func(c *serviceConfig) { c.obs = obs }
}

// WithEventBufferTTL sets how long finished run buffers stay replayable.
func WithEventBufferTTL(ttl time.Duration) ServiceOption {
	return func(c *serviceConfig) { c.bufferTTL = ttl }
}

// WithServiceReaperInterval sets how often expired buffers are collected.
func WithServiceReaperInterval(interval time.Duration) ServiceOption {
	return func(c *serviceConfig) { c.reaperInterval = interval }
}

// WithWebhookHTTPClient overrides the client for run completion webhooks.
func WithWebhookHTTPClient(client *http.Client) ServiceOption {
	return func(c *serviceConfig) { c.webhookClient = client }
}

// WithThreadIndex installs the indexed thread listing used by search.
func WithThreadIndex(idx ThreadIndexer) ServiceOption {
	return func(c *serviceConfig) { c.threadIndex = idx }
}

// WithThreadViewCache sizes the derived thread-view cache.
func WithThreadViewCache(size int, ttl time.Duration) ServiceOption {
	return func(c *serviceConfig) {
		c.cacheSize = size
		c.cacheTTL = ttl
	}
}

// NewService assembles the facade over the registered graphs and their
// shared checkpoint store.
func NewService(graphs map[string]graph.Graph, cp graph.Checkpointer, opts ...ServiceOption) *Service {
	cfg := serviceConfig{
		cacheSize: defaultThreadCacheSize,
		cacheTTL:  defaultThreadCacheTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		metrics *observability.MetricsCollector
		tracer  *observability.TracerProvider
	)
	logger := logging.NewComponentLogger("Service")
	componentLogger := logging.NewComponentLogger
	if cfg.obs != nil {
		metrics = cfg.obs.Metrics
		tracer = cfg.obs.Tracer
		logger = logging.FromObservabilityWithComponent(cfg.obs.Logger, "Service")
		componentLogger = func(component string) logging.Logger {
			return logging.FromObservabilityWithComponent(cfg.obs.Logger, component)
		}
	}

	bufferOpts := []EventBufferOption{
		WithBufferLogger(componentLogger("EventBuffer")),
		WithBufferMetrics(metrics),
	}
	if cfg.bufferTTL > 0 {
		bufferOpts = append(bufferOpts, WithBufferTTL(cfg.bufferTTL))
	}
	if cfg.reaperInterval > 0 {
		bufferOpts = append(bufferOpts, WithReaperInterval(cfg.reaperInterval))
	}
	buffer := NewEventBuffer(bufferOpts...)

	execOpts := []RunExecutorOption{
		WithExecutorLogger(componentLogger("RunExecutor")),
		WithExecutorMetrics(metrics),
		WithExecutorTracer(tracer),
	}
	if cfg.webhookClient != nil {
		execOpts = append(execOpts, WithWebhookClient(cfg.webhookClient))
	}
	executor := NewRunExecutor(graphs, buffer, execOpts...)

	state := NewStateService(graphs, cp,
		WithStateLogger(componentLogger("StateService")),
		WithStateTracer(tracer),
	)

	threadOpts := []ThreadServiceOption{
		WithThreadLogger(componentLogger("ThreadService")),
		WithThreadTracer(tracer),
		WithThreadCache(cfg.cacheSize, cfg.cacheTTL),
	}
	if cfg.threadIndex != nil {
		threadOpts = append(threadOpts, WithThreadIndexer(cfg.threadIndex))
	}
	threads := NewThreadService(state, executor, cp, threadOpts...)

	return &Service{
		graphs:       graphs,
		checkpointer: cp,
		buffer:       buffer,
		executor:     executor,
		state:        state,
		threads:      threads,
		logger:       logger,
	}
}

// Start launches the background buffer reaper.
func (s *Service) Start() {
	s.buffer.Start()
	s.logger.Info("service started with %d graphs: %v", len(s.graphs), s.executor.ListGraphs())
}

// Stop cancels all active runs and shuts the buffer down.
func (s *Service) Stop() {
	s.executor.CancelAll()
	s.buffer.Stop()
	s.logger.Info("service stopped")
}

// Graphs

// ListGraphs returns the registered assistant ids, sorted.
func (s *Service) ListGraphs() []string { return s.executor.ListGraphs() }

// HasGraph reports whether an assistant id is registered.
func (s *Service) HasGraph(assistantID string) bool {
	_, err := s.executor.Graph(assistantID)
	return err == nil
}

// Runs

// StreamRun executes a run attached to the caller, yielding events until
// the run reaches a terminal state or ctx is cancelled.
func (s *Service) StreamRun(ctx context.Context, threadID string, req *RunRequest) <-chan Event {
	s.threads.Invalidate(threadID)
	return s.executor.StreamRun(ctx, threadID, req)
}

// CreateRun starts a background run and returns its record immediately.
func (s *Service) CreateRun(ctx context.Context, threadID string, req *RunRequest) (*Run, error) {
	s.threads.Invalidate(threadID)
	return s.executor.CreateRun(ctx, threadID, req)
}

// WaitRun executes a run attached to the caller and blocks until its
// terminal state, returning the aggregate outcome.
func (s *Service) WaitRun(ctx context.Context, threadID string, req *RunRequest) (*RunWaitResult, error) {
	s.threads.Invalidate(threadID)
	return s.executor.WaitRun(ctx, threadID, req)
}

// GetRun returns the active run record, if the ids match.
func (s *Service) GetRun(threadID, runID string) (*Run, error) {
	return s.executor.GetRun(threadID, runID)
}

// ListRuns returns the active run on the thread as a one-element list, or
// an empty list. Completed runs are not retained.
func (s *Service) ListRuns(threadID string) []*Run {
	if run := s.executor.ActiveRunView(threadID); run != nil {
		return []*Run{run}
	}
	return []*Run{}
}

// CancelRun cancels the active run when the ids match.
func (s *Service) CancelRun(ctx context.Context, threadID, runID string) bool {
	s.threads.Invalidate(threadID)
	return s.executor.CancelRun(ctx, threadID, runID)
}

// StreamRunOutput replays a run's buffered events and follows live output
// until the run finishes. Requires the run to have streamed resumable.
func (s *Service) StreamRunOutput(ctx context.Context, runID string) <-chan Event {
	return s.executor.StreamRunOutput(ctx, runID)
}

// HasRunOutput reports whether a run's buffer exists (live or replayable).
func (s *Service) HasRunOutput(runID string) bool {
	return s.buffer.HasRun(runID)
}

// Threads

// CreateThread mints a thread.
func (s *Service) CreateThread(req *ThreadCreateRequest) *Thread {
	return s.threads.CreateThread(req)
}

// GetThread returns the derived thread view.
func (s *Service) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	return s.threads.GetThread(ctx, threadID)
}

// DeleteThread cancels the thread's active run and removes its checkpoints.
func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	return s.threads.DeleteThread(ctx, threadID)
}

// SearchThreads pages through known threads with filters.
func (s *Service) SearchThreads(ctx context.Context, req *ThreadSearchRequest) ([]*Thread, error) {
	return s.threads.SearchThreads(ctx, req)
}

// State

// GetThreadState returns the latest checkpoint snapshot, nil when none.
func (s *Service) GetThreadState(ctx context.Context, threadID string, subgraphs bool) (*ThreadState, error) {
	return s.state.GetThreadState(ctx, threadID, subgraphs)
}

// GetThreadStateAtCheckpoint returns the addressed snapshot, nil when none.
func (s *Service) GetThreadStateAtCheckpoint(ctx context.Context, threadID, checkpointID, checkpointNS string) (*ThreadState, error) {
	return s.state.GetThreadStateAtCheckpoint(ctx, threadID, checkpointID, checkpointNS)
}

// UpdateThreadState applies a state update and returns the new checkpoint
// ref.
func (s *Service) UpdateThreadState(ctx context.Context, threadID string, values map[string]any, asNode, checkpointID, checkpointNS string) (*CheckpointRef, error) {
	ref, err := s.state.UpdateThreadState(ctx, threadID, values, asNode, checkpointID, checkpointNS)
	if err == nil {
		s.threads.Invalidate(threadID)
	}
	return ref, err
}

// GetThreadHistory returns checkpoint snapshots newest-first.
func (s *Service) GetThreadHistory(ctx context.Context, threadID string, limit int, before, checkpointNS string) ([]*ThreadState, error) {
	return s.state.GetThreadHistory(ctx, threadID, limit, before, checkpointNS)
}
