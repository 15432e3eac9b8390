package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"strand/internal/graph"
	"strand/internal/logging"
	"strand/internal/observability"
)

const defaultHistoryLimit = 10

// StateService is the checkpoint-backed state facade over the engine. It
// translates engine snapshots into the wire ThreadState shape and routes
// every thread to the graph that produced its checkpoints.
type StateService struct {
	graphs       map[string]graph.Graph
	checkpointer graph.Checkpointer
	logger       logging.Logger
	tracer       *observability.TracerProvider
}

// StateServiceOption configures a StateService.
type StateServiceOption func(*StateService)

// WithStateLogger sets the service logger.
func WithStateLogger(l logging.Logger) StateServiceOption {
	return func(s *StateService) { s.logger = l }
}

// WithStateTracer sets the tracer used for span creation.
func WithStateTracer(t *observability.TracerProvider) StateServiceOption {
	return func(s *StateService) { s.tracer = t }
}

// NewStateService builds the facade over the shared graph registry and
// checkpoint store.
func NewStateService(graphs map[string]graph.Graph, cp graph.Checkpointer, opts ...StateServiceOption) *StateService {
	s := &StateService{
		graphs:       graphs,
		checkpointer: cp,
		logger:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

// graphForThread resolves the graph that owns a thread's checkpoints. Run
// creation records the assistant id into checkpoint metadata; when the
// metadata is missing or names an unknown graph the first registered graph
// (by sorted assistant id) is used.
func (s *StateService) graphForThread(ctx context.Context, threadID string) graph.Graph {
	if s.checkpointer != nil {
		md, err := s.checkpointer.LatestMetadata(ctx, threadID)
		switch {
		case err == nil:
			if id, ok := md["assistant_id"].(string); ok {
				if g, ok := s.graphs[id]; ok {
					return g
				}
			}
		case !errors.Is(err, graph.ErrNoCheckpoint):
			s.logger.Warn("resolve graph for thread %s: %v", threadID, err)
		}
	}
	return s.defaultGraph()
}

func (s *StateService) defaultGraph() graph.Graph {
	if len(s.graphs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s.graphs))
	for id := range s.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return s.graphs[ids[0]]
}

// GetThreadState returns the latest checkpoint snapshot of a thread, with
// nested subgraph state expanded when subgraphs is set. Returns nil when the
// thread has no checkpoint yet.
func (s *StateService) GetThreadState(ctx context.Context, threadID string, subgraphs bool) (*ThreadState, error) {
	ctx = observability.ContextWithThreadID(ctx, threadID)
	if s.tracer != nil {
		spanCtx, span := s.tracer.StartSpan(ctx, observability.SpanStateRead)
		ctx = spanCtx
		defer span.End()
	}

	g := s.graphForThread(ctx, threadID)
	if g == nil {
		return nil, nil
	}

	snap, err := g.State(ctx, graph.RunConfig{ThreadID: threadID}, subgraphs)
	if err != nil {
		if errors.Is(err, graph.ErrNoCheckpoint) {
			return nil, nil
		}
		s.logger.Warn("read state for thread %s: %v", threadID, err)
		return nil, nil
	}
	if snap == nil {
		return nil, nil
	}
	return snapshotToState(threadID, snap), nil
}

// GetThreadStateAtCheckpoint returns the snapshot addressed by a specific
// checkpoint id, or nil when it does not exist.
func (s *StateService) GetThreadStateAtCheckpoint(ctx context.Context, threadID, checkpointID, checkpointNS string) (*ThreadState, error) {
	ctx = observability.ContextWithThreadID(ctx, threadID)
	if s.tracer != nil {
		spanCtx, span := s.tracer.StartSpan(ctx, observability.SpanStateRead)
		ctx = spanCtx
		defer span.End()
	}

	g := s.graphForThread(ctx, threadID)
	if g == nil {
		return nil, nil
	}

	cfg := graph.RunConfig{
		ThreadID:     threadID,
		CheckpointID: checkpointID,
		CheckpointNS: checkpointNS,
	}
	snap, err := g.State(ctx, cfg, false)
	if err != nil {
		if errors.Is(err, graph.ErrNoCheckpoint) {
			return nil, nil
		}
		s.logger.Warn("read checkpoint %s for thread %s: %v", checkpointID, threadID, err)
		return nil, nil
	}
	if snap == nil {
		return nil, nil
	}
	return snapshotToState(threadID, snap), nil
}

// UpdateThreadState merges values into the thread state as if node asNode
// had produced them, and returns the ref of the checkpoint the update
// created.
func (s *StateService) UpdateThreadState(ctx context.Context, threadID string, values map[string]any, asNode, checkpointID, checkpointNS string) (*CheckpointRef, error) {
	ctx = observability.ContextWithThreadID(ctx, threadID)
	if s.tracer != nil {
		spanCtx, span := s.tracer.StartSpan(ctx, observability.SpanStateUpdate)
		ctx = spanCtx
		defer span.End()
	}

	g := s.graphForThread(ctx, threadID)
	if g == nil {
		return nil, NotFoundError("no graph registered")
	}

	cfg := graph.RunConfig{
		ThreadID:     threadID,
		CheckpointID: checkpointID,
		CheckpointNS: checkpointNS,
	}
	if values == nil {
		values = map[string]any{}
	}
	if err := g.UpdateState(ctx, cfg, values, asNode); err != nil {
		return nil, ExecutionError(fmt.Errorf("update state for thread %s: %w", threadID, err))
	}

	// Re-read to learn the id of the checkpoint the update produced.
	newID := uuid.NewString()
	if snap, err := g.State(ctx, cfg, false); err == nil && snap != nil && snap.Config.CheckpointID != "" {
		newID = snap.Config.CheckpointID
	}
	return &CheckpointRef{
		ThreadID:     threadID,
		CheckpointNS: checkpointNS,
		CheckpointID: newID,
	}, nil
}

// GetThreadHistory returns checkpoint snapshots newest-first. A zero limit
// defaults to 10; before restricts the listing to checkpoints older than an
// id.
func (s *StateService) GetThreadHistory(ctx context.Context, threadID string, limit int, before, checkpointNS string) ([]*ThreadState, error) {
	g := s.graphForThread(ctx, threadID)
	if g == nil {
		return []*ThreadState{}, nil
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	cfg := graph.RunConfig{
		ThreadID:     threadID,
		CheckpointID: before,
		CheckpointNS: checkpointNS,
	}
	snaps, err := g.StateHistory(ctx, cfg, limit)
	if err != nil {
		if errors.Is(err, graph.ErrNoCheckpoint) {
			return []*ThreadState{}, nil
		}
		s.logger.Warn("read history for thread %s: %v", threadID, err)
		return []*ThreadState{}, nil
	}

	out := make([]*ThreadState, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snapshotToState(threadID, snap))
	}
	return out, nil
}

// snapshotToState translates an engine snapshot into the wire ThreadState.
// Task interrupts are additionally flattened into the top-level list.
func snapshotToState(threadID string, snap *graph.Snapshot) *ThreadState {
	tasks := make([]ThreadTask, 0, len(snap.Tasks))
	allInterrupts := make([]InterruptView, 0)
	for _, t := range snap.Tasks {
		views := make([]InterruptView, 0, len(t.Interrupts))
		for _, intr := range t.Interrupts {
			v := InterruptView{Value: intr.Value, ID: intr.ID}
			views = append(views, v)
			allInterrupts = append(allInterrupts, v)
		}
		task := ThreadTask{
			ID:         t.ID,
			Name:       t.Name,
			Error:      t.Error,
			Interrupts: views,
			Result:     t.Result,
		}
		if t.State != nil {
			task.State = snapshotToState(threadID, t.State)
		}
		tasks = append(tasks, task)
	}

	st := &ThreadState{
		Values: snap.Values,
		Next:   append([]string{}, snap.Next...),
		Checkpoint: &CheckpointRef{
			ThreadID:     threadID,
			CheckpointNS: snap.Config.CheckpointNS,
			CheckpointID: snap.Config.CheckpointID,
		},
		Metadata:   snap.Metadata,
		Tasks:      tasks,
		Interrupts: allInterrupts,
	}
	if st.Values == nil {
		st.Values = map[string]any{}
	}
	if st.Metadata == nil {
		st.Metadata = map[string]any{}
	}
	if !snap.CreatedAt.IsZero() {
		created := snap.CreatedAt
		st.CreatedAt = &created
	}
	if snap.Parent != nil {
		st.ParentCheckpoint = &CheckpointRef{
			ThreadID:     threadID,
			CheckpointNS: snap.Parent.CheckpointNS,
			CheckpointID: snap.Parent.CheckpointID,
		}
	}
	return st
}
