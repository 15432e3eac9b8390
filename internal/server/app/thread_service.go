package app

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"strand/internal/graph"
	"strand/internal/logging"
	"strand/internal/observability"
)

const (
	defaultSearchLimit = 10
	// searchOverfetch pads the candidate listing so filtered-out threads do
	// not starve the requested page.
	searchOverfetch = 100

	searchConcurrency = 8

	defaultThreadCacheSize = 1024
	defaultThreadCacheTTL  = 2 * time.Second
)

// ThreadIndexer lists distinct thread ids straight from the backing store.
// Deployments with a SQL checkpoint store implement it to skip the generic
// checkpointer enumeration during search.
type ThreadIndexer interface {
	DistinctThreadIDs(ctx context.Context, limit, offset int) ([]string, error)
}

// ThreadService exposes thread CRUD and search. Threads are virtual: a
// thread exists once its first checkpoint does, so reads are derived from
// the checkpoint store and the active-run table rather than a thread table.
type ThreadService struct {
	state        *StateService
	executor     *RunExecutor
	checkpointer graph.Checkpointer
	index        ThreadIndexer
	logger       logging.Logger
	tracer       *observability.TracerProvider

	cache *expirable.LRU[string, *Thread]
}

// ThreadServiceOption configures a ThreadService.
type ThreadServiceOption func(*threadServiceConfig)

type threadServiceConfig struct {
	logger    logging.Logger
	tracer    *observability.TracerProvider
	index     ThreadIndexer
	cacheSize int
	cacheTTL  time.Duration
}

// WithThreadLogger sets the service logger.
func WithThreadLogger(l logging.Logger) ThreadServiceOption {
	return func(c *threadServiceConfig) { c.logger = l }
}

// WithThreadTracer sets the tracer used for span creation.
func WithThreadTracer(t *observability.TracerProvider) ThreadServiceOption {
	return func(c *threadServiceConfig) { c.tracer = t }
}

// WithThreadIndexer installs the indexed thread listing used by search.
func WithThreadIndexer(idx ThreadIndexer) ThreadServiceOption {
	return func(c *threadServiceConfig) { c.index = idx }
}

// WithThreadCache sizes the derived thread-view cache. A zero or negative
// ttl disables caching.
func WithThreadCache(size int, ttl time.Duration) ThreadServiceOption {
	return func(c *threadServiceConfig) {
		c.cacheSize = size
		c.cacheTTL = ttl
	}
}

// NewThreadService builds the thread facade over the shared state service,
// executor, and checkpoint store.
func NewThreadService(state *StateService, exec *RunExecutor, cp graph.Checkpointer, opts ...ThreadServiceOption) *ThreadService {
	cfg := threadServiceConfig{
		logger:    logging.Nop(),
		cacheSize: defaultThreadCacheSize,
		cacheTTL:  defaultThreadCacheTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &ThreadService{
		state:        state,
		executor:     exec,
		checkpointer: cp,
		index:        cfg.index,
		logger:       logging.OrNop(cfg.logger),
		tracer:       cfg.tracer,
	}
	if cfg.cacheTTL > 0 && cfg.cacheSize > 0 {
		s.cache = expirable.NewLRU[string, *Thread](cfg.cacheSize, nil, cfg.cacheTTL)
	}
	return s
}

// CreateThread mints a thread id. The thread itself is virtual; its data
// appears in the checkpoint store once the first run executes.
func (s *ThreadService) CreateThread(req *ThreadCreateRequest) *Thread {
	threadID := uuid.NewString()
	metadata := map[string]any{}
	if req != nil {
		if req.ThreadID != "" {
			threadID = req.ThreadID
		}
		if req.Metadata != nil {
			metadata = req.Metadata
		}
	}
	now := time.Now().UTC()
	return &Thread{
		ThreadID:  threadID,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
		Status:    ThreadStatusIdle,
	}
}

// GetThread derives the thread view from its latest checkpoint. Threads
// without checkpointed values do not exist yet.
func (s *ThreadService) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	busy := s.executor.HasActiveRun(threadID)
	if s.cache != nil && !busy {
		if t, ok := s.cache.Get(threadID); ok {
			return t, nil
		}
	}

	g := s.state.graphForThread(ctx, threadID)
	if g == nil {
		return nil, NotFoundErrorf("thread %s", threadID)
	}

	snap, err := g.State(ctx, graph.RunConfig{ThreadID: threadID}, false)
	if err != nil {
		if !errors.Is(err, graph.ErrNoCheckpoint) {
			s.logger.Warn("read thread %s: %v", threadID, err)
		}
		return nil, NotFoundErrorf("thread %s", threadID)
	}
	if snap == nil || len(snap.Values) == 0 {
		return nil, NotFoundErrorf("thread %s", threadID)
	}

	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	t := &Thread{
		ThreadID:   threadID,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		Metadata:   map[string]any{},
		Status:     s.inferStatus(threadID, busy, snap),
		Values:     snap.Values,
		Interrupts: groupInterrupts(snap.Tasks),
	}

	if s.cache != nil && !busy {
		s.cache.Add(threadID, t)
	}
	return t, nil
}

// inferStatus derives thread status. Precedence: an active run or pending
// next nodes mean busy, recorded task errors mean error, recorded
// interrupts mean interrupted.
func (s *ThreadService) inferStatus(threadID string, busy bool, snap *graph.Snapshot) ThreadStatus {
	if busy {
		return ThreadStatusBusy
	}
	for _, t := range snap.Tasks {
		if t.Error != "" {
			return ThreadStatusError
		}
	}
	for _, t := range snap.Tasks {
		if len(t.Interrupts) > 0 {
			return ThreadStatusInterrupted
		}
	}
	if len(snap.Next) > 0 {
		return ThreadStatusBusy
	}
	return ThreadStatusIdle
}

func groupInterrupts(tasks []graph.Task) map[string][]ThreadInterrupt {
	out := map[string][]ThreadInterrupt{}
	for _, t := range tasks {
		if len(t.Interrupts) == 0 {
			continue
		}
		views := make([]ThreadInterrupt, 0, len(t.Interrupts))
		for _, intr := range t.Interrupts {
			views = append(views, ThreadInterrupt{
				Value:     intr.Value,
				When:      "during",
				Resumable: true,
			})
		}
		out[t.ID] = views
	}
	return out
}

// DeleteThread cancels any active run on the thread and removes its
// checkpoints.
func (s *ThreadService) DeleteThread(ctx context.Context, threadID string) error {
	if run := s.executor.ActiveRunView(threadID); run != nil {
		s.executor.CancelRun(ctx, threadID, run.RunID)
	}
	s.Invalidate(threadID)

	if s.checkpointer == nil {
		return nil
	}
	if err := s.checkpointer.DeleteThread(ctx, threadID); err != nil {
		s.logger.Warn("delete thread %s checkpoints: %v", threadID, err)
		return ExecutionError(err)
	}
	return nil
}

// Invalidate drops the cached view of a thread. State updates and deletes
// call it so the next read reflects the new checkpoint.
func (s *ThreadService) Invalidate(threadID string) {
	if s.cache != nil {
		s.cache.Remove(threadID)
	}
}

// SearchThreads pages through known threads, filtered by status and exact
// metadata match. The values filter is accepted but not applied; thread
// values are free-form engine state and matching on them is undefined here.
func (s *ThreadService) SearchThreads(ctx context.Context, req *ThreadSearchRequest) ([]*Thread, error) {
	if s.checkpointer == nil && s.index == nil {
		return []*Thread{}, nil
	}

	if s.tracer != nil {
		spanCtx, span := s.tracer.StartSpan(ctx, observability.SpanThreadSearch)
		ctx = spanCtx
		defer span.End()
	}

	limit := defaultSearchLimit
	offset := 0
	if req != nil {
		if req.Limit > 0 {
			limit = req.Limit
		}
		if req.Offset > 0 {
			offset = req.Offset
		}
	}

	ids, err := s.candidateThreadIDs(ctx, limit+offset+searchOverfetch)
	if err != nil {
		s.logger.Warn("list threads: %v", err)
		return []*Thread{}, nil
	}

	threads := make([]*Thread, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			t, err := s.GetThread(gctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				return err
			}
			threads[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("search threads: %v", err)
		return []*Thread{}, nil
	}

	results := make([]*Thread, 0, limit)
	for _, t := range threads {
		if t == nil {
			continue
		}
		if req != nil && !matchThread(t, req) {
			continue
		}
		results = append(results, t)
		if len(results) >= limit+offset {
			break
		}
	}

	if offset >= len(results) {
		return []*Thread{}, nil
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end], nil
}

// candidateThreadIDs prefers the indexed listing and falls back to the
// checkpointer enumeration.
func (s *ThreadService) candidateThreadIDs(ctx context.Context, limit int) ([]string, error) {
	if s.index != nil {
		ids, err := s.index.DistinctThreadIDs(ctx, limit, 0)
		if err == nil {
			return ids, nil
		}
		s.logger.Warn("indexed thread listing failed, falling back: %v", err)
	}
	if s.checkpointer == nil {
		return nil, nil
	}
	return s.checkpointer.ThreadIDs(ctx, limit)
}

func matchThread(t *Thread, req *ThreadSearchRequest) bool {
	if req.Status != "" && t.Status != req.Status {
		return false
	}
	for k, want := range req.Metadata {
		if got, ok := t.Metadata[k]; !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
