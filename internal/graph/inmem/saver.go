// Package inmem provides an in-memory workflow graph engine: a sequential
// node pipeline with checkpointing, interrupts, and resume. It backs local
// development and tests; production deployments plug in a real engine behind
// the same interfaces.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"strand/internal/graph"
)

// record is one checkpoint of a thread.
type record struct {
	id            string
	parentID      string
	values        map[string]any
	next          []string
	metadata      map[string]any
	createdAt     time.Time
	taskErrs      map[string]string
	interrupts    []graph.Interrupt
	interruptNode string
}

// Saver is an in-memory checkpoint store shared by every graph bound to it.
type Saver struct {
	mu      sync.RWMutex
	threads map[string][]*record
	clock   func() time.Time
}

// NewSaver creates an empty checkpoint store.
func NewSaver() *Saver {
	return &Saver{
		threads: make(map[string][]*record),
		clock:   time.Now,
	}
}

// put appends a checkpoint for the thread and returns its assigned id.
func (s *Saver) put(threadID string, rec *record) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.id = uuid.NewString()
	rec.createdAt = s.clock()
	if prev := s.latestLocked(threadID); prev != nil {
		rec.parentID = prev.id
	}
	s.threads[threadID] = append(s.threads[threadID], rec)
	return rec.id
}

func (s *Saver) latestLocked(threadID string) *record {
	recs := s.threads[threadID]
	if len(recs) == 0 {
		return nil
	}
	return recs[len(recs)-1]
}

// latest returns the newest checkpoint of the thread, or nil.
func (s *Saver) latest(threadID string) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestLocked(threadID)
}

// at returns the checkpoint with the given id, or nil.
func (s *Saver) at(threadID, checkpointID string) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.threads[threadID] {
		if rec.id == checkpointID {
			return rec
		}
	}
	return nil
}

// history returns checkpoints newest-first, ending before beforeID when set,
// at most limit entries when limit > 0.
func (s *Saver) history(threadID, beforeID string, limit int) []*record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.threads[threadID]
	out := make([]*record, 0, len(recs))
	include := beforeID == ""
	for i := len(recs) - 1; i >= 0; i-- {
		if !include {
			if recs[i].id == beforeID {
				include = true
			}
			continue
		}
		out = append(out, recs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ThreadIDs lists distinct thread ids in lexical order, at most limit.
func (s *Saver) ThreadIDs(ctx context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.threads))
	for id, recs := range s.threads {
		if len(recs) == 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// LatestMetadata returns the metadata of the thread's newest checkpoint.
func (s *Saver) LatestMetadata(ctx context.Context, threadID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.latestLocked(threadID)
	if rec == nil {
		return nil, graph.ErrNoCheckpoint
	}
	return cloneMap(rec.metadata), nil
}

// DeleteThread removes every checkpoint of the thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case map[string]any:
			out[k] = cloneMap(tv)
		case []any:
			out[k] = append([]any(nil), tv...)
		default:
			out[k] = v
		}
	}
	return out
}
