package app

import (
	"context"
	"sync"
	"time"
)

// ActiveRun is the in-memory record of an admitted run. Records live only
// while the run executes; terminal runs survive solely as buffered events.
type ActiveRun struct {
	RunID        string
	ThreadID     string
	AssistantID  string
	Metadata     map[string]any
	OnDisconnect DisconnectPolicy
	CreatedAt    time.Time

	mu        sync.Mutex
	status    RunStatus
	updatedAt time.Time
	cancel    context.CancelCauseFunc
}

// Status returns the current lifecycle status.
func (r *ActiveRun) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *ActiveRun) setStatus(status RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.updatedAt = time.Now()
}

func (r *ActiveRun) setCancel(cancel context.CancelCauseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel = cancel
}

func (r *ActiveRun) cancelWith(cause error) {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel(cause)
	}
}

// View renders the wire representation of the run.
func (r *ActiveRun) View() *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated := r.updatedAt
	if updated.IsZero() {
		updated = r.CreatedAt
	}
	metadata := r.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Run{
		RunID:       r.RunID,
		ThreadID:    r.ThreadID,
		AssistantID: r.AssistantID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   updated,
		Status:      r.status,
		Metadata:    metadata,
	}
}
