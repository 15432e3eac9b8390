// Package graph defines the contract between the run execution service and
// the workflow-graph engine it fronts. The service treats the engine as
// opaque: it streams chunks, exposes checkpointed state, and accepts state
// updates, nothing more.
package graph

import (
	"context"
	"errors"
	"time"
)

// ErrNoCheckpoint is returned by State and StateHistory when a thread has no
// recorded checkpoint at the requested position.
var ErrNoCheckpoint = errors.New("no checkpoint for thread")

// Command replaces ordinary input when resuming or redirecting an
// interrupted run. Passed to Stream in place of the input value.
type Command struct {
	// Resume carries the value handed to the interrupted node.
	Resume any
	// Goto names the node(s) to jump to instead of the recorded next steps.
	Goto []string
	// Update merges into the thread values before execution continues.
	Update map[string]any
}

// Checkpoint addresses one durable snapshot of a thread.
type Checkpoint struct {
	ThreadID     string
	CheckpointNS string
	CheckpointID string
}

// RunConfig carries per-invocation engine configuration.
type RunConfig struct {
	ThreadID       string
	CheckpointNS   string
	CheckpointID   string
	RecursionLimit int
	Tags           []string
	Configurable   map[string]any
	Metadata       map[string]any
}

// StreamOptions selects what the engine emits while executing.
type StreamOptions struct {
	// Modes lists the requested stream modes (values, updates, messages, ...).
	Modes []string
	// InterruptBefore and InterruptAfter name nodes where execution pauses.
	InterruptBefore []string
	InterruptAfter  []string
	// Subgraphs includes chunks produced inside nested graphs, tagged with
	// their namespace path.
	Subgraphs bool
}

// Chunk is one unit of engine stream output.
type Chunk struct {
	// Namespace is the subgraph path that produced the chunk; empty for the
	// root graph.
	Namespace []string
	// Mode labels the chunk when several modes stream at once; empty when
	// the engine streams a single bare mode.
	Mode string
	// Payload is the mode-specific value.
	Payload any
}

// Interrupt is a pause raised by a node awaiting external input.
type Interrupt struct {
	Value any    `json:"value"`
	ID    string `json:"id"`
}

// Task describes one unit of pending or attempted work in a snapshot.
type Task struct {
	ID         string
	Name       string
	Error      string
	Interrupts []Interrupt
	// State holds the nested subgraph snapshot when subgraph expansion was
	// requested.
	State *Snapshot
	// Result carries the task output once it completed.
	Result any
}

// Snapshot is one checkpointed view of a thread.
type Snapshot struct {
	Values    map[string]any
	Next      []string
	Config    Checkpoint
	Parent    *Checkpoint
	Metadata  map[string]any
	CreatedAt time.Time
	Tasks     []Task
}

// Graph is an executable workflow graph. Implementations must be safe for
// concurrent use; the service runs one execution per thread but reads state
// from any goroutine.
type Graph interface {
	// Stream executes the graph from the configured checkpoint, calling emit
	// for every produced chunk. A *Command input resumes an interrupted run.
	// Returning a non-nil error from emit aborts the execution with that
	// error.
	Stream(ctx context.Context, input any, cfg RunConfig, opts StreamOptions, emit func(Chunk) error) error

	// State returns the latest (or addressed) checkpoint snapshot for the
	// configured thread, expanding nested task state when subgraphs is set.
	State(ctx context.Context, cfg RunConfig, subgraphs bool) (*Snapshot, error)

	// UpdateState merges values into the thread state as if node asNode had
	// produced them, creating a new checkpoint.
	UpdateState(ctx context.Context, cfg RunConfig, values any, asNode string) error

	// StateHistory returns snapshots newest-first, at most limit entries
	// (unlimited when limit <= 0), ending before the checkpoint addressed by
	// cfg.CheckpointID when set.
	StateHistory(ctx context.Context, cfg RunConfig, limit int) ([]*Snapshot, error)
}

// Checkpointer exposes the engine's durable checkpoint store to the thread
// facade. It is the slow enumeration path; deployments holding checkpoints
// in Postgres can layer an indexed lister on top.
type Checkpointer interface {
	// ThreadIDs lists distinct thread ids with at least one checkpoint, at
	// most limit entries.
	ThreadIDs(ctx context.Context, limit int) ([]string, error)

	// LatestMetadata returns the metadata recorded with the newest
	// checkpoint of the thread, or ErrNoCheckpoint.
	LatestMetadata(ctx context.Context, threadID string) (map[string]any, error)

	// DeleteThread removes every checkpoint belonging to the thread.
	DeleteThread(ctx context.Context, threadID string) error
}
