package inmem

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"strand/internal/graph"
)

const defaultRecursionLimit = 25

// resumeKey is where a Command resume value lands in the thread values so
// the interrupted node can pick it up.
const resumeKey = "__resume__"

// NodeFunc runs one node over the current thread values and returns the
// delta to merge back.
type NodeFunc func(ctx context.Context, values map[string]any) (map[string]any, error)

// Node is one named step of a sequential graph.
type Node struct {
	Name string
	Run  NodeFunc
}

type interruptError struct {
	value any
}

func (e *interruptError) Error() string {
	return fmt.Sprintf("interrupt: %v", e.value)
}

// Interrupt pauses execution at the current node until a resume command
// arrives. Node functions return it like an ordinary error.
func Interrupt(value any) error {
	return &interruptError{value: value}
}

// Graph executes its nodes in order, checkpointing after every step.
type Graph struct {
	name  string
	saver *Saver
	nodes []Node
}

// New builds a sequential graph over the shared checkpoint store.
func New(name string, saver *Saver, nodes ...Node) *Graph {
	return &Graph{name: name, saver: saver, nodes: nodes}
}

// Name returns the graph's registered name.
func (g *Graph) Name() string {
	return g.name
}

// Nodes returns the node names in execution order.
func (g *Graph) Nodes() []string {
	names := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		names[i] = n.Name
	}
	return names
}

func (g *Graph) nodeIndex(name string) int {
	for i, n := range g.nodes {
		if n.Name == name {
			return i
		}
	}
	return -1
}

// Stream executes the graph for cfg.ThreadID, emitting one chunk per step
// and mode. A *graph.Command input resumes from the pending checkpoint.
func (g *Graph) Stream(ctx context.Context, input any, cfg graph.RunConfig, opts graph.StreamOptions, emit func(graph.Chunk) error) error {
	latest := g.saver.latest(cfg.ThreadID)

	values := map[string]any{}
	if latest != nil {
		values = cloneMap(latest.values)
		if values == nil {
			values = map[string]any{}
		}
	}

	start := 0
	resuming := false
	if latest != nil && len(latest.next) > 0 {
		if idx := g.nodeIndex(latest.next[0]); idx >= 0 {
			start = idx
		}
		resuming = true
	}

	switch in := input.(type) {
	case nil:
		// Bare continuation from the pending checkpoint.
	case *graph.Command:
		if in.Update != nil {
			maps.Copy(values, in.Update)
		}
		if in.Resume != nil {
			values[resumeKey] = in.Resume
		}
		if len(in.Goto) > 0 {
			idx := g.nodeIndex(in.Goto[0])
			if idx < 0 {
				return fmt.Errorf("unknown node %q in goto", in.Goto[0])
			}
			start = idx
		}
		resuming = true
	case map[string]any:
		maps.Copy(values, in)
		if !resuming {
			start = 0
		}
	default:
		values["input"] = input
		if !resuming {
			start = 0
		}
	}

	limit := cfg.RecursionLimit
	if limit <= 0 {
		limit = defaultRecursionLimit
	}

	metadata := cloneMap(cfg.Metadata)
	modes := opts.Modes
	if len(modes) == 0 {
		modes = []string{"values"}
	}

	steps := 0
	for i := start; i < len(g.nodes); i++ {
		node := g.nodes[i]

		if err := ctx.Err(); err != nil {
			g.saver.put(cfg.ThreadID, &record{
				values:   cloneMap(values),
				next:     []string{node.Name},
				metadata: metadata,
			})
			return err
		}

		// A resume command must not re-pause on the node it resumes.
		if !(resuming && i == start) && slices.Contains(opts.InterruptBefore, node.Name) {
			g.saver.put(cfg.ThreadID, &record{
				values:   cloneMap(values),
				next:     []string{node.Name},
				metadata: metadata,
			})
			return nil
		}

		if steps >= limit {
			return fmt.Errorf("recursion limit of %d reached without hitting a stop condition", limit)
		}
		steps++

		delta, err := node.Run(ctx, values)
		if err != nil {
			var intr *interruptError
			if errors.As(err, &intr) {
				g.saver.put(cfg.ThreadID, &record{
					values:        cloneMap(values),
					next:          []string{node.Name},
					metadata:      metadata,
					interrupts:    []graph.Interrupt{{Value: intr.value, ID: uuid.NewString()}},
					interruptNode: node.Name,
				})
				return nil
			}
			g.saver.put(cfg.ThreadID, &record{
				values:   cloneMap(values),
				next:     []string{node.Name},
				metadata: metadata,
				taskErrs: map[string]string{node.Name: err.Error()},
			})
			return err
		}

		maps.Copy(values, delta)
		delete(values, resumeKey)

		var next []string
		if i+1 < len(g.nodes) {
			next = []string{g.nodes[i+1].Name}
		}
		g.saver.put(cfg.ThreadID, &record{
			values:   cloneMap(values),
			next:     next,
			metadata: metadata,
		})

		for _, mode := range modes {
			chunk := graph.Chunk{Payload: g.payloadFor(mode, node.Name, values, delta)}
			if len(modes) > 1 {
				chunk.Mode = mode
			}
			if err := emit(chunk); err != nil {
				return err
			}
		}

		if slices.Contains(opts.InterruptAfter, node.Name) && i+1 < len(g.nodes) {
			return nil
		}
	}

	return nil
}

func (g *Graph) payloadFor(mode, nodeName string, values, delta map[string]any) any {
	if mode == "updates" {
		return map[string]any{nodeName: cloneMap(delta)}
	}
	return cloneMap(values)
}

// State returns the snapshot at cfg.CheckpointID, or the latest checkpoint
// when unset. Subgraph expansion is a no-op: sequential graphs have no
// nested executions.
func (g *Graph) State(ctx context.Context, cfg graph.RunConfig, subgraphs bool) (*graph.Snapshot, error) {
	var rec *record
	if cfg.CheckpointID != "" {
		rec = g.saver.at(cfg.ThreadID, cfg.CheckpointID)
	} else {
		rec = g.saver.latest(cfg.ThreadID)
	}
	if rec == nil {
		return nil, graph.ErrNoCheckpoint
	}
	return g.snapshot(cfg, rec), nil
}

// UpdateState merges values into the latest thread state as node asNode and
// records a new checkpoint.
func (g *Graph) UpdateState(ctx context.Context, cfg graph.RunConfig, values any, asNode string) error {
	update, ok := values.(map[string]any)
	if !ok && values != nil {
		return fmt.Errorf("state update must be an object, got %T", values)
	}

	merged := map[string]any{}
	var next []string
	if latest := g.saver.latest(cfg.ThreadID); latest != nil {
		merged = cloneMap(latest.values)
		next = latest.next
	}
	maps.Copy(merged, update)

	metadata := map[string]any{"source": "update"}
	if asNode != "" {
		metadata["writes"] = map[string]any{asNode: update}
	}
	maps.Copy(metadata, cloneMap(cfg.Metadata))

	g.saver.put(cfg.ThreadID, &record{
		values:   merged,
		next:     next,
		metadata: metadata,
	})
	return nil
}

// StateHistory lists snapshots newest-first, ending before cfg.CheckpointID
// when set.
func (g *Graph) StateHistory(ctx context.Context, cfg graph.RunConfig, limit int) ([]*graph.Snapshot, error) {
	recs := g.saver.history(cfg.ThreadID, cfg.CheckpointID, limit)
	out := make([]*graph.Snapshot, len(recs))
	for i, rec := range recs {
		out[i] = g.snapshot(cfg, rec)
	}
	return out, nil
}

func (g *Graph) snapshot(cfg graph.RunConfig, rec *record) *graph.Snapshot {
	snap := &graph.Snapshot{
		Values: cloneMap(rec.values),
		Next:   append([]string(nil), rec.next...),
		Config: graph.Checkpoint{
			ThreadID:     cfg.ThreadID,
			CheckpointNS: cfg.CheckpointNS,
			CheckpointID: rec.id,
		},
		Metadata:  cloneMap(rec.metadata),
		CreatedAt: rec.createdAt,
	}
	if rec.parentID != "" {
		snap.Parent = &graph.Checkpoint{
			ThreadID:     cfg.ThreadID,
			CheckpointNS: cfg.CheckpointNS,
			CheckpointID: rec.parentID,
		}
	}
	for _, name := range rec.next {
		task := graph.Task{
			ID:    uuid.NewString(),
			Name:  name,
			Error: rec.taskErrs[name],
		}
		if rec.interruptNode == name {
			task.Interrupts = append(task.Interrupts, rec.interrupts...)
		}
		snap.Tasks = append(snap.Tasks, task)
	}
	return snap
}

var (
	_ graph.Graph        = (*Graph)(nil)
	_ graph.Checkpointer = (*Saver)(nil)
)
