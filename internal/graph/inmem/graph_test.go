package inmem

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"strand/internal/graph"
)

func runAll(t *testing.T, g *Graph, input any, cfg graph.RunConfig, opts graph.StreamOptions) []graph.Chunk {
	t.Helper()
	var chunks []graph.Chunk
	err := g.Stream(context.Background(), input, cfg, opts, func(c graph.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	return chunks
}

func counterGraph(saver *Saver) *Graph {
	return New("counter", saver,
		Node{Name: "inc", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			n, _ := values["n"].(int)
			return map[string]any{"n": n + 1}, nil
		}},
		Node{Name: "double", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			n, _ := values["n"].(int)
			return map[string]any{"n": n * 2}, nil
		}},
	)
}

func TestStreamEmitsValuesPerNode(t *testing.T) {
	g := counterGraph(NewSaver())

	chunks := runAll(t, g, map[string]any{"n": 1}, graph.RunConfig{ThreadID: "t1"}, graph.StreamOptions{})

	require.Len(t, chunks, 2)
	require.Equal(t, 2, chunks[0].Payload.(map[string]any)["n"])
	require.Equal(t, 4, chunks[1].Payload.(map[string]any)["n"])
	// Single bare mode: chunks carry no mode label.
	require.Empty(t, chunks[0].Mode)
}

func TestStreamMultipleModes(t *testing.T) {
	g := counterGraph(NewSaver())

	chunks := runAll(t, g, map[string]any{"n": 1}, graph.RunConfig{ThreadID: "t1"}, graph.StreamOptions{
		Modes: []string{"values", "updates"},
	})

	require.Len(t, chunks, 4)
	require.Equal(t, "values", chunks[0].Mode)
	require.Equal(t, "updates", chunks[1].Mode)
	update := chunks[1].Payload.(map[string]any)
	require.Contains(t, update, "inc")
}

func TestStreamScalarInput(t *testing.T) {
	saver := NewSaver()
	g := New("echo", saver,
		Node{Name: "echo", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			return map[string]any{"echo": values["input"]}, nil
		}},
	)

	chunks := runAll(t, g, "hello", graph.RunConfig{ThreadID: "t1"}, graph.StreamOptions{})
	require.Equal(t, "hello", chunks[0].Payload.(map[string]any)["echo"])
}

func TestInterruptBeforePausesExecution(t *testing.T) {
	saver := NewSaver()
	g := counterGraph(saver)

	chunks := runAll(t, g, map[string]any{"n": 1}, graph.RunConfig{ThreadID: "t1"}, graph.StreamOptions{
		InterruptBefore: []string{"double"},
	})
	require.Len(t, chunks, 1)

	snap, err := g.State(context.Background(), graph.RunConfig{ThreadID: "t1"}, false)
	require.NoError(t, err)
	require.Equal(t, []string{"double"}, snap.Next)

	// Bare continuation picks up at the paused node.
	chunks = runAll(t, g, nil, graph.RunConfig{ThreadID: "t1"}, graph.StreamOptions{})
	require.Len(t, chunks, 1)
	require.Equal(t, 4, chunks[0].Payload.(map[string]any)["n"])
}

func TestNodeInterruptAndResume(t *testing.T) {
	saver := NewSaver()
	g := New("approval", saver,
		Node{Name: "gate", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			if v, ok := values[resumeKey]; ok {
				return map[string]any{"approved": v}, nil
			}
			return nil, Interrupt("waiting")
		}},
	)

	chunks := runAll(t, g, map[string]any{}, graph.RunConfig{ThreadID: "t1"}, graph.StreamOptions{})
	require.Empty(t, chunks)

	snap, err := g.State(context.Background(), graph.RunConfig{ThreadID: "t1"}, false)
	require.NoError(t, err)
	require.Equal(t, []string{"gate"}, snap.Next)
	require.Len(t, snap.Tasks, 1)
	require.Len(t, snap.Tasks[0].Interrupts, 1)
	require.Equal(t, "waiting", snap.Tasks[0].Interrupts[0].Value)

	chunks = runAll(t, g, &graph.Command{Resume: "yes"}, graph.RunConfig{ThreadID: "t1"}, graph.StreamOptions{})
	require.Len(t, chunks, 1)
	values := chunks[0].Payload.(map[string]any)
	require.Equal(t, "yes", values["approved"])
	// The resume value does not leak into the thread state.
	require.NotContains(t, values, resumeKey)
}

func TestNodeErrorRecordsTaskError(t *testing.T) {
	saver := NewSaver()
	boom := errors.New("boom")
	g := New("failing", saver,
		Node{Name: "explode", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			return nil, boom
		}},
	)

	err := g.Stream(context.Background(), map[string]any{}, graph.RunConfig{ThreadID: "t1"}, graph.StreamOptions{}, func(graph.Chunk) error { return nil })
	require.ErrorIs(t, err, boom)

	snap, err := g.State(context.Background(), graph.RunConfig{ThreadID: "t1"}, false)
	require.NoError(t, err)
	require.Len(t, snap.Tasks, 1)
	require.Equal(t, "boom", snap.Tasks[0].Error)
}

func TestRecursionLimit(t *testing.T) {
	saver := NewSaver()
	nodes := make([]Node, 3)
	for i := range nodes {
		nodes[i] = Node{Name: string(rune('a' + i)), Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			return nil, nil
		}}
	}
	g := New("long", saver, nodes...)

	err := g.Stream(context.Background(), map[string]any{}, graph.RunConfig{ThreadID: "t1", RecursionLimit: 2}, graph.StreamOptions{}, func(graph.Chunk) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "recursion limit of 2")
}

func TestCommandGoto(t *testing.T) {
	saver := NewSaver()
	g := counterGraph(saver)
	runAll(t, g, map[string]any{"n": 1}, graph.RunConfig{ThreadID: "t1"}, graph.StreamOptions{})

	chunks := runAll(t, g, &graph.Command{Goto: []string{"double"}}, graph.RunConfig{ThreadID: "t1"}, graph.StreamOptions{})
	require.Len(t, chunks, 1)
	require.Equal(t, 8, chunks[0].Payload.(map[string]any)["n"])

	err := g.Stream(context.Background(), &graph.Command{Goto: []string{"missing"}}, graph.RunConfig{ThreadID: "t1"}, graph.StreamOptions{}, func(graph.Chunk) error { return nil })
	require.Error(t, err)
}

func TestUpdateStateCreatesCheckpoint(t *testing.T) {
	saver := NewSaver()
	g := counterGraph(saver)
	runAll(t, g, map[string]any{"n": 1}, graph.RunConfig{ThreadID: "t1"}, graph.StreamOptions{})

	before, err := g.State(context.Background(), graph.RunConfig{ThreadID: "t1"}, false)
	require.NoError(t, err)

	require.NoError(t, g.UpdateState(context.Background(), graph.RunConfig{ThreadID: "t1"}, map[string]any{"n": 100}, "inc"))

	after, err := g.State(context.Background(), graph.RunConfig{ThreadID: "t1"}, false)
	require.NoError(t, err)
	require.Equal(t, 100, after.Values["n"])
	require.NotEqual(t, before.Config.CheckpointID, after.Config.CheckpointID)
	require.Equal(t, "update", after.Metadata["source"])
	require.NotNil(t, after.Parent)
	require.Equal(t, before.Config.CheckpointID, after.Parent.CheckpointID)
}

func TestStateHistoryNewestFirst(t *testing.T) {
	saver := NewSaver()
	g := counterGraph(saver)
	runAll(t, g, map[string]any{"n": 1}, graph.RunConfig{ThreadID: "t1"}, graph.StreamOptions{})

	history, err := g.StateHistory(context.Background(), graph.RunConfig{ThreadID: "t1"}, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 4, history[0].Values["n"])
	require.Equal(t, 2, history[1].Values["n"])

	// Before filter skips the newest checkpoint.
	older, err := g.StateHistory(context.Background(), graph.RunConfig{ThreadID: "t1", CheckpointID: history[0].Config.CheckpointID}, 0)
	require.NoError(t, err)
	require.Len(t, older, 1)
	require.Equal(t, 2, older[0].Values["n"])
}

func TestSaverCheckpointer(t *testing.T) {
	saver := NewSaver()
	g := counterGraph(saver)
	cfg := graph.RunConfig{ThreadID: "t1", Metadata: map[string]any{"assistant_id": "counter"}}
	runAll(t, g, map[string]any{"n": 1}, cfg, graph.StreamOptions{})
	runAll(t, g, map[string]any{"n": 5}, graph.RunConfig{ThreadID: "t2"}, graph.StreamOptions{})

	ids, err := saver.ThreadIDs(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t2"}, ids)

	md, err := saver.LatestMetadata(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "counter", md["assistant_id"])

	_, err = saver.LatestMetadata(context.Background(), "ghost")
	require.ErrorIs(t, err, graph.ErrNoCheckpoint)

	require.NoError(t, saver.DeleteThread(context.Background(), "t1"))
	ids, err = saver.ThreadIDs(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, []string{"t2"}, ids)
}
