package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strand/internal/graph"
	"strand/internal/graph/inmem"
)

// newDemoService wires a real sequential graph with an in-memory checkpoint
// store, the closest thing to a deployed service in a unit test.
func newDemoService(t *testing.T, nodes ...inmem.Node) (*Service, *inmem.Saver) {
	t.Helper()
	saver := inmem.NewSaver()
	g := inmem.New("agent", saver, nodes...)
	svc := NewService(map[string]graph.Graph{"agent": g}, saver,
		WithEventBufferTTL(time.Minute),
		WithServiceReaperInterval(time.Minute),
	)
	svc.Start()
	t.Cleanup(svc.Stop)
	return svc, saver
}

func TestServiceRunLifecycle(t *testing.T) {
	svc, _ := newDemoService(t,
		inmem.Node{Name: "draft", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			return map[string]any{"draft": "v1"}, nil
		}},
		inmem.Node{Name: "polish", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			return map[string]any{"final": values["draft"].(string) + "+polish"}, nil
		}},
	)

	events := collect(svc.StreamRun(context.Background(), "t1", &RunRequest{
		AssistantID: "agent",
		Input:       map[string]any{"topic": "go"},
	}))

	require.Equal(t, EventMetadata, events[0].Event)
	require.Equal(t, EventEnd, events[len(events)-1].Event)
	// One values event per node.
	require.Len(t, events, 4)
	last := events[2].Data.(map[string]any)
	require.Equal(t, "v1+polish", last["final"])

	th, err := svc.GetThread(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, ThreadStatusIdle, th.Status)
	require.Equal(t, "go", th.Values["topic"])

	st, err := svc.GetThreadState(context.Background(), "t1", false)
	require.NoError(t, err)
	require.NotNil(t, st)
	require.Empty(t, st.Next)
	require.NotEmpty(t, st.Checkpoint.CheckpointID)
}

func TestServiceInterruptAndResume(t *testing.T) {
	svc, _ := newDemoService(t,
		inmem.Node{Name: "ask", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			if resume, ok := values["__resume__"]; ok {
				return map[string]any{"answer": resume}, nil
			}
			return nil, inmem.Interrupt("need approval")
		}},
		inmem.Node{Name: "done", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			return map[string]any{"done": true}, nil
		}},
	)

	result, err := svc.WaitRun(context.Background(), "t1", &RunRequest{
		AssistantID: "agent",
		Input:       map[string]any{"topic": "go"},
	})
	require.NoError(t, err)
	require.Equal(t, RunStatusInterrupted, result.Status)

	th, err := svc.GetThread(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, ThreadStatusInterrupted, th.Status)
	require.Len(t, th.Interrupts, 1)

	result, err = svc.WaitRun(context.Background(), "t1", &RunRequest{
		AssistantID: "agent",
		Command:     &CommandSpec{Resume: "approved"},
	})
	require.NoError(t, err)
	require.Equal(t, RunStatusSuccess, result.Status)

	th, err = svc.GetThread(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, ThreadStatusIdle, th.Status)
	require.Equal(t, "approved", th.Values["answer"])
	require.Equal(t, true, th.Values["done"])
}

func TestServiceUpdateStateAndHistory(t *testing.T) {
	svc, _ := newDemoService(t,
		inmem.Node{Name: "step", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			return map[string]any{"count": 1}, nil
		}},
	)

	_, err := svc.WaitRun(context.Background(), "t1", &RunRequest{
		AssistantID: "agent",
		Input:       map[string]any{"seed": true},
	})
	require.NoError(t, err)

	ref, err := svc.UpdateThreadState(context.Background(), "t1", map[string]any{"count": 2}, "step", "", "")
	require.NoError(t, err)
	require.NotEmpty(t, ref.CheckpointID)

	st, err := svc.GetThreadState(context.Background(), "t1", false)
	require.NoError(t, err)
	require.EqualValues(t, 2, st.Values["count"])

	history, err := svc.GetThreadHistory(context.Background(), "t1", 0, "", "")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(history), 2)
	// Newest first: the update checkpoint leads.
	require.Equal(t, ref.CheckpointID, history[0].Checkpoint.CheckpointID)

	at, err := svc.GetThreadStateAtCheckpoint(context.Background(), "t1", history[1].Checkpoint.CheckpointID, "")
	require.NoError(t, err)
	require.EqualValues(t, 1, at.Values["count"])
}

func TestServiceDeleteThread(t *testing.T) {
	svc, saver := newDemoService(t,
		inmem.Node{Name: "step", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			return map[string]any{"count": 1}, nil
		}},
	)

	_, err := svc.WaitRun(context.Background(), "t1", &RunRequest{AssistantID: "agent", Input: map[string]any{}})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteThread(context.Background(), "t1"))

	ids, err := saver.ThreadIDs(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, ids)

	_, err = svc.GetThread(context.Background(), "t1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestServiceSearchAfterRuns(t *testing.T) {
	svc, _ := newDemoService(t,
		inmem.Node{Name: "step", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		}},
	)

	for _, id := range []string{"t-a", "t-b"} {
		_, err := svc.WaitRun(context.Background(), id, &RunRequest{AssistantID: "agent", Input: map[string]any{}})
		require.NoError(t, err)
	}

	threads, err := svc.SearchThreads(context.Background(), &ThreadSearchRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, threads, 2)
}
