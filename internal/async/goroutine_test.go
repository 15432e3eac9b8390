package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *recordingLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func TestGoRecoversPanic(t *testing.T) {
	logger := &recordingLogger{}
	done := make(chan struct{})

	Go(logger, "boom", func() {
		defer close(done)
		panic("exploded")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not finish")
	}

	require.Eventually(t, func() bool {
		msgs := logger.all()
		return len(msgs) == 1
	}, time.Second, 10*time.Millisecond)
	require.Contains(t, logger.all()[0], "boom")
	require.Contains(t, logger.all()[0], "exploded")
}

func TestGoNilLoggerDoesNotCrash(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "quiet", func() {
		defer close(done)
		panic("ignored")
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not finish")
	}
}

func TestLoopSurvivesPanickingTick(t *testing.T) {
	logger := &recordingLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int32
	Loop(ctx, logger, "ticker", time.Millisecond, func() {
		if ticks.Add(1) == 1 {
			panic("first tick fails")
		}
	})

	require.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, 2*time.Second, time.Millisecond)
	require.NotEmpty(t, logger.all())
}

func TestLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var ticks atomic.Int32
	Loop(ctx, nil, "stopper", time.Millisecond, func() {
		ticks.Add(1)
	})

	require.Eventually(t, func() bool { return ticks.Load() > 0 }, time.Second, time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)
	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, ticks.Load())
}
