package app

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strand/internal/observability"
)

func TestEventBufferAppendAndHistory(t *testing.T) {
	b := NewEventBuffer()

	b.Append("run-1", Event{Event: EventMetadata, Data: map[string]any{"run_id": "run-1"}})
	b.Append("run-1", Event{Event: "values", Data: map[string]any{"x": 1}})

	history := b.History("run-1")
	require.Len(t, history, 2)
	require.Equal(t, EventMetadata, history[0].Event)
	require.Equal(t, "values", history[1].Event)
	require.True(t, b.IsActive("run-1"))
	require.True(t, b.HasRun("run-1"))
}

func TestEventBufferFanOut(t *testing.T) {
	b := NewEventBuffer()
	b.Append("run-1", Event{Event: EventMetadata})

	sub1 := b.Subscribe("run-1")
	sub2 := b.Subscribe("run-1")
	defer sub1.Close()
	defer sub2.Close()

	b.Append("run-1", Event{Event: "values", Data: 1})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.C:
			require.Equal(t, "values", ev.Event)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestEventBufferEndClosesSubscribers(t *testing.T) {
	b := NewEventBuffer()
	b.Append("run-1", Event{Event: EventMetadata})

	sub := b.Subscribe("run-1")
	b.Append("run-1", Event{Event: EventEnd})

	var got []Event
	for ev := range sub.C {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	require.Equal(t, EventEnd, got[0].Event)
	require.False(t, b.IsActive("run-1"))
	require.True(t, b.HasRun("run-1"))
}

func TestEventBufferDropsAfterFinish(t *testing.T) {
	b := NewEventBuffer()
	b.Append("run-1", Event{Event: EventMetadata})
	b.Finish("run-1")

	b.Append("run-1", Event{Event: "values", Data: 1})

	history := b.History("run-1")
	require.Len(t, history, 1, "events after finish must be dropped")
}

func TestEventBufferSubscribeBeforeFirstEvent(t *testing.T) {
	b := NewEventBuffer()

	// Subscribing ahead of the first event creates the buffer, so a client
	// rejoining a pending or delayed run waits instead of getting an empty,
	// instantly-closed stream.
	sub := b.Subscribe("run-1")
	defer sub.Close()
	require.True(t, b.HasRun("run-1"))

	b.Append("run-1", Event{Event: "values", Data: 1})
	b.Append("run-1", Event{Event: EventEnd})

	var got []Event
	for ev := range sub.C {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	require.Equal(t, "values", got[0].Event)
	require.Equal(t, EventEnd, got[1].Event)
}

func TestEventBufferSubscribeFinishedRunClosedImmediately(t *testing.T) {
	b := NewEventBuffer()
	b.Append("run-1", Event{Event: EventEnd})

	sub := b.Subscribe("run-1")
	select {
	case _, ok := <-sub.C:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel for finished run should be closed")
	}
}

func TestEventBufferFollowSplicesHistoryAndLive(t *testing.T) {
	b := NewEventBuffer()
	b.Append("run-1", Event{Event: EventMetadata})
	b.Append("run-1", Event{Event: "values", Data: 1})

	history, sub := b.Follow("run-1")
	require.Len(t, history, 2)

	b.Append("run-1", Event{Event: "values", Data: 2})
	b.Append("run-1", Event{Event: EventEnd})

	var live []Event
	for ev := range sub.C {
		live = append(live, ev)
	}
	require.Len(t, live, 2)
	require.Equal(t, "values", live[0].Event)
	require.Equal(t, EventEnd, live[1].Event)
}

func TestEventBufferCriticalEventEvictsOldest(t *testing.T) {
	b := NewEventBuffer()
	b.Append("run-1", Event{Event: EventMetadata})

	sub := b.Subscribe("run-1")
	// Fill the subscriber queue without draining it.
	for i := 0; i < subscriberQueueSize; i++ {
		b.Append("run-1", Event{Event: "values", Data: i})
	}

	// The end event must land even on a saturated subscriber.
	b.Append("run-1", Event{Event: EventEnd})

	var last Event
	for ev := range sub.C {
		last = ev
	}
	require.Equal(t, EventEnd, last.Event)
}

func TestEventBufferClear(t *testing.T) {
	b := NewEventBuffer()
	b.Append("run-1", Event{Event: EventMetadata})
	b.Append("run-1", Event{Event: EventEnd})

	b.Clear("run-1")
	require.False(t, b.HasRun("run-1"))
	require.Empty(t, b.History("run-1"))
}

func TestEventBufferReapExpired(t *testing.T) {
	now := time.Now()
	b := NewEventBuffer(WithBufferTTL(time.Hour))
	b.clock = func() time.Time { return now }

	b.Append("old", Event{Event: EventMetadata})
	b.Append("old", Event{Event: EventEnd})
	b.Append("live", Event{Event: EventMetadata})

	// Not yet expired.
	b.reapExpired()
	require.True(t, b.HasRun("old"))

	b.clock = func() time.Time { return now.Add(2 * time.Hour) }
	b.reapExpired()
	require.False(t, b.HasRun("old"), "finished buffer past ttl must be reaped")
	require.True(t, b.HasRun("live"), "unfinished buffer must survive the reaper")
}

func TestEventBufferSubscriptionGaugeBalanced(t *testing.T) {
	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{Enabled: true})
	require.NoError(t, err)

	b := NewEventBuffer(WithBufferMetrics(metrics))

	// Finish with subscribers still attached.
	b.Append("run-1", Event{Event: EventMetadata})
	b.Subscribe("run-1")
	b.Subscribe("run-1")
	b.Append("run-1", Event{Event: EventEnd})

	// Clear with a subscriber still attached.
	b.Subscribe("run-2")
	b.Clear("run-2")

	// Explicit close path.
	sub := b.Subscribe("run-3")
	sub.Close()

	require.Equal(t, 0.0, scrapeGauge(t, metrics, "strand_subscriptions_active"))
}

func scrapeGauge(t *testing.T, metrics *observability.MetricsCollector, name string) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, name) {
			fields := strings.Fields(line)
			value, err := strconv.ParseFloat(fields[len(fields)-1], 64)
			require.NoError(t, err)
			return value
		}
	}
	t.Fatalf("metric %s not found in scrape output", name)
	return 0
}

func TestEventBufferStopClosesSubscribers(t *testing.T) {
	b := NewEventBuffer()
	b.Start()
	b.Append("run-1", Event{Event: EventMetadata})
	sub := b.Subscribe("run-1")

	b.Stop()

	select {
	case _, ok := <-sub.C:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stop should close subscriber channels")
	}
}
