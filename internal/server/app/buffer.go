package app

import (
	"context"
	"sync"
	"time"

	"strand/internal/async"
	"strand/internal/logging"
	"strand/internal/observability"
)

const (
	// subscriberQueueSize bounds each subscription channel so one stalled
	// consumer cannot block the producing run.
	subscriberQueueSize = 256

	defaultBufferTTL      = time.Hour
	defaultReaperInterval = 5 * time.Minute
)

// Subscription is one live consumer of a run's event stream. The channel is
// closed when the run finishes or the subscription is closed.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	buffer *EventBuffer
	runID  string
	once   sync.Once
}

// Close detaches the subscription from its buffer. Safe to call more than
// once and after the run finished.
func (s *Subscription) Close() {
	if s == nil || s.buffer == nil {
		return
	}
	s.buffer.unsubscribe(s.runID, s)
}

func (s *Subscription) closeChannel() {
	s.once.Do(func() {
		close(s.ch)
	})
}

// runBuffer holds the full event history of one run plus its live
// subscribers.
type runBuffer struct {
	events      []Event
	subscribers map[*Subscription]struct{}
	createdAt   time.Time
	finished    bool
	finishedAt  time.Time
}

// EventBuffer stores per-run event histories and fans live events out to
// subscribers. History replay and live subscription splice atomically via
// Follow, so a consumer sees every event exactly once regardless of when it
// attaches.
type EventBuffer struct {
	mu      sync.Mutex
	buffers map[string]*runBuffer

	ttl            time.Duration
	reaperInterval time.Duration
	logger         logging.Logger
	metrics        *observability.MetricsCollector
	clock          func() time.Time

	startOnce  sync.Once
	stopOnce   sync.Once
	reaperStop context.CancelFunc
}

// EventBufferOption customizes an EventBuffer.
type EventBufferOption func(*EventBuffer)

// WithBufferTTL overrides how long a finished run's history stays available
// for replay.
func WithBufferTTL(ttl time.Duration) EventBufferOption {
	return func(b *EventBuffer) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// WithReaperInterval overrides the cleanup cadence.
func WithReaperInterval(interval time.Duration) EventBufferOption {
	return func(b *EventBuffer) {
		if interval > 0 {
			b.reaperInterval = interval
		}
	}
}

// WithBufferLogger overrides the component logger.
func WithBufferLogger(logger logging.Logger) EventBufferOption {
	return func(b *EventBuffer) {
		b.logger = logging.OrNop(logger)
	}
}

// WithBufferMetrics attaches the metrics collector.
func WithBufferMetrics(metrics *observability.MetricsCollector) EventBufferOption {
	return func(b *EventBuffer) {
		b.metrics = metrics
	}
}

// NewEventBuffer creates an event buffer. Call Start to launch the TTL
// reaper.
func NewEventBuffer(opts ...EventBufferOption) *EventBuffer {
	b := &EventBuffer{
		buffers:        make(map[string]*runBuffer),
		ttl:            defaultBufferTTL,
		reaperInterval: defaultReaperInterval,
		logger:         logging.NewComponentLogger("EventBuffer"),
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the background reaper. Idempotent.
func (b *EventBuffer) Start() {
	b.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		b.reaperStop = cancel
		async.Loop(ctx, b.logger, "buffer.reaper", b.reaperInterval, b.reapExpired)
	})
}

// Stop halts the reaper and closes every live subscription. Idempotent.
func (b *EventBuffer) Stop() {
	b.stopOnce.Do(func() {
		if b.reaperStop != nil {
			b.reaperStop()
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, buf := range b.buffers {
			b.dropSubscribersLocked(buf)
		}
	})
}

// Append records an event for the run and delivers it to live subscribers.
// Events arriving after the run finished are dropped.
func (b *EventBuffer) Append(runID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := b.getOrCreateLocked(runID)

	if buf.finished {
		b.logger.Warn("Dropping event %q for finished run %s", ev.Event, runID)
		if b.metrics != nil {
			b.metrics.RecordEventDropped(context.Background(), "finished")
		}
		return
	}

	buf.events = append(buf.events, ev)
	if b.metrics != nil {
		b.metrics.RecordEventAppended(context.Background(), ev.Event)
	}

	for sub := range buf.subscribers {
		b.deliver(runID, sub, ev)
	}

	if ev.Event == EventEnd {
		b.finishLocked(runID, buf)
	}
}

// getOrCreateLocked returns the run's buffer, creating it on first use. Both
// the first event and the first subscription may arrive first.
func (b *EventBuffer) getOrCreateLocked(runID string) *runBuffer {
	buf, ok := b.buffers[runID]
	if !ok {
		buf = &runBuffer{
			subscribers: make(map[*Subscription]struct{}),
			createdAt:   b.clock(),
		}
		b.buffers[runID] = buf
	}
	return buf
}

// deliver sends without blocking; terminal events evict the oldest queued
// event when the consumer is behind so the stream always observes its end.
func (b *EventBuffer) deliver(runID string, sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	if !isCriticalEvent(ev) {
		b.logger.Warn("Subscriber queue full for run %s, dropping event %q", runID, ev.Event)
		if b.metrics != nil {
			b.metrics.RecordEventDropped(context.Background(), "slow_subscriber")
		}
		return
	}

	// Retry once in case the consumer drained the queue after the first
	// attempt.
	select {
	case sub.ch <- ev:
		return
	default:
	}

	// Drop the oldest queued event to make room for the critical one.
	select {
	case dropped := <-sub.ch:
		b.logger.Warn("Subscriber queue full for run %s, evicted %q to deliver %q", runID, dropped.Event, ev.Event)
		if b.metrics != nil {
			b.metrics.RecordEventDropped(context.Background(), "evicted")
		}
	default:
	}

	select {
	case sub.ch <- ev:
	default:
		b.logger.Error("Failed to deliver critical event %q for run %s", ev.Event, runID)
		if b.metrics != nil {
			b.metrics.RecordEventDropped(context.Background(), "critical_lost")
		}
	}
}

func isCriticalEvent(ev Event) bool {
	switch ev.Event {
	case EventEnd, EventError, EventMetadata:
		return true
	}
	return false
}

// Finish marks the run's buffer terminal without appending a wire event,
// closing every live subscription. Used on error and cancellation paths
// where the terminal wire event is an error rather than end.
func (b *EventBuffer) Finish(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.buffers[runID]; ok && !buf.finished {
		b.finishLocked(runID, buf)
	}
}

func (b *EventBuffer) finishLocked(runID string, buf *runBuffer) {
	buf.finished = true
	buf.finishedAt = b.clock()
	b.dropSubscribersLocked(buf)
	b.logger.Debug("Run %s buffer finished with %d events", runID, len(buf.events))
}

// dropSubscribersLocked closes and detaches every subscriber, keeping the
// active-subscriptions gauge in step.
func (b *EventBuffer) dropSubscribersLocked(buf *runBuffer) {
	for sub := range buf.subscribers {
		sub.closeChannel()
		if b.metrics != nil {
			b.metrics.DecrementSubscriptions(context.Background())
		}
	}
	buf.subscribers = make(map[*Subscription]struct{})
}

// History returns a copy of every event recorded for the run so far.
func (b *EventBuffer) History(runID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[runID]
	if !ok {
		return nil
	}
	out := make([]Event, len(buf.events))
	copy(out, buf.events)
	return out
}

// Subscribe attaches a live consumer to the run, creating the run's buffer
// when no event arrived yet. For finished runs the returned subscription's
// channel is already closed.
func (b *EventBuffer) Subscribe(runID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeLocked(runID)
}

// Follow atomically snapshots the run's history and attaches a live
// subscription, so no event is missed or duplicated across the splice.
func (b *EventBuffer) Follow(runID string) ([]Event, *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var history []Event
	if buf, ok := b.buffers[runID]; ok {
		history = make([]Event, len(buf.events))
		copy(history, buf.events)
	}
	return history, b.subscribeLocked(runID)
}

func (b *EventBuffer) subscribeLocked(runID string) *Subscription {
	sub := &Subscription{
		ch:     make(chan Event, subscriberQueueSize),
		buffer: b,
		runID:  runID,
	}
	sub.C = sub.ch

	buf := b.getOrCreateLocked(runID)
	if buf.finished {
		sub.closeChannel()
		return sub
	}

	buf.subscribers[sub] = struct{}{}
	if b.metrics != nil {
		b.metrics.IncrementSubscriptions(context.Background())
	}
	return sub
}

func (b *EventBuffer) unsubscribe(runID string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.buffers[runID]; ok {
		if _, present := buf.subscribers[sub]; present {
			delete(buf.subscribers, sub)
			if b.metrics != nil {
				b.metrics.DecrementSubscriptions(context.Background())
			}
		}
	}
	sub.closeChannel()
}

// IsActive reports whether the run exists and has not finished.
func (b *EventBuffer) IsActive(runID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[runID]
	return ok && !buf.finished
}

// HasRun reports whether any events were recorded for the run.
func (b *EventBuffer) HasRun(runID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.buffers[runID]
	return ok
}

// Clear removes the run's history and closes its subscriptions.
func (b *EventBuffer) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.buffers[runID]; ok {
		b.dropSubscribersLocked(buf)
		delete(b.buffers, runID)
	}
}

// reapExpired removes finished buffers older than the TTL.
func (b *EventBuffer) reapExpired() {
	now := b.clock()

	b.mu.Lock()
	var reaped int
	for runID, buf := range b.buffers {
		if !buf.finished {
			continue
		}
		if now.Sub(buf.finishedAt) >= b.ttl {
			delete(b.buffers, runID)
			reaped++
		}
	}
	b.mu.Unlock()

	if reaped > 0 {
		b.logger.Info("Reaped %d expired run buffers", reaped)
		if b.metrics != nil {
			b.metrics.RecordBuffersReaped(context.Background(), reaped)
		}
	}
}
