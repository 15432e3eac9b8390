package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages the run execution metrics.
type MetricsCollector struct {
	meter metric.Meter

	// Run metrics
	runsStarted   metric.Int64Counter
	runsCompleted metric.Int64Counter
	runDuration   metric.Float64Histogram
	runsActive    metric.Int64UpDownCounter

	// Event buffer metrics
	eventsAppended      metric.Int64Counter
	eventsDropped       metric.Int64Counter
	subscriptionsActive metric.Int64UpDownCounter
	buffersReaped       metric.Int64Counter
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewMetricsCollector creates a new metrics collector backed by the
// Prometheus exporter. Scraping goes through Handler, mounted on the API
// router rather than a side port.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("strand")

	runsStarted, err := meter.Int64Counter(
		"strand.runs.started.total",
		metric.WithDescription("Total number of runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs_started counter: %w", err)
	}

	runsCompleted, err := meter.Int64Counter(
		"strand.runs.completed.total",
		metric.WithDescription("Total number of runs reaching a terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs_completed counter: %w", err)
	}

	runDuration, err := meter.Float64Histogram(
		"strand.runs.duration",
		metric.WithDescription("Run duration from start to terminal status in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run_duration histogram: %w", err)
	}

	runsActive, err := meter.Int64UpDownCounter(
		"strand.runs.active",
		metric.WithDescription("Number of currently executing runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs_active gauge: %w", err)
	}

	eventsAppended, err := meter.Int64Counter(
		"strand.events.appended.total",
		metric.WithDescription("Total number of events appended to run buffers"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events_appended counter: %w", err)
	}

	eventsDropped, err := meter.Int64Counter(
		"strand.events.dropped.total",
		metric.WithDescription("Events dropped on slow or finished subscribers"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events_dropped counter: %w", err)
	}

	subscriptionsActive, err := meter.Int64UpDownCounter(
		"strand.subscriptions.active",
		metric.WithDescription("Number of live event subscriptions"),
		metric.WithUnit("{subscription}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptions_active gauge: %w", err)
	}

	buffersReaped, err := meter.Int64Counter(
		"strand.buffers.reaped.total",
		metric.WithDescription("Finished run buffers removed by the TTL reaper"),
		metric.WithUnit("{buffer}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffers_reaped counter: %w", err)
	}

	return &MetricsCollector{
		meter:               meter,
		runsStarted:         runsStarted,
		runsCompleted:       runsCompleted,
		runDuration:         runDuration,
		runsActive:          runsActive,
		eventsAppended:      eventsAppended,
		eventsDropped:       eventsDropped,
		subscriptionsActive: subscriptionsActive,
		buffersReaped:       buffersReaped,
	}, nil
}

// Handler returns the Prometheus scrape handler.
func (m *MetricsCollector) Handler() http.Handler {
	return promclient.Handler()
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	return nil
}

// RecordRunStarted records a run entering execution.
func (m *MetricsCollector) RecordRunStarted(ctx context.Context, assistantID string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("assistant_id", assistantID)))
	m.runsActive.Add(ctx, 1)
}

// RecordRunCompleted records a run reaching a terminal status.
func (m *MetricsCollector) RecordRunCompleted(ctx context.Context, assistantID, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("assistant_id", assistantID),
		attribute.String("status", status),
	}
	m.runsCompleted.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.runsActive.Add(ctx, -1)
}

// RecordEventAppended records one event buffered for a run.
func (m *MetricsCollector) RecordEventAppended(ctx context.Context, event string) {
	if m.eventsAppended == nil {
		return
	}
	m.eventsAppended.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordEventDropped records an event lost to a slow subscriber queue or a
// finished buffer.
func (m *MetricsCollector) RecordEventDropped(ctx context.Context, reason string) {
	if m.eventsDropped == nil {
		return
	}
	m.eventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// IncrementSubscriptions increments the live subscription gauge.
func (m *MetricsCollector) IncrementSubscriptions(ctx context.Context) {
	if m.subscriptionsActive == nil {
		return
	}
	m.subscriptionsActive.Add(ctx, 1)
}

// DecrementSubscriptions decrements the live subscription gauge.
func (m *MetricsCollector) DecrementSubscriptions(ctx context.Context) {
	if m.subscriptionsActive == nil {
		return
	}
	m.subscriptionsActive.Add(ctx, -1)
}

// RecordBuffersReaped records buffers removed by one reaper pass.
func (m *MetricsCollector) RecordBuffersReaped(ctx context.Context, count int) {
	if m.buffersReaped == nil || count == 0 {
		return
	}
	m.buffersReaped.Add(ctx, int64(count))
}
