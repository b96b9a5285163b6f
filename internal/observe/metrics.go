// Package observe provides observability primitives for the relay client:
// OpenTelemetry metrics, tracing helpers, and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// wires a Prometheus exporter so they can be scraped from the standard
// /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all client metrics.
const meterName = "github.com/stevehaskew/live-translate"

// Metrics holds all OpenTelemetry metric instruments for the client. All
// fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscriptsForwarded counts final transcripts relayed to the broker.
	TranscriptsForwarded metric.Int64Counter

	// FramesSent counts audio frames sent to the transcription provider.
	FramesSent metric.Int64Counter

	// TokenRefreshes counts credential refresh round-trips. Use with
	// attribute: attribute.String("status", "ok"|"rejected"|"timeout")
	TokenRefreshes metric.Int64Counter

	// Reconnects counts successful broker reconnections.
	Reconnects metric.Int64Counter

	// ProviderErrors counts transcription provider failures. Use with
	// attribute: attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// StreamDuration tracks the lifetime of one transcription stream.
	StreamDuration metric.Float64Histogram

	// ActiveStreams tracks how many transcription streams are open.
	ActiveStreams metric.Int64UpDownCounter
}

// streamBuckets defines duration bucket boundaries (in seconds). Streams are
// long-lived; providers cut them over roughly every few hours at most.
var streamBuckets = []float64{
	1, 10, 60, 300, 900, 1800, 3600, 7200, 14400,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptsForwarded, err = m.Int64Counter("livetranslate.transcripts.forwarded",
		metric.WithDescription("Total final transcripts relayed to the broker."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("livetranslate.audio.frames_sent",
		metric.WithDescription("Total audio frames sent to the transcription provider."),
	); err != nil {
		return nil, err
	}
	if met.TokenRefreshes, err = m.Int64Counter("livetranslate.token.refreshes",
		metric.WithDescription("Total credential refresh round-trips by status."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("livetranslate.broker.reconnects",
		metric.WithDescription("Total successful broker reconnections."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("livetranslate.provider.errors",
		metric.WithDescription("Total transcription provider failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.StreamDuration, err = m.Float64Histogram("livetranslate.stream.duration",
		metric.WithDescription("Lifetime of one transcription stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(streamBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("livetranslate.streams.active",
		metric.WithDescription("Number of open transcription streams."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTokenRefresh records one credential refresh round-trip.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, status string) {
	m.TokenRefreshes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordProviderError records one transcription provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordStreamClosed records the end of a transcription stream that opened
// at start.
func (m *Metrics) RecordStreamClosed(ctx context.Context, start time.Time) {
	m.StreamDuration.Record(ctx, time.Since(start).Seconds())
	m.ActiveStreams.Add(ctx, -1)
}

// RecordStreamOpened records a newly opened transcription stream.
func (m *Metrics) RecordStreamOpened(ctx context.Context) {
	m.ActiveStreams.Add(ctx, 1)
}
