// Package observe provides observability primitives for the transcription
// pipeline: OpenTelemetry metric instruments and SDK provider setup with a
// Prometheus exporter bridge.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all pipeline metrics.
const meterName = "github.com/hwittich/scrivener"

// Metrics holds the OpenTelemetry instruments for the pipeline. All fields
// are safe for concurrent use — the underlying OTel types handle their own
// synchronisation.
type Metrics struct {
	// TranscriptionLatency tracks the time from segment capture to log
	// commit, i.e. transport plus worker inference.
	TranscriptionLatency metric.Float64Histogram

	// SegmentsEmitted counts finalized segments handed to the transport.
	SegmentsEmitted metric.Int64Counter

	// DroppedSends counts segments discarded because the transport was down
	// or its queue was full.
	DroppedSends metric.Int64Counter

	// LogEntries counts committed session-log records. Use with
	// attribute.String("origin", "voice"|"text").
	LogEntries metric.Int64Counter

	// ActiveParticipants tracks the number of participants with live
	// segmenter state.
	ActiveParticipants metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// segment transcription latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionLatency, err = m.Float64Histogram("scrivener.transcription.latency",
		metric.WithDescription("Time from segment capture to log commit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentsEmitted, err = m.Int64Counter("scrivener.segments.emitted",
		metric.WithDescription("Finalized voice segments handed to the transport."),
	); err != nil {
		return nil, err
	}
	if met.DroppedSends, err = m.Int64Counter("scrivener.transport.dropped",
		metric.WithDescription("Segments discarded while the transport was down or saturated."),
	); err != nil {
		return nil, err
	}
	if met.LogEntries, err = m.Int64Counter("scrivener.log.entries",
		metric.WithDescription("Committed session-log records by origin."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("scrivener.active_participants",
		metric.WithDescription("Participants with live segmenter state."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordLogEntry records a committed record with its origin attribute.
func (m *Metrics) RecordLogEntry(ctx context.Context, origin string) {
	m.LogEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
}
