// Package observe provides application-wide observability primitives for
// streamscribe: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all streamscribe metrics.
const meterName = "github.com/MrWong99/streamscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SessionDuration tracks wall-clock duration of transcription sessions
	// from start to terminal outcome.
	SessionDuration metric.Float64Histogram

	// ConnectionAttempts counts channel connection attempts. Use with
	// attribute: attribute.String("status", "ok"|"error").
	ConnectionAttempts metric.Int64Counter

	// Retries counts reconnect attempts within sessions.
	Retries metric.Int64Counter

	// SessionFailures counts sessions ending in error by failure kind.
	SessionFailures metric.Int64Counter

	// ChunksPublished counts audio chunks handed to the channel.
	ChunksPublished metric.Int64Counter

	// BytesPublished counts audio bytes handed to the channel.
	BytesPublished metric.Int64Counter

	// TranscriptEvents counts transcript events received. Use with
	// attribute: attribute.Bool("partial", ...).
	TranscriptEvents metric.Int64Counter

	// ActiveSessions tracks the number of live transcription sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time on the metrics
	// and health listener. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// sessionBuckets defines histogram bucket boundaries (in seconds) sized for
// streaming sessions, which run from sub-second clips to long recordings.
var sessionBuckets = []float64{
	0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionDuration, err = m.Float64Histogram("streamscribe.session.duration",
		metric.WithDescription("Wall-clock duration of transcription sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectionAttempts, err = m.Int64Counter("streamscribe.connection.attempts",
		metric.WithDescription("Total channel connection attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.Retries, err = m.Int64Counter("streamscribe.session.retries",
		metric.WithDescription("Total reconnect attempts within sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionFailures, err = m.Int64Counter("streamscribe.session.failures",
		metric.WithDescription("Total sessions ending in error by failure kind."),
	); err != nil {
		return nil, err
	}
	if met.ChunksPublished, err = m.Int64Counter("streamscribe.audio.chunks",
		metric.WithDescription("Total audio chunks handed to the channel."),
	); err != nil {
		return nil, err
	}
	if met.BytesPublished, err = m.Int64Counter("streamscribe.audio.bytes",
		metric.WithDescription("Total audio bytes handed to the channel."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEvents, err = m.Int64Counter("streamscribe.transcript.events",
		metric.WithDescription("Total transcript events received by partial flag."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("streamscribe.active_sessions",
		metric.WithDescription("Number of live transcription sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("streamscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAttempt records a connection attempt with its outcome status.
func (m *Metrics) RecordAttempt(ctx context.Context, status string) {
	m.ConnectionAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordRetries records n reconnect attempts that happened within a session.
func (m *Metrics) RecordRetries(ctx context.Context, n int64) {
	if n > 0 {
		m.Retries.Add(ctx, n)
	}
}

// RecordFailure records a session that ended in error.
func (m *Metrics) RecordFailure(ctx context.Context, kind string) {
	m.SessionFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordChunk records one published audio chunk of the given size.
func (m *Metrics) RecordChunk(ctx context.Context, bytes int) {
	m.ChunksPublished.Add(ctx, 1)
	m.BytesPublished.Add(ctx, int64(bytes))
}

// RecordTranscriptEvent records a received transcript event.
func (m *Metrics) RecordTranscriptEvent(ctx context.Context, partial bool) {
	m.TranscriptEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("partial", partial)),
	)
}
