// Package observe provides application-wide observability primitives for
// Guru: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Guru metrics.
const meterName = "github.com/MrWong99/guru"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Live bridge: capture path ---

	// FramesSent counts outbound audio frames accepted by the session.
	FramesSent metric.Int64Counter

	// FramesFailed counts outbound frames whose send returned an error.
	FramesFailed metric.Int64Counter

	// FramesDropped counts frames discarded because the send queue was full.
	FramesDropped metric.Int64Counter

	// --- Live bridge: playback path ---

	// ChunksScheduled counts inbound audio chunks queued for playback.
	ChunksScheduled metric.Int64Counter

	// DecodeFailures counts inbound audio chunks that could not be decoded.
	DecodeFailures metric.Int64Counter

	// Interruptions counts barge-in events that flushed playback.
	Interruptions metric.Int64Counter

	// Turns counts finished conversational turns. Use with attribute:
	//   attribute.Bool("addressed", ...)
	Turns metric.Int64Counter

	// SessionErrors counts sessions that ended with a user-visible error.
	// Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// ConnectDuration tracks how long the session handshake takes, from
	// dial until the server acknowledges setup.
	ConnectDuration metric.Float64Histogram

	// --- Panes ---

	// PaneDuration tracks one-shot pane latency. Use with attributes:
	//   attribute.String("pane", ...), attribute.String("status", ...)
	PaneDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Archive ---

	// ArchiveErrors counts transcript entries that failed to persist.
	ArchiveErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks the number of connected browser tabs.
	ActiveConnections metric.Int64UpDownCounter

	// InFlightChunks tracks audio chunks scheduled but not yet finished.
	InFlightChunks metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// websocket handshakes through long reasoning calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesSent, "guru.live.frames.sent", "Outbound audio frames sent to the session."},
		{&met.FramesFailed, "guru.live.frames.failed", "Outbound audio frames whose send failed."},
		{&met.FramesDropped, "guru.live.frames.dropped", "Outbound audio frames dropped on a full send queue."},
		{&met.ChunksScheduled, "guru.live.chunks.scheduled", "Inbound audio chunks scheduled for playback."},
		{&met.DecodeFailures, "guru.live.decode.failures", "Inbound audio chunks that failed to decode."},
		{&met.Interruptions, "guru.live.interruptions", "Playback flushes caused by user barge-in."},
		{&met.Turns, "guru.live.turns", "Finished conversational turns."},
		{&met.SessionErrors, "guru.live.session.errors", "Sessions ended with a user-visible error, by kind."},
		{&met.ProviderRequests, "guru.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ArchiveErrors, "guru.archive.errors", "Transcript entries that failed to persist."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	gauges := []struct {
		dst  *metric.Int64UpDownCounter
		name string
		desc string
	}{
		{&met.ActiveSessions, "guru.active_sessions", "Number of live voice sessions."},
		{&met.ActiveConnections, "guru.active_connections", "Number of connected browser tabs."},
		{&met.InFlightChunks, "guru.live.chunks.in_flight", "Audio chunks scheduled but not yet finished."},
	}
	for _, g := range gauges {
		if *g.dst, err = m.Int64UpDownCounter(g.name, metric.WithDescription(g.desc)); err != nil {
			return nil, err
		}
	}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("guru.live.connect.duration",
		metric.WithDescription("Latency of the session handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PaneDuration, err = m.Float64Histogram("guru.pane.duration",
		metric.WithDescription("Latency of one-shot pane requests by pane and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("guru.http.request.duration",
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

// Status maps an error to the "status" attribute value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordPane records the latency of one pane request.
func (m *Metrics) RecordPane(ctx context.Context, pane string, d time.Duration, err error) {
	m.PaneDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("pane", pane),
			attribute.String("status", Status(err)),
		),
	)
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, addressed bool) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.Bool("addressed", addressed)))
}

// RecordSessionError records a session that ended with a user-visible error.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
