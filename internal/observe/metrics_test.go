package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point carrying key=value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name string, kv attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(kv.Key); ok && v == kv.Value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, kv.Key, kv.Value.Emit())
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestLiveCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	counters := []struct {
		name string
		c    metric.Int64Counter
		n    int64
	}{
		{"guru.live.frames.sent", m.FramesSent, 3},
		{"guru.live.frames.failed", m.FramesFailed, 1},
		{"guru.live.frames.dropped", m.FramesDropped, 2},
		{"guru.live.chunks.scheduled", m.ChunksScheduled, 5},
		{"guru.live.decode.failures", m.DecodeFailures, 1},
		{"guru.live.interruptions", m.Interruptions, 4},
		{"guru.archive.errors", m.ArchiveErrors, 1},
	}
	for _, tc := range counters {
		tc.c.Add(ctx, tc.n)
	}

	rm := collect(t, reader)
	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != tc.n {
				t.Errorf("data points = %+v, want single value %d", sum.DataPoints, tc.n)
			}
		})
	}
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, true)
	m.RecordTurn(ctx, false)
	m.RecordTurn(ctx, false)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "guru.live.turns", attribute.Bool("addressed", true)); got != 1 {
		t.Errorf("addressed turns = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "guru.live.turns", attribute.Bool("addressed", false)); got != 2 {
		t.Errorf("unaddressed turns = %d, want 2", got)
	}
}

func TestRecordSessionError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSessionError(ctx, "permission")
	m.RecordSessionError(ctx, "transport")
	m.RecordSessionError(ctx, "transport")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "guru.live.session.errors", attribute.String("kind", "transport")); got != 2 {
		t.Errorf("transport errors = %d, want 2", got)
	}
}

func TestRecordProviderRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "llm", "ok")
	m.RecordProviderRequest(ctx, "gemini", "llm", "ok")
	m.RecordProviderRequest(ctx, "gemini", "llm", "error")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "guru.provider.requests", attribute.String("status", "ok")); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
}

func TestRecordPane(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPane(ctx, "search", 1200*time.Millisecond, nil)
	m.RecordPane(ctx, "reason", 30*time.Second, errors.New("boom"))

	rm := collect(t, reader)
	met := findMetric(rm, "guru.pane.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 2 {
		t.Fatalf("data points = %d, want 2", len(hist.DataPoints))
	}
	for _, dp := range hist.DataPoints {
		pane, _ := dp.Attributes.Value("pane")
		status, _ := dp.Attributes.Value("status")
		switch pane.AsString() {
		case "search":
			if status.AsString() != "ok" || dp.Sum < 1.19 || dp.Sum > 1.21 {
				t.Errorf("search point = status %q sum %v", status.AsString(), dp.Sum)
			}
		case "reason":
			if status.AsString() != "error" {
				t.Errorf("reason status = %q, want error", status.AsString())
			}
		default:
			t.Errorf("unexpected pane %q", pane.AsString())
		}
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.ActiveConnections.Add(ctx, 3)
	m.InFlightChunks.Add(ctx, 4)
	m.InFlightChunks.Add(ctx, -4)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"guru.active_sessions", 1},
		{"guru.active_connections", 3},
		{"guru.live.chunks.in_flight", 0},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestConnectDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.ConnectDuration.Record(context.Background(), 0.3)

	rm := collect(t, reader)
	met := findMetric(rm, "guru.live.connect.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Errorf("data points = %+v, want one sample", hist.DataPoints)
	}
}

func TestStatus(t *testing.T) {
	if Status(nil) != "ok" {
		t.Error("Status(nil) != ok")
	}
	if Status(errors.New("x")) != "error" {
		t.Error("Status(err) != error")
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
