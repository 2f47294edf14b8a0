package observe

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordingProvider installs an in-memory exporting TracerProvider as the
// global provider for the duration of the test.
func recordingProvider(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureDefaultLog redirects the default slog logger into a buffer.
func captureDefaultLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	recordingProvider(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "live.session")
		id := CorrelationID(ctx)
		span.End()
		if b, err := hex.DecodeString(id); err != nil || len(b) != 16 {
			t.Fatalf("CorrelationID = %q, want 32 hex chars", id)
		}
		if seen[id] {
			t.Fatalf("duplicate correlation ID %s", id)
		}
		seen[id] = true
	}
}

func TestEndSpan_Status(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode codes.Code
		events   bool
	}{
		{name: "success", wantCode: codes.Ok},
		{name: "failure", err: errors.New("upstream unavailable"), wantCode: codes.Error, events: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := recordingProvider(t)
			_, span := StartSpan(context.Background(), "assistant.search")
			EndSpan(span, tt.err)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			got := spans[0]
			if got.Name != "assistant.search" {
				t.Errorf("name = %q", got.Name)
			}
			if got.Status.Code != tt.wantCode {
				t.Errorf("status = %v, want %v", got.Status.Code, tt.wantCode)
			}
			if tt.err != nil && got.Status.Description != tt.err.Error() {
				t.Errorf("description = %q, want %q", got.Status.Description, tt.err.Error())
			}
			if (len(got.Events) > 0) != tt.events {
				t.Errorf("events = %d, want recorded=%v", len(got.Events), tt.events)
			}
		})
	}
}

func TestLogger_TraceAttributes(t *testing.T) {
	recordingProvider(t)
	buf := captureDefaultLog(t)

	Logger(context.Background()).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span carries trace_id: %s", buf)
	}
	buf.Reset()

	ctx, span := StartSpan(context.Background(), "dictate")
	defer span.End()
	Logger(ctx).Info("with span")
	out := buf.String()
	for _, want := range []string{"trace_id=" + CorrelationID(ctx), "span_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
