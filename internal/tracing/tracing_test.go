package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return exporter
}

func TestInitTracing_NoEndpoint(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("InitTracing() unexpected error: %v", err)
	}
	if shutdown == nil {
		t.Fatal("InitTracing() returned nil shutdown")
	}
	shutdown()
}

func TestStripScheme(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://tempo:4318", "tempo:4318"},
		{"https://otel.example:443", "otel.example:443"},
		{"collector:4318", "collector:4318"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := stripScheme(tt.in); got != tt.want {
				t.Errorf("stripScheme(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSampler(t *testing.T) {
	if got := sampler(0).Description(); got != trace.AlwaysSample().Description() {
		t.Errorf("sampler(0) = %s, want AlwaysOnSampler", got)
	}
	if got := sampler(0.5).Description(); got == trace.AlwaysSample().Description() {
		t.Errorf("sampler(0.5) = %s, want ratio based", got)
	}
}

func TestStartSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "dispatch", attribute.String("event_type", "article_created"))
	AddSpanEvent(ctx, "queue.published")
	SetSpanError(ctx, errors.New("nsq down"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "dispatch" {
		t.Errorf("span name = %q", got.Name)
	}
	if got.Status.Code != codes.Error {
		t.Errorf("span status = %v, want Error", got.Status.Code)
	}
	if len(got.Events) < 2 {
		t.Errorf("span events = %d, want the custom event and the error event", len(got.Events))
	}
}

func TestGetTraceID(t *testing.T) {
	setupTestTracer(t)

	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID(background) = %q, want empty", id)
	}
	ctx, span := StartSpan(context.Background(), "x")
	defer span.End()
	if id := GetTraceID(ctx); len(id) != 32 {
		t.Errorf("GetTraceID() = %q, want 32 hex chars", id)
	}
}

func TestHeadersRoundTrip(t *testing.T) {
	setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "producer")
	defer span.End()

	headers := InjectHeaders(ctx)
	if headers["traceparent"] == "" {
		t.Fatalf("InjectHeaders() = %v, want traceparent", headers)
	}

	restored := ExtractHeaders(context.Background(), headers)
	if GetTraceID(restored) != GetTraceID(ctx) {
		t.Errorf("trace id after round trip = %q, want %q", GetTraceID(restored), GetTraceID(ctx))
	}
}

func TestExtractHeaders_Empty(t *testing.T) {
	ctx := context.Background()
	if got := ExtractHeaders(ctx, nil); got != ctx {
		t.Error("ExtractHeaders(nil) should return the input context")
	}
}
