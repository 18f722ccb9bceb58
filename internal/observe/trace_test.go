package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracer makes an in-memory tracer provider the global one for the
// rest of the test.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
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

// jsonLogs points slog.Default at a JSON buffer and returns a function that
// decodes the records written so far.
func jsonLogs(t *testing.T) func() []map[string]any {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	return func() []map[string]any {
		var out []map[string]any
		dec := json.NewDecoder(bytes.NewReader(buf.Bytes()))
		for dec.More() {
			var rec map[string]any
			if err := dec.Decode(&rec); err != nil {
				t.Fatalf("decode log: %v", err)
			}
			out = append(out, rec)
		}
		return out
	}
}

func TestStartSpan_TagsContextAndLogs(t *testing.T) {
	exp := installTracer(t)
	logs := jsonLogs(t)

	if TraceID(context.Background()) != "" {
		t.Error("TraceID outside a span should be empty")
	}
	Logger(context.Background()).Info("before")

	ctx, span := StartSpan(context.Background(), "transport.send_segment")
	id := TraceID(ctx)
	if len(id) != 32 {
		t.Errorf("TraceID = %q, want 32 hex chars", id)
	}
	Logger(ctx).Info("inside")
	span.End()

	if spans := exp.GetSpans(); len(spans) != 1 || spans[0].Name != "transport.send_segment" {
		t.Fatalf("exported spans = %v", spans)
	}

	recs := logs()
	if len(recs) != 2 {
		t.Fatalf("got %d log records, want 2", len(recs))
	}
	if _, ok := recs[0]["trace_id"]; ok {
		t.Errorf("record without a span carries trace_id: %v", recs[0])
	}
	if recs[1]["trace_id"] != id || recs[1]["span_id"] == nil {
		t.Errorf("record inside the span = %v, want trace_id %s and a span_id", recs[1], id)
	}
}
