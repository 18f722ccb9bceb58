package observe

import (
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceHeader carries the trace ID of a telemetry request back to the caller.
const TraceHeader = "X-Trace-Id"

// Middleware instruments the telemetry listener. Every health check or
// scrape runs under a server span named after its route, answers with the
// span's trace ID in X-Trace-Id and adds one sample to
// [Metrics.HTTPRequestDuration]. Scrapers poll often, so the completion line
// is logged at debug.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.Method + " " + r.URL.Path
			ctx, span := StartSpan(r.Context(), "HTTP "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()
			if id := TraceID(ctx); id != "" {
				w.Header().Set(TraceHeader, id)
			}

			snoop := httpsnoop.CaptureMetrics(next, w, r.WithContext(ctx))

			m.HTTPRequestDuration.Record(ctx, snoop.Duration.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", r.URL.Path),
			))
			span.SetAttributes(semconv.HTTPResponseStatusCode(snoop.Code))

			Logger(ctx).LogAttrs(ctx, slog.LevelDebug, "telemetry request",
				slog.String("route", route),
				slog.Int("status", snoop.Code),
				slog.Int64("bytes", snoop.Written),
				slog.Duration("duration", snoop.Duration),
			)
		})
	}
}
