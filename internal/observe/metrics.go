// Package observe provides the observability primitives for the tavern
// client: OpenTelemetry metrics, tracing helpers, and the HTTP middleware for
// the local telemetry endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
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
const meterName = "github.com/gpericol/BurberOste"

// Recording outcomes, used as the "outcome" attribute of
// [Metrics.RecordingsFinished].
const (
	OutcomeDelivered = "delivered"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use.
type Metrics struct {
	// RecordingsStarted counts recordings that entered the Recording state.
	RecordingsStarted metric.Int64Counter

	// RecordingsFinished counts recordings that returned to Idle. Use with
	// attributes:
	//   attribute.String("outcome", ...), attribute.Bool("auto_stop", ...)
	RecordingsFinished metric.Int64Counter

	// RecordingDuration tracks how long the microphone was held open.
	RecordingDuration metric.Float64Histogram

	// ActiveRecordings is 1 while a recording is in progress.
	ActiveRecordings metric.Int64UpDownCounter

	// SegmentBytes tracks the payload size of emitted segments.
	SegmentBytes metric.Int64Histogram

	// EventsSent counts outbound wire events. Use with attribute:
	//   attribute.String("event", ...)
	EventsSent metric.Int64Counter

	// DeliveryFailures counts outbound events that never reached the server.
	// Use with attribute:
	//   attribute.String("reason", ...)
	DeliveryFailures metric.Int64Counter

	// EventsReceived counts inbound wire events. Use with attribute:
	//   attribute.String("event", ...)
	EventsReceived metric.Int64Counter

	// ReplyLatency tracks the time from the final segment of a recording to
	// the next NPC reply.
	ReplyLatency metric.Float64Histogram

	// Reconnects counts reconnection attempts to the NPC server.
	Reconnects metric.Int64Counter

	// HTTPRequestDuration tracks telemetry endpoint latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// durationBuckets covers recordings from a quick tap up to well past the
// default eight second cap.
var durationBuckets = []float64{0.25, 0.5, 1, 2, 4, 6, 8, 10, 15, 30}

// latencyBuckets are tuned for the server's transcribe-and-reply round trip.
var latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16}

// byteBuckets are tuned for 32 kbit/s Opus payloads.
var byteBuckets = []float64{512, 1024, 4096, 8192, 16384, 32768, 65536, 131072}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RecordingsStarted, err = m.Int64Counter("burberoste.recordings.started",
		metric.WithDescription("Recordings that started capturing audio."),
	); err != nil {
		return nil, err
	}
	if met.RecordingsFinished, err = m.Int64Counter("burberoste.recordings.finished",
		metric.WithDescription("Recordings that returned to idle, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("burberoste.recording.duration",
		metric.WithDescription("Time the microphone was held open per recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("burberoste.recordings.active",
		metric.WithDescription("Recordings currently in progress."),
	); err != nil {
		return nil, err
	}
	if met.SegmentBytes, err = m.Int64Histogram("burberoste.segment.bytes",
		metric.WithDescription("Encoded payload size of emitted audio segments."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(byteBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EventsSent, err = m.Int64Counter("burberoste.transport.events.sent",
		metric.WithDescription("Outbound wire events by name."),
	); err != nil {
		return nil, err
	}
	if met.DeliveryFailures, err = m.Int64Counter("burberoste.transport.delivery_failures",
		metric.WithDescription("Outbound wire events that were not delivered, by reason."),
	); err != nil {
		return nil, err
	}
	if met.EventsReceived, err = m.Int64Counter("burberoste.transport.events.received",
		metric.WithDescription("Inbound wire events by name."),
	); err != nil {
		return nil, err
	}
	if met.ReplyLatency, err = m.Float64Histogram("burberoste.reply.latency",
		metric.WithDescription("Time from the final audio segment to the NPC reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("burberoste.transport.reconnects",
		metric.WithDescription("Reconnection attempts to the NPC server."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("burberoste.http.request.duration",
		metric.WithDescription("Telemetry endpoint latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStart marks a recording as started.
func (m *Metrics) RecordStart(ctx context.Context) {
	m.RecordingsStarted.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, 1)
}

// RecordFinish marks a recording as finished after d of capture.
func (m *Metrics) RecordFinish(ctx context.Context, outcome string, autoStop bool, d time.Duration) {
	m.ActiveRecordings.Add(ctx, -1)
	m.RecordingsFinished.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.Bool("auto_stop", autoStop),
		),
	)
	m.RecordingDuration.Record(ctx, d.Seconds())
}

// RecordSent counts one outbound event and, for audio events, its payload
// size.
func (m *Metrics) RecordSent(ctx context.Context, event string, payloadBytes int) {
	m.EventsSent.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	if payloadBytes > 0 {
		m.SegmentBytes.Record(ctx, int64(payloadBytes))
	}
}

// RecordDeliveryFailure counts one undelivered outbound event.
func (m *Metrics) RecordDeliveryFailure(ctx context.Context, reason string) {
	m.DeliveryFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordReceived counts one inbound event.
func (m *Metrics) RecordReceived(ctx context.Context, event string) {
	m.EventsReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
