package observe

import (
	"context"
	"math"
	"testing"
	"time"

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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

// sumByAttr returns the value of the data point whose attribute key equals
// value, or -1 when absent.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.Emit() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordingLifecycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStart(ctx)
	m.RecordFinish(ctx, OutcomeDelivered, true, 8*time.Second)
	m.RecordStart(ctx)
	m.RecordFinish(ctx, OutcomeEmpty, false, 300*time.Millisecond)
	m.RecordStart(ctx)

	rm := collect(t, reader)

	started := findMetric(rm, "burberoste.recordings.started")
	if started == nil {
		t.Fatal("recordings.started not found")
	}
	if got := started.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 3 {
		t.Errorf("recordings.started = %d, want 3", got)
	}

	active := findMetric(rm, "burberoste.recordings.active")
	if active == nil {
		t.Fatal("recordings.active not found")
	}
	if got := active.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("recordings.active = %d, want 1", got)
	}

	if got := sumByAttr(t, rm, "burberoste.recordings.finished", "outcome", OutcomeDelivered); got != 1 {
		t.Errorf("finished{outcome=delivered} = %d, want 1", got)
	}
	if got := sumByAttr(t, rm, "burberoste.recordings.finished", "outcome", OutcomeEmpty); got != 1 {
		t.Errorf("finished{outcome=empty} = %d, want 1", got)
	}

	dur := findMetric(rm, "burberoste.recording.duration")
	if dur == nil {
		t.Fatal("recording.duration not found")
	}
	hist := dur.Data.(metricdata.Histogram[float64])
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("recording.duration count = %d, want 2", got)
	}
	if got := hist.DataPoints[0].Sum; math.Abs(got-8.3) > 1e-9 {
		t.Errorf("recording.duration sum = %v, want 8.3", got)
	}
}

func TestRecordSent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSent(ctx, "start_recording", 0)
	m.RecordSent(ctx, "audio_data", 4096)
	m.RecordSent(ctx, "audio_data", 2048)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "burberoste.transport.events.sent", "event", "audio_data"); got != 2 {
		t.Errorf("sent{audio_data} = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "burberoste.transport.events.sent", "event", "start_recording"); got != 1 {
		t.Errorf("sent{start_recording} = %d, want 1", got)
	}

	met := findMetric(rm, "burberoste.segment.bytes")
	if met == nil {
		t.Fatal("segment.bytes not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatal("segment.bytes is not an int64 histogram")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("segment.bytes count = %d, want 2 (control events carry no payload)", got)
	}
	if got := hist.DataPoints[0].Sum; got != 6144 {
		t.Errorf("segment.bytes sum = %d, want 6144", got)
	}
}

func TestRecordReceivedAndFailures(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordReceived(ctx, "npc_response")
	m.RecordReceived(ctx, "npc_response")
	m.RecordDeliveryFailure(ctx, "queue_full")
	m.Reconnects.Add(ctx, 1)
	m.ReplyLatency.Record(ctx, 1.5)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "burberoste.transport.events.received", "event", "npc_response"); got != 2 {
		t.Errorf("received{npc_response} = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "burberoste.transport.delivery_failures", "reason", "queue_full"); got != 1 {
		t.Errorf("delivery_failures{queue_full} = %d, want 1", got)
	}
	if findMetric(rm, "burberoste.transport.reconnects") == nil {
		t.Error("transport.reconnects not found")
	}
	if findMetric(rm, "burberoste.reply.latency") == nil {
		t.Error("reply.latency not found")
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
