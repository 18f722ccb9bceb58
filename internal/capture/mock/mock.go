// Package mock provides in-memory implementations of the capture interfaces
// ([capture.Microphone], [capture.Recorder], [capture.SegmentSink],
// [capture.Observer] and [capture.Clock]) for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on counts and arguments, and they expose exported fields that the
// test sets to control return values.
//
// Recorder events are never delivered on their own: the test plays the host
// and injects them with [Recorder.Emit] and its helpers.
//
// Typical usage:
//
//	rec := &mock.Recorder{Mime: "audio/webm;codecs=opus"}
//	mic := &mock.Microphone{Result: rec}
//	clk := mock.NewClock(time.Time{})
//	ctrl, _ := capture.New(capture.Config{Mode: audio.DeliverySingle, Microphone: mic, ...})
//	ctrl.Start()
//	rec.EmitData([]byte{1, 2, 3})
//	ctrl.Stop()
//	rec.EmitStopped()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/gpericol/BurberOste/internal/capture"
	"github.com/gpericol/BurberOste/internal/status"
	"github.com/gpericol/BurberOste/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [capture.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Result is returned by Acquire. A fresh Recorder is created if nil.
	Result *Recorder

	// AcquireError, when set, is returned by Acquire instead of Result.
	AcquireError error

	// Block, when non-nil, makes Acquire wait until it is closed or the
	// context is done.
	Block chan struct{}

	// AcquireCalls records the constraints of every Acquire call.
	AcquireCalls []capture.Constraints
}

// Acquire implements [capture.Microphone].
func (m *Microphone) Acquire(ctx context.Context, c capture.Constraints, h capture.EventHandler) (capture.Recorder, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, c)
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AcquireError != nil {
		return nil, m.AcquireError
	}
	if m.Result == nil {
		m.Result = &Recorder{}
	}
	m.Result.setHandler(h)
	return m.Result, nil
}

// CallCount returns how many times Acquire was called.
func (m *Microphone) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AcquireCalls)
}

// ─── Recorder ─────────────────────────────────────────────────────────────────

// DefaultMime is reported by a Recorder whose Mime field is empty.
const DefaultMime = "audio/webm;codecs=opus"

// Recorder is a mock implementation of [capture.Recorder].
type Recorder struct {
	mu      sync.Mutex
	handler capture.EventHandler

	// Mime is returned by MimeType. Defaults to DefaultMime.
	Mime string

	// StartError is returned by Start.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// StartCalls records the timeslice of every Start call.
	StartCalls []time.Duration

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

func (r *Recorder) setHandler(h capture.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// Start implements [capture.Recorder].
func (r *Recorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartCalls = append(r.StartCalls, timeslice)
	return r.StartError
}

// Stop implements [capture.Recorder].
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStop++
	return r.StopError
}

// MimeType implements [capture.Recorder].
func (r *Recorder) MimeType() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Mime == "" {
		return DefaultMime
	}
	return r.Mime
}

// Close implements [capture.Recorder].
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountClose++
	return nil
}

// Stops returns how many times Stop was called.
func (r *Recorder) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CallCountStop
}

// Starts returns how many times Start was called.
func (r *Recorder) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.StartCalls)
}

// Emit delivers ev to the handler registered at acquisition. It is a no-op
// before Acquire.
func (r *Recorder) Emit(ev capture.Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// EmitData delivers an EventData carrying b.
func (r *Recorder) EmitData(b []byte) {
	r.Emit(capture.Event{Kind: capture.EventData, Data: b})
}

// EmitStopped delivers an EventStopped.
func (r *Recorder) EmitStopped() {
	r.Emit(capture.Event{Kind: capture.EventStopped})
}

// EmitError delivers an EventError carrying err.
func (r *Recorder) EmitError(err error) {
	r.Emit(capture.Event{Kind: capture.EventError, Err: err})
}

// ─── SegmentSink ──────────────────────────────────────────────────────────────

// SinkCall is one recorded [capture.SegmentSink] call.
type SinkCall struct {
	// Method is "start", "segment" or "stop".
	Method    string
	SessionID string
	Segment   audio.Segment
}

// Sink is a mock implementation of [capture.SegmentSink] that records every
// call in order.
type Sink struct {
	mu    sync.Mutex
	calls []SinkCall
}

// NotifyStart implements [capture.SegmentSink].
func (s *Sink) NotifyStart(sessionID string) {
	s.record(SinkCall{Method: "start", SessionID: sessionID})
}

// SendSegment implements [capture.SegmentSink].
func (s *Sink) SendSegment(seg audio.Segment) {
	s.record(SinkCall{Method: "segment", SessionID: seg.SessionID, Segment: seg})
}

// NotifyStop implements [capture.SegmentSink].
func (s *Sink) NotifyStop(sessionID string) {
	s.record(SinkCall{Method: "stop", SessionID: sessionID})
}

func (s *Sink) record(c SinkCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

// Calls returns a copy of all recorded calls.
func (s *Sink) Calls() []SinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SinkCall(nil), s.calls...)
}

// Segments returns the recorded segments in order.
func (s *Sink) Segments() []audio.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audio.Segment
	for _, c := range s.calls {
		if c.Method == "segment" {
			out = append(out, c.Segment)
		}
	}
	return out
}

// ─── Observer ─────────────────────────────────────────────────────────────────

// StatusUpdate is one recorded status line.
type StatusUpdate struct {
	Message  string
	Severity status.Severity
}

// Observer is a mock implementation of [capture.Observer].
type Observer struct {
	mu        sync.Mutex
	statuses  []StatusUpdate
	progress  []float64
	recording []bool
}

// Status implements [status.Sink].
func (o *Observer) Status(message string, severity status.Severity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, StatusUpdate{Message: message, Severity: severity})
}

// Progress implements [capture.Observer].
func (o *Observer) Progress(percent float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, percent)
}

// RecordingChanged implements [capture.Observer].
func (o *Observer) RecordingChanged(active bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recording = append(o.recording, active)
}

// Statuses returns a copy of the recorded status lines.
func (o *Observer) Statuses() []StatusUpdate {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]StatusUpdate(nil), o.statuses...)
}

// ProgressReports returns a copy of the recorded progress values.
func (o *Observer) ProgressReports() []float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]float64(nil), o.progress...)
}

// RecordingChanges returns a copy of the recorded recording flags.
func (o *Observer) RecordingChanges() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bool(nil), o.recording...)
}

// CountSeverity returns how many status lines had severity sev.
func (o *Observer) CountSeverity(sev status.Severity) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, s := range o.statuses {
		if s.Severity == sev {
			n++
		}
	}
	return n
}
