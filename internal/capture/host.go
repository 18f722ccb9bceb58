// Package capture implements the push-to-talk capture controller: it owns the
// microphone recorder, drives the Idle → Recording → Stopping → Idle state
// machine, enforces the maximum recording duration, reports progress, and
// hands finished audio segments to a [SegmentSink].
//
// The controller never touches audio hardware itself. A [Microphone] grants a
// [Recorder], and the recorder reports what happens through a small, closed
// set of tagged [Event] values. Every transition the controller makes in
// response is covered by the table in [Controller.handleEvent].
package capture

import (
	"context"
	"time"

	"github.com/gpericol/BurberOste/internal/status"
	"github.com/gpericol/BurberOste/pkg/audio"
)

// Constraints are the processing features requested when acquiring the
// microphone. Recorders apply what they support and ignore the rest.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints enables echo cancellation, noise suppression and
// automatic gain control.
func DefaultConstraints() Constraints {
	return Constraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true}
}

// EventKind tags a [Event] delivered by a [Recorder].
type EventKind int

const (
	// EventStarted reports that the recorder began capturing.
	EventStarted EventKind = iota

	// EventData carries one chunk of encoded audio.
	EventData

	// EventStopped reports that the recorder finished and flushed all data.
	// It follows the last EventData of a recording.
	EventStopped

	// EventError reports a capture failure.
	EventError
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "STARTED"
	case EventData:
		return "DATA"
	case EventStopped:
		return "STOPPED"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is a notification from a [Recorder].
type Event struct {
	Kind EventKind

	// Data is set for EventData. The recorder must not modify it afterwards.
	Data []byte

	// Err is set for EventError.
	Err error
}

// EventHandler consumes recorder events.
type EventHandler func(Event)

// Microphone grants exclusive access to a capture device.
type Microphone interface {
	// Acquire opens the device with the given constraints and returns a
	// recorder that reports to h. It blocks until access is granted or
	// denied, and must honour ctx cancellation. Failures should be returned
	// as *[AcquisitionError] where the reason is known.
	Acquire(ctx context.Context, c Constraints, h EventHandler) (Recorder, error)
}

// Recorder is the host recording facility bound to an acquired device.
//
// Start and Stop only issue requests: the resulting events are delivered
// asynchronously to the [EventHandler] given at acquisition and must never be
// delivered from inside Start or Stop.
type Recorder interface {
	// Start begins a recording. With a positive timeslice the recorder emits
	// EventData roughly every timeslice; with zero it emits data only when
	// stopping.
	Start(timeslice time.Duration) error

	// Stop asks the recorder to finish. It emits any remaining EventData
	// followed by EventStopped.
	Stop() error

	// MimeType describes the encoded chunks.
	MimeType() string

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// SegmentSink receives the controller's output. The transport adapter
// implements it.
type SegmentSink interface {
	// NotifyStart opens a streaming session bracket.
	NotifyStart(sessionID string)

	// SendSegment takes ownership of seg.
	SendSegment(seg audio.Segment)

	// NotifyStop closes a streaming session bracket.
	NotifyStop(sessionID string)
}

// Observer receives presentation updates.
type Observer interface {
	status.Sink

	// Progress reports the elapsed share of the maximum duration in [0, 100].
	Progress(percent float64)

	// RecordingChanged reports when capture starts or stops.
	RecordingChanged(active bool)
}

// StatusObserver adapts a plain [status.Sink] into an [Observer] that drops
// progress and recording updates.
func StatusObserver(s status.Sink) Observer {
	return statusObserver{Sink: s}
}

type statusObserver struct{ status.Sink }

func (statusObserver) Progress(float64)      {}
func (statusObserver) RecordingChanged(bool) {}
