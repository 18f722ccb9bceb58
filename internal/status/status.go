// Package status defines the contract between the client's core components
// and the status line shown to the player.
//
// Every state transition of the capture controller and the transport adapter
// is classified into exactly one [Severity]. The messages themselves live here
// so that the classification stays consistent across components.
package status

import (
	"context"
	"log/slog"
)

// Severity classifies a status message for presentation.
type Severity int

const (
	// SeverityInfo marks neutral progress (processing, waiting for a reply).
	SeverityInfo Severity = iota

	// SeveritySuccess marks a completed step (ready, connected, reply received).
	SeveritySuccess

	// SeverityWarning marks an attention state (recording in progress, reconnecting).
	SeverityWarning

	// SeverityDanger marks a failure the player must know about.
	SeverityDanger
)

// String returns the severity class name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityDanger:
		return "danger"
	default:
		return "unknown"
	}
}

// Level maps the severity onto a log level.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityDanger:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Sink receives status updates. Implementations must not block.
type Sink interface {
	Status(message string, severity Severity)
}

// SinkFunc adapts a plain function to the [Sink] interface.
type SinkFunc func(message string, severity Severity)

// Status implements [Sink].
func (f SinkFunc) Status(message string, severity Severity) { f(message, severity) }

// Discard is a [Sink] that drops every update.
var Discard Sink = SinkFunc(func(string, Severity) {})

// LogSink writes status updates to a structured logger. It is used when no
// interactive UI is attached.
type LogSink struct {
	Logger *slog.Logger
}

// Status implements [Sink].
func (s LogSink) Status(message string, severity Severity) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Log(context.Background(), severity.Level(), message, "severity", severity.String())
}
