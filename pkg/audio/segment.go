package audio

import "fmt"

// DeliveryMode selects how a recording is packaged for the wire. Exactly one
// mode is active per client; it is fixed at configuration time.
type DeliveryMode string

const (
	// DeliverySingle sends one segment holding the whole utterance after the
	// recording has been finalized.
	DeliverySingle DeliveryMode = "single"

	// DeliveryStreaming sends periodic segments while recording is still in
	// progress, bracketed by start/stop notifications.
	DeliveryStreaming DeliveryMode = "streaming"
)

// IsValid reports whether m is a recognised delivery mode.
func (m DeliveryMode) IsValid() bool {
	return m == DeliverySingle || m == DeliveryStreaming
}

// Segment is one encoded blob of captured audio. It is produced by the
// capture controller and never modified afterwards; ownership passes to the
// transport adapter when the segment is handed over.
type Segment struct {
	// SessionID identifies the recording session that produced the segment.
	SessionID string

	// Seq is the zero-based position of the segment within its session.
	// Wire order must match Seq order.
	Seq int

	// Data is the encoded audio (WebM/Opus, length-prefixed Opus, …).
	Data []byte

	// MimeType describes Data, e.g. "audio/webm;codecs=opus".
	MimeType string

	// Final marks the last segment of a session.
	Final bool
}

// Len returns the payload size in bytes.
func (s Segment) Len() int { return len(s.Data) }

// String implements fmt.Stringer for log output.
func (s Segment) String() string {
	return fmt.Sprintf("segment(%s#%d, %d bytes, final=%t)", s.SessionID, s.Seq, len(s.Data), s.Final)
}

// Concat joins chunks into a single payload in order. It always returns a
// fresh slice so callers may reuse the chunk buffers.
func Concat(chunks [][]byte) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
