// Package audio defines the audio values exchanged between the capture
// controller, the host recorders and the transport adapter.
//
// Two kinds of values flow through the client:
//
//   - [AudioFrame]: raw PCM produced by a frame source (e.g. a WAV replay)
//     before it reaches an encoder.
//   - [Segment]: an encoded, opaque blob handed from the capture controller to
//     the transport adapter. A segment is either a whole utterance or one
//     periodic slice of it, depending on the [DeliveryMode].
package audio

import "time"

// AudioFrame represents a single frame of PCM audio.
type AudioFrame struct {
	// PCM audio data, little-endian int16 interleaved samples.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Opus, 44100 for CD-quality WAV).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame's PCM payload.
// Returns 0 when the format is unknown.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
