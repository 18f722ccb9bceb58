// Package transport relays capture output to the NPC server and routes the
// server's replies back to the presentation layer.
//
// The wire is a single WebSocket carrying named events with at most one
// payload each. By default they travel as Socket.IO v4 packets
// (42["<name>",<payload>]) so a Flask-SocketIO server can consume them; the
// json protocol sends {"event": "<name>", "data": <payload>} objects instead.
// Audio travels as a data URL string ("data:<mime>;base64,<payload>"), which
// a server can use whole or split at "base64,".
//
// Two pieces cooperate: the [Channel] owns the connection (dial, read, write,
// reconnect) and the [Adapter] turns capture segments into envelopes and
// inbound envelopes into reply callbacks and status lines.
package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Outbound event names.
const (
	EventStartRecording = "start_recording"
	EventAudioData      = "audio_data"
	EventStopRecording  = "stop_recording"
	EventCompleteAudio  = "complete_audio"
)

// Inbound event names.
const (
	EventNpcResponse         = "npc_response"
	EventTranscriptionResult = "transcription_result"
	EventError               = "error"
	EventConnectResponse     = "connect_response"
)

// ErrMalformedDataURL is returned by [DecodeDataURL] for input that is not a
// base64 data URL.
var ErrMalformedDataURL = errors.New("transport: malformed data URL")

// Envelope is one frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope for event. A nil data produces
// an envelope without a payload.
func NewEnvelope(event string, data any) (Envelope, error) {
	env := Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("transport: encode %s payload: %w", event, err)
	}
	env.Data = raw
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("transport: %s event has no payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("transport: decode %s payload: %w", e.Event, err)
	}
	return nil
}

// EncodeDataURL renders data as "data:<mime>;base64,<payload>".
func EncodeDataURL(mime string, data []byte) string {
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mime) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mime)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// DecodeDataURL is the inverse of [EncodeDataURL].
func DecodeDataURL(s string) (mime string, data []byte, err error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	mime, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
	}
	return mime, data, nil
}
