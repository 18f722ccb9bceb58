// Package types defines the values exchanged between the transport adapter
// and the presentation layer.
//
// The adapter decodes inbound events into these types and forwards them
// verbatim; validation such as sympathy clamping is the presentation layer's
// job and is offered here as helpers so every renderer applies the same rule.
package types

// Sympathy bounds. The server scores NPC disposition on this closed range.
const (
	MinSympathy = 0
	MaxSympathy = 10
)

// NpcReply is the payload of an inbound npc_response event.
type NpcReply struct {
	// Text is what the NPC says.
	Text string `json:"text"`

	// NpcName is the speaker's display name.
	NpcName string `json:"npc_name"`

	// UserMessage echoes the transcribed player utterance, when the server
	// includes it.
	UserMessage *string `json:"user_message,omitempty"`

	// SympathyLevel is the NPC's disposition towards the player. The value is
	// passed through as received; renderers clamp it with [ClampSympathy].
	SympathyLevel *int `json:"sympathy_level,omitempty"`
}

// Sympathy returns the clamped sympathy level and whether the reply carried one.
func (r NpcReply) Sympathy() (int, bool) {
	if r.SympathyLevel == nil {
		return 0, false
	}
	return ClampSympathy(*r.SympathyLevel), true
}

// Echo returns the echoed player message, or "" when absent.
func (r NpcReply) Echo() string {
	if r.UserMessage == nil {
		return ""
	}
	return *r.UserMessage
}

// ClampSympathy limits v to [MinSympathy, MaxSympathy].
func ClampSympathy(v int) int {
	return min(max(v, MinSympathy), MaxSympathy)
}

// Transcription is the payload of the legacy transcription_result event,
// sent by servers that only transcribe.
type Transcription struct {
	Text string `json:"text"`
}

// ServerError is the payload of an inbound error event.
type ServerError struct {
	Message string `json:"message"`
}
