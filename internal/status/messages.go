package status

// Status lines shown to the player, grouped by the component that emits them.
// The severity each one is reported with is fixed by [Classify].
const (
	// Capture controller.
	MessageReady            = "Ready to talk to the innkeeper"
	MessageAcquireFailed    = "Microphone access error: "
	MessageListening        = "Listening... (max %s)"
	MessageListeningNoLimit = "Listening..."
	MessageProcessing       = "Processing your voice message..."
	MessageAwaitingReply    = "The innkeeper is listening..."
	MessageRecorderFailed   = "Recording error: "
	MessageNothingCaptured  = "No audio was captured"

	// Transport adapter.
	MessageConnected      = "Connected to the tavern"
	MessageDisconnected   = "Disconnected from the tavern"
	MessageReconnecting   = "Reconnecting to the tavern..."
	MessageServerError    = "Error: "
	MessageReplied        = "The innkeeper replied"
	MessageTranscribed    = "Transcription received"
	MessageDeliveryFailed = "Could not deliver audio: "
)

// Event names a classified state transition.
type Event int

const (
	EventReady Event = iota
	EventAcquireFailed
	EventRecording
	EventProcessing
	EventAwaitingReply
	EventRecorderFailed
	EventNothingCaptured
	EventConnected
	EventDisconnected
	EventReconnecting
	EventServerError
	EventReplied
	EventTranscribed
	EventDeliveryFailed
)

var classification = map[Event]Severity{
	EventReady:           SeveritySuccess,
	EventAcquireFailed:   SeverityDanger,
	EventRecording:       SeverityWarning,
	EventProcessing:      SeverityInfo,
	EventAwaitingReply:   SeverityInfo,
	EventRecorderFailed:  SeverityDanger,
	EventNothingCaptured: SeverityWarning,
	EventConnected:       SeveritySuccess,
	EventDisconnected:    SeverityDanger,
	EventReconnecting:    SeverityWarning,
	EventServerError:     SeverityDanger,
	EventReplied:         SeveritySuccess,
	EventTranscribed:     SeveritySuccess,
	EventDeliveryFailed:  SeverityDanger,
}

// Classify returns the severity of a state transition. Unknown events are
// reported as info.
func Classify(e Event) Severity {
	if s, ok := classification[e]; ok {
		return s
	}
	return SeverityInfo
}

// Report sends message to sink with the severity Classify assigns to e.
// A nil sink is ignored.
func Report(sink Sink, e Event, message string) {
	if sink == nil {
		return
	}
	sink.Status(message, Classify(e))
}
