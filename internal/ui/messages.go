package ui

import (
	"github.com/gpericol/BurberOste/internal/status"
	"github.com/gpericol/BurberOste/pkg/types"
)

// StatusMsg replaces the status line.
type StatusMsg struct {
	Message  string
	Severity status.Severity
}

// ProgressMsg updates the recording progress bar, in percent.
type ProgressMsg struct {
	Percent float64
}

// RecordingMsg reports when capture starts or stops.
type RecordingMsg struct {
	Active bool
}

// ReplyMsg carries an NPC reply as received from the server.
type ReplyMsg struct {
	Reply types.NpcReply
}

// TranscriptionMsg carries a transcription of the player's utterance.
type TranscriptionMsg struct {
	Text string
}

// NPCNameMsg changes the fallback NPC name after a config reload.
type NPCNameMsg struct {
	Name string
}
