// Package ui renders the conversation with the innkeeper: a bubbletea
// terminal UI for interactive play, and a plain [Console] for headless runs.
//
// Core components never talk to the bubbletea program directly. They report
// through a [Bridge], which queues updates without blocking so that the
// capture controller can call it while holding its lock, even when the
// program is busy running the Update that triggered the call.
package ui

import (
	"context"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gpericol/BurberOste/internal/capture"
	"github.com/gpericol/BurberOste/internal/status"
	"github.com/gpericol/BurberOste/internal/transport"
	"github.com/gpericol/BurberOste/pkg/types"
)

const defaultBridgeQueue = 256

var (
	_ capture.Observer       = (*Bridge)(nil)
	_ transport.ReplyHandler = (*Bridge)(nil)
)

// Bridge forwards status, progress and replies to a bubbletea program.
type Bridge struct {
	msgs chan tea.Msg
}

// NewBridge returns a bridge buffering up to size messages. Zero selects a
// default.
func NewBridge(size int) *Bridge {
	if size <= 0 {
		size = defaultBridgeQueue
	}
	return &Bridge{msgs: make(chan tea.Msg, size)}
}

// Run delivers queued messages to send, typically [tea.Program.Send], until
// ctx is cancelled. It always returns nil.
func (b *Bridge) Run(ctx context.Context, send func(tea.Msg)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-b.msgs:
			send(msg)
		}
	}
}

func (b *Bridge) push(msg tea.Msg) {
	select {
	case b.msgs <- msg:
	default:
		// Progress is refreshed every tick, losing one is harmless.
		if _, ok := msg.(ProgressMsg); !ok {
			slog.Warn("ui: update queue full, dropping message", "msg", msg)
		}
	}
}

// Status implements [status.Sink].
func (b *Bridge) Status(message string, severity status.Severity) {
	b.push(StatusMsg{Message: message, Severity: severity})
}

// Progress implements [capture.Observer].
func (b *Bridge) Progress(percent float64) { b.push(ProgressMsg{Percent: percent}) }

// RecordingChanged implements [capture.Observer].
func (b *Bridge) RecordingChanged(active bool) { b.push(RecordingMsg{Active: active}) }

// Reply implements [transport.ReplyHandler].
func (b *Bridge) Reply(r types.NpcReply) { b.push(ReplyMsg{Reply: r}) }

// Transcription implements [transport.ReplyHandler].
func (b *Bridge) Transcription(text string) { b.push(TranscriptionMsg{Text: text}) }

// SetNPCName updates the fallback speaker name.
func (b *Bridge) SetNPCName(name string) { b.push(NPCNameMsg{Name: name}) }
