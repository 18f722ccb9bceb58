package ui

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gpericol/BurberOste/internal/capture"
	"github.com/gpericol/BurberOste/internal/status"
	"github.com/gpericol/BurberOste/internal/transport"
	"github.com/gpericol/BurberOste/pkg/types"
)

var (
	_ capture.Observer       = (*Console)(nil)
	_ transport.ReplyHandler = (*Console)(nil)
)

// Console is the headless presenter. Status lines go to the structured
// logger; the conversation is printed to out as plain text.
type Console struct {
	log     status.LogSink
	replies chan types.NpcReply

	mu      sync.Mutex
	out     io.Writer
	npcName string
}

// NewConsole returns a console printing to out.
func NewConsole(out io.Writer, npcName string) *Console {
	return &Console{
		out:     out,
		npcName: npcName,
		replies: make(chan types.NpcReply, 8),
	}
}

// Replies delivers each NPC reply after it has been printed. Replies nobody
// waits for are dropped once the buffer is full.
func (c *Console) Replies() <-chan types.NpcReply { return c.replies }

// Status implements [status.Sink].
func (c *Console) Status(message string, severity status.Severity) {
	c.log.Status(message, severity)
}

// Progress implements [capture.Observer].
func (c *Console) Progress(float64) {}

// RecordingChanged implements [capture.Observer].
func (c *Console) RecordingChanged(active bool) {
	slog.Debug("ui: recording changed", "active", active)
}

// Reply implements [transport.ReplyHandler].
func (c *Console) Reply(r types.NpcReply) {
	c.mu.Lock()
	if echo := r.Echo(); echo != "" {
		fmt.Fprintf(c.out, "You: %s\n", echo)
	}
	speaker := r.NpcName
	if speaker == "" {
		speaker = c.npcName
	}
	fmt.Fprintf(c.out, "%s: %s\n", speaker, r.Text)
	if level, ok := r.Sympathy(); ok {
		fmt.Fprintf(c.out, "Sympathy: %d/%d\n", level, types.MaxSympathy)
	}
	c.mu.Unlock()

	select {
	case c.replies <- r:
	default:
	}
}

// Transcription implements [transport.ReplyHandler].
func (c *Console) Transcription(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "You: %s\n", text)
}

// SetNPCName updates the fallback speaker name.
func (c *Console) SetNPCName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.npcName = name
}
