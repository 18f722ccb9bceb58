package ui

import (
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gpericol/BurberOste/internal/status"
	"github.com/gpericol/BurberOste/pkg/types"
)

type fakeCapture struct {
	mu     sync.Mutex
	active bool
	starts int
	stops  int
}

func (f *fakeCapture) Start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return false
	}
	f.active = true
	f.starts++
	return true
}

func (f *fakeCapture) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return false
	}
	f.active = false
	f.stops++
	return true
}

func (f *fakeCapture) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func newTestModel(c Capture) Model {
	m := New(c, "Burbero Oste")
	m.now = func() time.Time { return time.Date(2026, 1, 1, 21, 30, 0, 0, time.UTC) }
	m.width = 80
	m.height = 24
	return m
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

func intPtr(v int) *int       { return &v }
func strPtr(s string) *string { return &s }

func TestNewModel(t *testing.T) {
	m := New(nil, "Burbero Oste")
	if m.recording {
		t.Error("new model should not be recording")
	}
	if !m.live {
		t.Error("new model should follow the conversation")
	}
	if m.hasSympathy {
		t.Error("new model should have no sympathy level yet")
	}
}

func TestSpaceTogglesRecording(t *testing.T) {
	c := &fakeCapture{}
	m := newTestModel(c)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	if cmd == nil {
		t.Fatal("space should return a toggle command")
	}
	cmd()
	if c.starts != 1 || !c.IsActive() {
		t.Fatalf("first space: starts = %d, active = %t", c.starts, c.IsActive())
	}

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	cmd()
	if c.stops != 1 || c.IsActive() {
		t.Fatalf("second space: stops = %d, active = %t", c.stops, c.IsActive())
	}
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := update(t, newTestModel(&fakeCapture{}), key)
		if cmd == nil {
			t.Fatalf("%s: expected a quit command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: command did not quit", key)
		}
	}
}

func TestStatusMsg(t *testing.T) {
	m, _ := update(t, newTestModel(nil), StatusMsg{Message: status.MessageReady, Severity: status.SeveritySuccess})
	if m.statusText != status.MessageReady || m.statusSeverity != status.SeveritySuccess {
		t.Errorf("status = (%q, %s)", m.statusText, m.statusSeverity)
	}
	if !strings.Contains(m.View(), status.MessageReady) {
		t.Error("view does not show the status line")
	}
}

func TestRecordingAndProgress(t *testing.T) {
	m := newTestModel(nil)
	m.progress = 80

	m, _ = update(t, m, RecordingMsg{Active: true})
	if !m.recording || m.progress != 0 {
		t.Fatalf("after start: recording = %t, progress = %v", m.recording, m.progress)
	}
	m, _ = update(t, m, ProgressMsg{Percent: 37.5})
	if m.progress != 37.5 {
		t.Errorf("progress = %v, want 37.5", m.progress)
	}
	m, _ = update(t, m, ProgressMsg{Percent: 140})
	if m.progress != 100 {
		t.Errorf("progress = %v, want clamp to 100", m.progress)
	}
	if !strings.Contains(m.View(), "● REC") {
		t.Error("view should show the recording indicator")
	}

	m, _ = update(t, m, RecordingMsg{Active: false})
	if m.recording {
		t.Error("still recording after stop")
	}
	if !strings.Contains(m.View(), "○ IDLE") {
		t.Error("view should show the idle indicator")
	}
}

func TestReplyMsg(t *testing.T) {
	m := newTestModel(nil)
	m, _ = update(t, m, ReplyMsg{Reply: types.NpcReply{
		Text:          "We're out of beer.",
		NpcName:       "Rogno",
		UserMessage:   strPtr("A beer please"),
		SympathyLevel: intPtr(12),
	}})

	if len(m.history) != 2 {
		t.Fatalf("history has %d entries, want 2", len(m.history))
	}
	if !m.history[0].Player || m.history[0].Text != "A beer please" {
		t.Errorf("player entry = %+v", m.history[0])
	}
	if m.history[1].Speaker != "Rogno" || m.history[1].Text != "We're out of beer." {
		t.Errorf("npc entry = %+v", m.history[1])
	}
	if !m.hasSympathy || m.sympathy != types.MaxSympathy {
		t.Errorf("sympathy = %d (set %t), want clamped 10", m.sympathy, m.hasSympathy)
	}
	view := m.View()
	for _, want := range []string{"Rogno:", "We're out of beer.", "10/10"} {
		if !strings.Contains(view, want) {
			t.Errorf("view is missing %q", want)
		}
	}
}

func TestReplyMsg_FallbackNameAndNoSympathy(t *testing.T) {
	m := newTestModel(nil)
	m, _ = update(t, m, NPCNameMsg{Name: "Oste Gustavo"})
	m, _ = update(t, m, ReplyMsg{Reply: types.NpcReply{Text: "What?"}})

	if len(m.history) != 1 || m.history[0].Speaker != "Oste Gustavo" {
		t.Fatalf("history = %+v", m.history)
	}
	if m.hasSympathy {
		t.Error("a reply without sympathy_level must not set the bar")
	}
	if strings.Contains(m.View(), "Sympathy") {
		t.Error("view should hide the sympathy bar until a level arrives")
	}
}

func TestSympathyKeepsLastLevel(t *testing.T) {
	m := newTestModel(nil)
	m, _ = update(t, m, ReplyMsg{Reply: types.NpcReply{Text: "Hm.", SympathyLevel: intPtr(-2)}})
	if m.sympathy != 0 {
		t.Errorf("sympathy = %d, want clamp to 0", m.sympathy)
	}
	m, _ = update(t, m, ReplyMsg{Reply: types.NpcReply{Text: "Fine."}})
	if !m.hasSympathy || m.sympathy != 0 {
		t.Errorf("sympathy = %d (set %t), want previous level kept", m.sympathy, m.hasSympathy)
	}
}

func TestTranscriptionMsg(t *testing.T) {
	m, _ := update(t, newTestModel(nil), TranscriptionMsg{Text: "hello innkeeper"})
	if len(m.history) != 1 || !m.history[0].Player || m.history[0].Text != "hello innkeeper" {
		t.Errorf("history = %+v", m.history)
	}
}

func TestScrolling(t *testing.T) {
	m := newTestModel(nil)
	m.height = 9 // three visible history lines
	for i := range 5 {
		m, _ = update(t, m, TranscriptionMsg{Text: strings.Repeat("x", i+1)})
	}
	if m.scroll != 2 || !m.live {
		t.Fatalf("scroll = %d, live = %t, want 2 and live", m.scroll, m.live)
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if m.scroll != 1 || m.live {
		t.Fatalf("after up: scroll = %d, live = %t", m.scroll, m.live)
	}
	m, _ = update(t, m, TranscriptionMsg{Text: "new"})
	if m.scroll != 1 {
		t.Errorf("scroll moved to %d while reading back", m.scroll)
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if m.live {
		t.Error("live again before reaching the bottom")
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if !m.live || m.scroll != 3 {
		t.Errorf("after down: scroll = %d, live = %t, want 3 and live", m.scroll, m.live)
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		percent float64
		filled  int
		label   string
	}{
		{0, 0, "  0%"},
		{50, 5, " 50%"},
		{100, 10, "100%"},
		{-5, 0, "  0%"},
		{250, 10, "100%"},
	}
	for _, tt := range tests {
		got := ProgressBar(tt.percent, 10)
		if n := strings.Count(got, "█"); n != tt.filled {
			t.Errorf("ProgressBar(%v): %d filled cells, want %d", tt.percent, n, tt.filled)
		}
		if !strings.HasSuffix(got, tt.label) {
			t.Errorf("ProgressBar(%v) = %q, want suffix %q", tt.percent, got, tt.label)
		}
		if w := lipgloss.Width(got); w != 10+len(tt.label)+1 {
			t.Errorf("ProgressBar(%v) width = %d", tt.percent, w)
		}
	}
}

func TestSympathyBar(t *testing.T) {
	for _, tt := range []struct {
		level, filled int
	}{{-1, 0}, {7, 7}, {15, 10}} {
		got := SympathyBar(tt.level)
		if n := strings.Count(got, "█"); n != tt.filled {
			t.Errorf("SympathyBar(%d): %d filled cells, want %d", tt.level, n, tt.filled)
		}
		if n := strings.Count(got, "█") + strings.Count(got, "░"); n != types.MaxSympathy {
			t.Errorf("SympathyBar(%d): %d cells, want %d", tt.level, n, types.MaxSympathy)
		}
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("one two three four", 9)
	want := []string{"one two", "three", "four"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("wrapText = %q, want %q", got, want)
	}
	if got := wrapText("", 10); len(got) != 1 || got[0] != "" {
		t.Errorf("wrapText(\"\") = %q", got)
	}
}
