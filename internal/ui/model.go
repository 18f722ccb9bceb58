package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gpericol/BurberOste/internal/status"
	"github.com/gpericol/BurberOste/pkg/types"
)

// Capture is the part of the capture controller the UI drives.
type Capture interface {
	Start() bool
	Stop() bool
	IsActive() bool
}

// Entry is one line of the conversation history.
type Entry struct {
	Speaker string
	Text    string
	Player  bool
	At      time.Time
}

// Model is the root bubbletea model.
type Model struct {
	capture Capture
	npcName string
	now     func() time.Time

	// Status line
	statusText     string
	statusSeverity status.Severity

	// Recording state
	recording bool
	progress  float64

	// Conversation
	history     []Entry
	sympathy    int
	hasSympathy bool

	// UI state
	width  int
	height int
	scroll int
	live   bool
}

// New creates a model driving c. npcName labels replies that carry no
// npc_name.
func New(c Capture, npcName string) Model {
	return Model{
		capture:    c,
		npcName:    npcName,
		now:        time.Now,
		statusText: "Waking the innkeeper...",
		live:       true,
	}
}

// Init implements [tea.Model].
func (m Model) Init() tea.Cmd { return nil }

// toggleCmd starts or stops a recording off the update loop, since starting
// a recorder may spawn a process.
func toggleCmd(c Capture) tea.Cmd {
	return func() tea.Msg {
		if c.IsActive() {
			c.Stop()
		} else {
			c.Start()
		}
		return nil
	}
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case StatusMsg:
		m.statusText = msg.Message
		m.statusSeverity = msg.Severity
		return m, nil

	case RecordingMsg:
		m.recording = msg.Active
		if msg.Active {
			m.progress = 0
		}
		return m, nil

	case ProgressMsg:
		m.progress = min(max(msg.Percent, 0), 100)
		return m, nil

	case ReplyMsg:
		r := msg.Reply
		if echo := r.Echo(); echo != "" {
			m.appendEntry(Entry{Speaker: "You", Text: echo, Player: true})
		}
		speaker := r.NpcName
		if speaker == "" {
			speaker = m.npcName
		}
		m.appendEntry(Entry{Speaker: speaker, Text: r.Text})
		if level, ok := r.Sympathy(); ok {
			m.sympathy = level
			m.hasSympathy = true
		}
		return m, nil

	case TranscriptionMsg:
		m.appendEntry(Entry{Speaker: "You", Text: msg.Text, Player: true})
		return m, nil

	case NPCNameMsg:
		m.npcName = msg.Name
		return m, nil
	}

	return m, nil
}

func (m *Model) appendEntry(e Entry) {
	e.At = m.now()
	m.history = append(m.history, e)
	if m.live {
		m.scroll = m.maxScroll()
	}
}

// handleKey processes key presses. Terminals report no key release, so the
// space bar toggles instead of push-to-talk.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		return m, tea.Quit

	case KeySpace:
		if m.capture == nil {
			return m, nil
		}
		return m, toggleCmd(m.capture)

	case KeyUp:
		m.live = false
		if m.scroll > 0 {
			m.scroll--
		}
		return m, nil

	case KeyDown:
		if maxScroll := m.maxScroll(); m.scroll < maxScroll {
			m.scroll++
		}
		if m.scroll >= m.maxScroll() {
			m.live = true
		}
		return m, nil
	}

	return m, nil
}

func (m Model) historyWidth() int {
	if m.width == 0 {
		return 80
	}
	return max(20, m.width-2)
}

func (m Model) visibleLines() int {
	if m.height == 0 {
		return 15
	}
	// Reserve: header(1) + recording(1) + dividers(2) + status(1) + footer(1)
	return max(3, m.height-6)
}

func (m Model) historyLines() []string {
	textWidth := max(10, m.historyWidth()-12)
	var lines []string
	for _, e := range m.history {
		ts := TimestampStyle.Render(e.At.Format("15:04"))
		label := NPCLabelStyle.Render(e.Speaker + ":")
		if e.Player {
			label = PlayerLabelStyle.Render(e.Speaker + ":")
		}
		wrapped := wrapText(e.Text, textWidth)
		lines = append(lines, ts+" "+label+" "+wrapped[0])
		for _, wl := range wrapped[1:] {
			lines = append(lines, "      "+wl)
		}
	}
	return lines
}

func (m Model) maxScroll() int {
	return max(0, len(m.historyLines())-m.visibleLines())
}

// View renders the full TUI.
func (m Model) View() string {
	width := m.historyWidth()
	divider := DividerStyle.Render(strings.Repeat("─", width))

	sections := []string{
		m.renderHeader(width),
		m.renderRecording(),
		divider,
		m.renderHistory(),
		divider,
		SeverityStyle(m.statusSeverity).Render(m.statusText),
		m.renderFooter(),
	}
	return strings.Join(sections, "\n")
}

func (m Model) renderHeader(width int) string {
	title := TitleStyle.Render("BURBERO OSTE") + DimStyle.Render(" · "+m.npcName)
	if !m.hasSympathy {
		return title
	}
	bar := "Sympathy " + SympathyBar(m.sympathy)
	gap := max(2, width-lipgloss.Width(title)-lipgloss.Width(bar))
	return title + strings.Repeat(" ", gap) + bar
}

func (m Model) renderRecording() string {
	if !m.recording {
		return IdleDotStyle.Render("○ IDLE")
	}
	return RecordingDotStyle.Render("● REC") + "  " + ProgressBar(m.progress, 24)
}

func (m Model) renderHistory() string {
	lines := m.historyLines()
	height := m.visibleLines()
	if len(lines) == 0 {
		lines = []string{"", DimStyle.Render("  Press Space and say something to the innkeeper")}
	}

	start := m.scroll
	if m.live {
		start = max(0, len(lines)-height)
	}
	end := min(len(lines), start+height)
	visible := append([]string(nil), lines[start:end]...)
	for len(visible) < height {
		visible = append(visible, "")
	}
	return strings.Join(visible, "\n")
}

func (m Model) renderFooter() string {
	action := " Talk"
	if m.recording {
		action = " Stop"
	}
	parts := []string{
		FooterKeyStyle.Render("Space") + FooterDescStyle.Render(action),
		FooterKeyStyle.Render("↑↓") + FooterDescStyle.Render(" Scroll"),
		FooterKeyStyle.Render("q") + FooterDescStyle.Render(" Quit"),
	}
	return strings.Join(parts, "  ")
}

// ProgressBar renders percent as a bar of width cells followed by the
// rounded percentage.
func ProgressBar(percent float64, width int) string {
	percent = min(max(percent, 0), 100)
	filled := int(math.Round(percent / 100 * float64(width)))
	return ProgressFillStyle.Render(strings.Repeat("█", filled)) +
		ProgressEmptyStyle.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %3.0f%%", percent)
}

// SympathyBar renders a sympathy level as one cell per point, clamped to the
// valid range.
func SympathyBar(level int) string {
	level = types.ClampSympathy(level)
	st := sympathyStyle(level)
	return st.Render(strings.Repeat("█", level)) +
		ProgressEmptyStyle.Render(strings.Repeat("░", types.MaxSympathy-level)) +
		fmt.Sprintf(" %d/%d", level, types.MaxSympathy)
}

// Helpers

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if len(current)+1+len(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
