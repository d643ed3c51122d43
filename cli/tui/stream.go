package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/livefeed/cli/render"
	"github.com/justapithecus/livefeed/metrics"
)

const (
	// DefaultRecentRows is how many recent records the dashboard keeps.
	DefaultRecentRows = 12
	// DefaultPollInterval is how often the dashboard refreshes metrics.
	DefaultPollInterval = 500 * time.Millisecond
)

// RecordMsg delivers one record to the dashboard.
type RecordMsg render.RecordView

// StatusMsg carries the session's state and counters.
type StatusMsg struct {
	State     string
	SessionID string
	Metrics   metrics.Snapshot
}

// EventMsg reports a session lifecycle event.
type EventMsg struct {
	Type   string
	Detail string
	Time   time.Time
}

// DoneMsg reports that the stream ended. Err is nil on a clean close.
type DoneMsg struct {
	Err error
}

type tickMsg time.Time

// StreamModel is the live dashboard shown by `stream --tui`.
type StreamModel struct {
	dataset  string
	poll     func() StatusMsg
	interval time.Duration

	status   StatusMsg
	recent   []render.RecordView
	maxRows  int
	event    EventMsg
	done     bool
	doneErr  error
	paused   bool
	width    int
	height   int
	quitting bool
}

// NewStreamModel creates a dashboard for dataset. poll is called on every
// refresh tick and may be nil.
func NewStreamModel(dataset string, poll func() StatusMsg) StreamModel {
	return StreamModel{
		dataset:  dataset,
		poll:     poll,
		interval: DefaultPollInterval,
		maxRows:  DefaultRecentRows,
	}
}

// Init implements tea.Model.
func (m StreamModel) Init() tea.Cmd {
	return m.tick()
}

func (m StreamModel) tick() tea.Cmd {
	if m.poll == nil {
		return nil
	}
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m StreamModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, keys.Clear):
			m.recent = nil
		}
		return m, nil

	case tickMsg:
		if m.done {
			return m, nil
		}
		m.status = m.poll()
		return m, m.tick()

	case StatusMsg:
		m.status = msg
		return m, nil

	case RecordMsg:
		if m.paused {
			return m, nil
		}
		m.recent = append(m.recent, render.RecordView(msg))
		if len(m.recent) > m.maxRows {
			m.recent = m.recent[len(m.recent)-m.maxRows:]
		}
		return m, nil

	case EventMsg:
		m.event = msg
		return m, nil

	case DoneMsg:
		m.done = true
		m.doneErr = msg.Err
		if m.poll != nil {
			m.status = m.poll()
		}
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m StreamModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Live Feed: " + m.dataset))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")

	s := m.status.Metrics
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Records", s.RecordsReceived, highlightColor),
		renderStatBox("Heartbeats", s.Heartbeats, successColor),
		renderStatBox("Reconnects", s.ReconnectAttempts, warningColor),
		renderStatBox("Errors", s.GatewayErrors+s.DecodeErrors, errorColor),
	))
	b.WriteString("\n")

	if kinds := formatKinds(s.RecordsByKind); kinds != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("By kind:"), ValueStyle.Render(kinds)))
	}
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Bytes read:"), ValueStyle.Render(fmt.Sprintf("%d", s.BytesRead))))
	if m.event.Type != "" {
		line := m.event.Type
		if m.event.Detail != "" {
			line += ": " + m.event.Detail
		}
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Last event:"), StateStyle(m.event.Type).Render(line)))
	}

	b.WriteString("\n")
	b.WriteString(m.renderRecent())

	help := "q quit • p pause • c clear"
	if m.paused {
		help = "paused • " + help
	}
	return b.String() + "\n" + HelpStyle.Render(help)
}

func (m StreamModel) renderStatus() string {
	state := m.status.State
	if state == "" {
		state = "connecting"
	}
	line := fmt.Sprintf("%s %s", LabelStyle.Render("State:"), StateStyle(state).Render(state))
	if m.status.SessionID != "" {
		line += fmt.Sprintf("  %s %s", LabelStyle.Render("Session:"), ValueStyle.Render(m.status.SessionID))
	}
	if m.done {
		if m.doneErr != nil {
			line += "\n" + ErrorStyle.Render("stream ended: "+m.doneErr.Error())
		} else {
			line += "\n" + SuccessStyle.Render("stream ended")
		}
	}
	return line
}

func (m StreamModel) renderRecent() string {
	if len(m.recent) == 0 {
		return HelpStyle.Render("(no records yet)")
	}
	var b strings.Builder
	for i := len(m.recent) - 1; i >= 0; i-- {
		v := m.recent[i]
		name := v.Symbol
		if name == "" {
			name = fmt.Sprintf("#%d", v.InstrumentID)
		}
		price := ""
		if v.Price != nil {
			price = v.Price.String()
		}
		b.WriteString(fmt.Sprintf("%-18s %-14s %-10s %-4s %14s %8d %s\n",
			v.TsEvent.Format("15:04:05.000000"), v.RType, name, v.Side, price, v.Size, v.Detail))
	}
	return BoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

func formatKinds(byKind map[string]int64) string {
	if len(byKind) == 0 {
		return ""
	}
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, byKind[k]))
	}
	return strings.Join(parts, " ")
}
