// Package tui provides Bubble Tea TUI components for the livefeed CLI.
//
// The TUI is opt-in (--tui) and read-only: it observes a session through
// the same metrics snapshot and record views the plain output uses, and
// never drives the session itself.
package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	accentColor    = lipgloss.Color("#0EA5E9")
	successColor   = lipgloss.Color("#22C55E")
	warningColor   = lipgloss.Color("#EAB308")
	errorColor     = lipgloss.Color("#DC2626")
	mutedColor     = lipgloss.Color("#94A3B8")
	highlightColor = lipgloss.Color("#6366F1")
	textColor      = lipgloss.Color("#F8FAFC")
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

var (
	TitleStyle = fg(accentColor).Bold(true).MarginBottom(1)
	// LabelStyle pads labels so values line up in a column.
	LabelStyle = fg(mutedColor).Width(16)
	ValueStyle = fg(textColor)
	HelpStyle  = fg(mutedColor).MarginTop(1)

	SuccessStyle = fg(successColor)
	WarningStyle = fg(warningColor)
	ErrorStyle   = fg(errorColor)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	// Stat boxes take their border and value color from the caller.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2).
			Width(20).
			Align(lipgloss.Center)
	StatLabelStyle = fg(mutedColor).Align(lipgloss.Center)
	StatValueStyle = lipgloss.NewStyle().Bold(true).Align(lipgloss.Center)
)

// stateTones maps session states and event types to a display style.
// Anything unlisted renders as a plain value.
var stateTones = map[string]lipgloss.Style{
	"streaming":      SuccessStyle,
	"ready":          SuccessStyle,
	"connected":      SuccessStyle,
	"reconnected":    SuccessStyle,
	"unstarted":      WarningStyle,
	"authenticating": WarningStyle,
	"reconnecting":   WarningStyle,
	"closed":         ErrorStyle,
	"failed":         ErrorStyle,
	"error":          ErrorStyle,
}

// StateStyle returns the style for a session state or event type.
func StateStyle(state string) lipgloss.Style {
	if s, ok := stateTones[state]; ok {
		return s
	}
	return ValueStyle
}

// DisableColor renders every style without color escapes, for --no-color.
// Layout such as borders and padding is kept.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}
