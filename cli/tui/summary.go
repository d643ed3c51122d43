package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Summary is a titled set of fields shown after a session ends.
type Summary struct {
	Title string
	// State, when set, is rendered with its state color.
	State string
	Rows  [][2]string
}

// RenderSummaryStatic renders s as a bordered box without starting a program.
func RenderSummaryStatic(s Summary) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(s.Title))
	b.WriteString("\n")

	if s.State != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("State:"), StateStyle(s.State).Render(s.State)))
	}
	for _, row := range s.Rows {
		if row[1] == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1])))
	}

	return lipgloss.NewStyle().Padding(1, 2).Render(BoxStyle.Render(strings.TrimRight(b.String(), "\n")))
}
