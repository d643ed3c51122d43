package tui

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

var supportedCommands = []string{"stream", "capture"}

// IsTUISupported returns true if the command supports --tui.
func IsTUISupported(command string) bool {
	return slices.Contains(supportedCommands, command)
}

// SupportedTUIViews returns the commands that support --tui.
func SupportedTUIViews() []string {
	return slices.Clone(supportedCommands)
}

// CheckSupported returns an error when command does not support --tui.
func CheckSupported(command string) error {
	if !IsTUISupported(command) {
		return fmt.Errorf("--tui is not supported for %s", command)
	}
	return nil
}

// keyMap defines key bindings.
type keyMap struct {
	Quit  key.Binding
	Pause key.Binding
	Clear key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Pause: key.NewBinding(
		key.WithKeys("p", " "),
		key.WithHelp("p", "pause"),
	),
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear"),
	),
}

// NewProgram wraps a model in a full-screen program.
func NewProgram(m tea.Model, opts ...tea.ProgramOption) *tea.Program {
	return tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
}
