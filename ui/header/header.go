package header

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Model holds the header's state
type Model struct {
	width int
	title string
}

// New creates a header showing the application name and station callsign.
func New(callsign string) Model {
	title := "kissgate"
	if callsign != "" {
		title += " · " + callsign
	}
	return Model{
		width: 80,
		title: title,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	}
	return m, nil
}

func (m Model) View() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Background(lipgloss.Color("63")).
		Foreground(lipgloss.Color("255")).
		Width(m.width).
		Align(lipgloss.Center)

	return style.Render(m.title)
}
