package sidebar

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Model holds the sidebar's state
type Model struct {
	width    int
	height   int
	stations []string // Most recently heard first
}

// New creates a new sidebar model
func New() Model {
	return Model{
		width:  20,
		height: 24,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// AddStation moves callsign to the top of the list, adding it if it was
// not heard before.
func (m *Model) AddStation(callsign string) {
	for i, call := range m.stations {
		if call == callsign {
			m.stations = append(m.stations[:i], m.stations[i+1:]...)
			break
		}
	}
	m.stations = append([]string{callsign}, m.stations...)
	m.trim()
}

// Stations returns the heard list, most recent first.
func (m Model) Stations() []string {
	return m.stations
}

// trim keeps what fits inside the borders below the title line.
func (m *Model) trim() {
	maxStations := max(m.height-3, 1)
	if len(m.stations) > maxStations {
		m.stations = m.stations[:maxStations]
	}
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.trim()
	}
	return m, nil
}

func (m Model) View() string {
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Width(m.width - 2).
		Height(m.height - 2).
		Padding(0, 1)

	title := lipgloss.NewStyle().
		Bold(true).
		Underline(true).
		Width(m.width - 2 - 2).
		Render("Heard")

	var b strings.Builder
	b.WriteString(title)

	// Inner height minus the title
	contentHeight := max(m.height-2-1, 0)
	if contentHeight > 0 && len(m.stations) > 0 {
		lines := make([]string, 0, contentHeight)
		for i, call := range m.stations {
			if i >= contentHeight {
				break
			}
			lines = append(lines, fmt.Sprintf("%.*s", max(m.width-2-2, 0), call))
		}
		b.WriteRune('\n')
		b.WriteString(strings.Join(lines, "\n"))
	}

	return style.Render(b.String())
}
