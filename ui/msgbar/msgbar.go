package msgbar

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kissgate/aprs"
	"kissgate/router"
)

// Height is the total height of the component, borders included.
const Height = 7

// Model holds the recent traffic bar's state
type Model struct {
	width int
	lines []string // Newest first
}

// New creates a new message bar model
func New() Model {
	return Model{width: 80}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// Format renders a routed packet as one line. APRS messages are shown
// as "SRC>TO: text", everything else in monitor format.
func Format(ev router.Event) string {
	p := ev.Packet
	info := aprs.Classify(p.Source, p.Body)
	if info.Type == aprs.TypeMessage {
		return fmt.Sprintf("%s %s>%s: %s", ev.Direction, p.Source, info.MsgTo, info.MsgBody)
	}
	return fmt.Sprintf("%s %s", ev.Direction, p)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case router.Event:
		m.lines = append([]string{Format(msg)}, m.lines...)
		if len(m.lines) > Height-2 {
			m.lines = m.lines[:Height-2]
		}
	}
	return m, nil
}

func (m Model) View() string {
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Width(m.width - 2).
		Height(Height - 2).
		Padding(0, 1)

	contentWidth := max(m.width-2-2, 0)

	// Oldest at the top so lines scroll upwards
	rows := make([]string, Height-2)
	for i := range rows {
		if i >= len(m.lines) {
			break
		}
		line := m.lines[len(m.lines)-1-i]
		if len(line) > contentWidth {
			line = line[:contentWidth]
		}
		rows[i] = line
	}

	return style.Render(strings.Join(rows, "\n"))
}
