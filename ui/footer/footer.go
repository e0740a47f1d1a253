package footer

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kissgate/device/aprsis"
	"kissgate/device/kiss"
	"kissgate/device/mqtt"
	"kissgate/device/tnc"
)

// Status is polled from the running tasks for display. Nil parts are
// components that are switched off.
type Status struct {
	Bridge *kiss.Stats
	Modem  *tnc.Stats
	Uplink *aprsis.Stats
	MQTT   *mqtt.Stats
}

// Model holds the footer's state
type Model struct {
	width  int
	status Status
	last   string
}

func New() Model {
	return Model{width: 80}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// SetLastPacket records the source of the most recent packet.
func (m *Model) SetLastPacket(callsign string) {
	m.last = callsign
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case Status:
		m.status = msg
	}
	return m, nil
}

func onOff(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

// Line renders the status text without styling.
func (m Model) Line() string {
	var parts []string

	if b := m.status.Bridge; b != nil {
		parts = append(parts, fmt.Sprintf("KISS %s rx:%d tx:%d drop:%d err:%d",
			b.State, b.Received, b.Sent, b.Dropped, b.DecodeErrors.Total()+b.EncodeErrors))
	}
	if t := m.status.Modem; t != nil {
		parts = append(parts, fmt.Sprintf("TNC %s rx:%d tx:%d", onOff(t.Connected), t.Received, t.Sent))
	}
	if u := m.status.Uplink; u != nil {
		state := onOff(u.Connected)
		if u.Connected && !u.Verified {
			state = "read-only"
		}
		parts = append(parts, fmt.Sprintf("APRS-IS %s gated:%d", state, u.Gated))
	}
	if q := m.status.MQTT; q != nil {
		parts = append(parts, fmt.Sprintf("MQTT %s pub:%d", onOff(q.Connected), q.Published))
	}
	if m.last != "" {
		parts = append(parts, "last "+m.last)
	}
	parts = append(parts, "q quit")

	return strings.Join(parts, " | ")
}

func (m Model) View() string {
	style := lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("252")).
		Width(m.width).
		MaxWidth(m.width)

	return style.Render(m.Line())
}
