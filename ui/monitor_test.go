package ui

import (
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kissgate/device/kiss"
	"kissgate/packet"
	"kissgate/router"
	"kissgate/ui/footer"
	mapview "kissgate/ui/map"
)

func event(t *testing.T, dir router.Direction, text string) router.Event {
	t.Helper()
	p, err := packet.Parse(text)
	require.NoError(t, err)
	return router.Event{Direction: dir, Packet: p}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Model)
	require.True(t, ok)
	return mm, cmd
}

func TestMonitor_Event(t *testing.T) {
	events := make(chan router.Event, 1)
	m := New("OE5BPA-10", nil, events, nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	m, cmd := update(t, m, event(t, router.FromRadio, "OE5BPA-1>APRS:>on the air"))
	require.NotNil(t, cmd, "keeps listening for events")

	assert.Equal(t, []string{"OE5BPA-1"}, m.sidebarModel.Stations())

	view := m.View()
	assert.Contains(t, view, "OE5BPA-10")
	assert.Contains(t, view, "rx OE5BPA-1>APRS:>on the air")
	assert.Contains(t, view, "last OE5BPA-1")
}

func TestMonitor_TransmitNotHeard(t *testing.T) {
	m := New("OE5BPA-10", nil, nil, nil)

	m, _ = update(t, m, event(t, router.ToRadio, "OE5BPA-10>APRS:>beacon"))

	assert.Empty(t, m.sidebarModel.Stations())
}

func TestMonitor_StatusTick(t *testing.T) {
	calls := 0
	status := func() footer.Status {
		calls++
		return footer.Status{Bridge: &kiss.Stats{State: kiss.Connected, Received: 2}}
	}
	m := New("OE5BPA-10", nil, nil, status)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 30})

	m, cmd := update(t, m, statusTickMsg{})

	assert.Equal(t, 1, calls)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "KISS connected rx:2")
}

func TestMonitor_FeedClosedQuits(t *testing.T) {
	events := make(chan router.Event)
	close(events)
	m := New("", nil, events, nil)

	msg := m.waitForEvent()()
	assert.IsType(t, feedClosedMsg{}, msg)

	_, cmd := update(t, m, msg)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestMonitor_QuitKey(t *testing.T) {
	m := New("", nil, nil, nil)
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestMonitor_PlotsPositions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "square.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	square := shp.Polygon(*shp.NewPolyLine([][]shp.Point{{
		{X: 10, Y: 40}, {X: 10, Y: 50}, {X: 20, Y: 50}, {X: 20, Y: 40}, {X: 10, Y: 40},
	}}))
	w.Write(&square)
	w.Close()

	pane, err := mapview.New(path, "")
	require.NoError(t, err)

	m := New("OE5BPA-10", &pane, nil, nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	m, _ = update(t, m, event(t, router.FromRadio, "OE5BPA-1>APRS:!4500.00N/01500.00E-"))

	assert.Contains(t, m.View(), "OE5BPA-1")
	assert.Contains(t, m.View(), "*")
}
