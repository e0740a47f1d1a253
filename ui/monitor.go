// Package ui is the terminal status display.
package ui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kissgate/aprs"
	"kissgate/router"
	"kissgate/ui/footer"
	"kissgate/ui/header"
	mapview "kissgate/ui/map"
	"kissgate/ui/msgbar"
	"kissgate/ui/sidebar"
)

const (
	sidebarWidth = 20
	statusEvery  = time.Second
)

type statusTickMsg struct{}

// feedClosedMsg is sent when the router stops publishing.
type feedClosedMsg struct{}

// StatusFunc returns the current counters of the running tasks.
type StatusFunc func() footer.Status

// Model holds the application's display state
type Model struct {
	width  int
	height int

	headerModel  header.Model
	sidebarModel sidebar.Model
	mapModel     mapview.Model
	hasMap       bool
	msgbarModel  msgbar.Model
	footerModel  footer.Model

	events <-chan router.Event
	status StatusFunc
}

// New creates the monitor. mapPane may be nil to run without a map.
func New(callsign string, mapPane *mapview.Model, events <-chan router.Event, status StatusFunc) Model {
	m := Model{
		width:        80,
		height:       24,
		headerModel:  header.New(callsign),
		sidebarModel: sidebar.New(),
		msgbarModel:  msgbar.New(),
		footerModel:  footer.New(),
		events:       events,
		status:       status,
	}
	if mapPane != nil {
		m.mapModel = *mapPane
		m.hasMap = true
	}
	return m
}

// waitForEvent is a tea.Cmd that waits for the next routed packet
func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return feedClosedMsg{}
		}
		return ev
	}
}

func tickStatus() tea.Cmd {
	return tea.Tick(statusEvery, func(time.Time) tea.Msg { return statusTickMsg{} })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), tickStatus())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case router.Event:
		m = m.handleEvent(msg)
		cmds = append(cmds, m.waitForEvent())

	case feedClosedMsg:
		return m, tea.Quit

	case statusTickMsg:
		if m.status != nil {
			m.footerModel, _ = m.footerModel.Update(m.status())
		}
		cmds = append(cmds, tickStatus())

	case tea.WindowSizeMsg:
		m = m.layout(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		default:
			if m.hasMap {
				m.mapModel, _ = m.mapModel.Update(msg)
			}
		}
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleEvent(ev router.Event) Model {
	p := ev.Packet
	m.msgbarModel, _ = m.msgbarModel.Update(ev)

	if ev.Direction != router.FromRadio {
		return m
	}

	m.sidebarModel.AddStation(p.Source)
	m.footerModel.SetLastPacket(p.Source)

	if m.hasMap {
		if info := aprs.Classify(p.Source, p.Body); info.Type == aprs.TypePosition {
			m.mapModel.Plot(mapview.Position{Callsign: p.Source, Lat: info.Lat, Lon: info.Lon})
		}
	}
	return m
}

func (m Model) layout(width, height int) Model {
	m.width = width
	m.height = height

	headerHeight := 1
	footerHeight := 1
	mainHeight := max(height-headerHeight-msgbar.Height-footerHeight, 1)

	m.headerModel, _ = m.headerModel.Update(tea.WindowSizeMsg{Width: width, Height: headerHeight})

	sideWidth := width
	if m.hasMap {
		sideWidth = sidebarWidth
		m.mapModel, _ = m.mapModel.Update(tea.WindowSizeMsg{Width: width - sidebarWidth, Height: mainHeight})
	}
	m.sidebarModel, _ = m.sidebarModel.Update(tea.WindowSizeMsg{Width: sideWidth, Height: mainHeight})

	m.msgbarModel, _ = m.msgbarModel.Update(tea.WindowSizeMsg{Width: width, Height: msgbar.Height})
	m.footerModel, _ = m.footerModel.Update(tea.WindowSizeMsg{Width: width, Height: footerHeight})
	return m
}

func (m Model) View() string {
	middle := m.sidebarModel.View()
	if m.hasMap {
		middle = lipgloss.JoinHorizontal(lipgloss.Top, middle, m.mapModel.View())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.headerModel.View(),
		middle,
		m.msgbarModel.View(),
		m.footerModel.View(),
	)
}

// Run shows the monitor until the user quits or ctx is cancelled.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
