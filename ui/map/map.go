package mapview

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jonas-p/go-shp"

	"kissgate/aprs"
)

// Constants for Panning and Zooming
const (
	panFactor  = 0.1
	zoomFactor = 1.2
)

// Position is a station to plot.
type Position struct {
	Callsign string
	Lat, Lon float64
}

// Model holds the map's state
type Model struct {
	width  int
	height int

	polygons       []*shp.Polygon
	originalBounds shp.Box
	viewBounds     shp.Box

	home       Position
	homeExists bool

	stations []Position
}

// loadShapes reads the polygons of a shapefile and their bounding box.
func loadShapes(path string) ([]*shp.Polygon, shp.Box, error) {
	file, err := shp.Open(path)
	if err != nil {
		return nil, shp.Box{}, fmt.Errorf("failed to open shapefile: %w", err)
	}
	defer file.Close()

	var polygons []*shp.Polygon
	bounds := shp.Box{MinX: 1e9, MinY: 1e9, MaxX: -1e9, MaxY: -1e9}

	for file.Next() {
		_, shape := file.Shape()
		polygon, ok := shape.(*shp.Polygon)
		if !ok {
			continue
		}
		polygons = append(polygons, polygon)
		bounds.Extend(polygon.BBox())
	}

	if len(polygons) == 0 {
		return nil, shp.Box{}, errors.New("no polygons found in shapefile")
	}
	return polygons, bounds, nil
}

// New loads the shapefile at path. grid, when valid, marks the home
// station with 'H'.
func New(path, grid string) (Model, error) {
	polygons, bounds, err := loadShapes(path)
	if err != nil {
		return Model{}, err
	}

	m := Model{
		polygons:       polygons,
		originalBounds: bounds,
		viewBounds:     bounds,
		width:          80,
		height:         23,
	}

	if grid != "" {
		if lat, lon, err := aprs.GridSquareToLatLon(grid); err == nil {
			m.home = Position{Lat: lat, Lon: lon}
			m.homeExists = true
		}
	}

	return m, nil
}

func (m Model) Init() tea.Cmd { return nil }

// Plot adds a station or moves it to its new position.
func (m *Model) Plot(pos Position) {
	for i, s := range m.stations {
		if s.Callsign == pos.Callsign {
			m.stations[i] = pos
			return
		}
	}
	m.stations = append(m.stations, pos)
}

func (m *Model) zoomByFactor(factor float64) {
	centerX := (m.viewBounds.MinX + m.viewBounds.MaxX) / 2
	centerY := (m.viewBounds.MinY + m.viewBounds.MaxY) / 2
	width := (m.viewBounds.MaxX - m.viewBounds.MinX) * factor
	height := (m.viewBounds.MaxY - m.viewBounds.MinY) * factor
	if width > m.originalBounds.MaxX-m.originalBounds.MinX || height > m.originalBounds.MaxY-m.originalBounds.MinY {
		m.viewBounds = m.originalBounds
		return
	}
	m.viewBounds.MinX = centerX - width/2
	m.viewBounds.MaxX = centerX + width/2
	m.viewBounds.MinY = centerY - height/2
	m.viewBounds.MaxY = centerY + height/2
}

func (m *Model) pan(dx, dy float64) {
	panX := (m.viewBounds.MaxX - m.viewBounds.MinX) * dx
	panY := (m.viewBounds.MaxY - m.viewBounds.MinY) * dy
	m.viewBounds.MinX += panX
	m.viewBounds.MaxX += panX
	m.viewBounds.MinY += panY
	m.viewBounds.MaxY += panY
}

// ZoomLevel is 1 for the whole shapefile and grows when zooming in.
func (m Model) ZoomLevel() float64 {
	if m.viewBounds.MaxX == m.viewBounds.MinX {
		return 1.0
	}
	return (m.originalBounds.MaxX - m.originalBounds.MinX) / (m.viewBounds.MaxX - m.viewBounds.MinX)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case Position:
		m.Plot(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "k", "up":
			m.pan(0, panFactor)
		case "l", "down":
			m.pan(0, -panFactor)
		case "j", "left":
			m.pan(-panFactor, 0)
		case ";", "right":
			m.pan(panFactor, 0)
		case "K":
			m.zoomByFactor(1 / zoomFactor)
		case "L":
			m.zoomByFactor(zoomFactor)
		case "r":
			m.viewBounds = m.originalBounds
		}
	}
	return m, nil
}

// project converts lon/lat to cell coordinates, y growing downwards.
func (m Model) project(lon, lat float64, w, h int) (int, int) {
	spanX := max(m.viewBounds.MaxX-m.viewBounds.MinX, 1e-6)
	spanY := max(m.viewBounds.MaxY-m.viewBounds.MinY, 1e-6)
	x := (lon - m.viewBounds.MinX) / spanX
	y := (m.viewBounds.MaxY - lat) / spanY
	return int(x * float64(w)), int(y * float64(h))
}

func (m Model) render(w, h int) string {
	w, h = max(w, 1), max(h, 1)

	grid := make([][]rune, h)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", w))
	}
	inside := func(x, y int) bool { return x >= 0 && x < w && y >= 0 && y < h }

	for _, polygon := range m.polygons {
		box := polygon.BBox()
		if box.MaxX < m.viewBounds.MinX || box.MinX > m.viewBounds.MaxX ||
			box.MaxY < m.viewBounds.MinY || box.MinY > m.viewBounds.MaxY {
			continue
		}
		for _, p := range polygon.Points {
			if x, y := m.project(p.X, p.Y, w, h); inside(x, y) {
				grid[y][x] = '.'
			}
		}
	}

	if m.homeExists {
		if x, y := m.project(m.home.Lon, m.home.Lat, w, h); inside(x, y) {
			grid[y][x] = 'H'
		}
	}

	for _, s := range m.stations {
		x, y := m.project(s.Lon, s.Lat, w, h)
		if !inside(x, y) {
			continue
		}
		grid[y][x] = '*'

		// Label below the marker where there is room
		if y+1 < h {
			call := []rune(s.Callsign)
			start := x - len(call)/2
			for i, r := range call {
				if px := start + i; px >= 0 && px < w && grid[y+1][px] == ' ' {
					grid[y+1][px] = r
				}
			}
		}
	}

	rows := make([]string, h)
	for i, row := range grid {
		rows[i] = string(row)
	}
	return strings.Join(rows, "\n")
}

func (m Model) View() string {
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Width(m.width - 2).
		Height(m.height - 2)

	return style.Render(m.render(m.width-2, m.height-2))
}
