package aprs

import (
	"fmt"
	"strings"
)

// GridSquareToLatLon converts a 4 or 6 character Maidenhead locator
// ("JN78", "EN91kl") to the latitude and longitude of its center.
func GridSquareToLatLon(grid string) (lat, lon float64, err error) {
	grid = strings.ToUpper(grid)
	if len(grid) != 4 && len(grid) != 6 {
		return 0, 0, fmt.Errorf("gridsquare must have 4 or 6 characters: %q", grid)
	}

	if !inRange(grid[0], 'A', 'R') || !inRange(grid[1], 'A', 'R') ||
		!inRange(grid[2], '0', '9') || !inRange(grid[3], '0', '9') {
		return 0, 0, fmt.Errorf("invalid gridsquare: %q", grid)
	}

	// Field: 20° x 10°, square: 2° x 1°
	lon = float64(grid[0]-'A')*20.0 - 180.0 + float64(grid[2]-'0')*2.0
	lat = float64(grid[1]-'A')*10.0 - 90.0 + float64(grid[3]-'0')

	if len(grid) == 4 {
		return lat + 0.5, lon + 1.0, nil
	}

	if !inRange(grid[4], 'A', 'X') || !inRange(grid[5], 'A', 'X') {
		return 0, 0, fmt.Errorf("invalid gridsquare subsquare: %q", grid)
	}

	// Subsquare: 5' x 2.5', then its center
	lon += float64(grid[4]-'A')*(2.0/24.0) + 1.0/24.0
	lat += float64(grid[5]-'A')*(1.0/24.0) + 0.5/24.0

	return lat, lon, nil
}

func inRange(c, lo, hi byte) bool {
	return c >= lo && c <= hi
}
