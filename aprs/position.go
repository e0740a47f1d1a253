package aprs

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var errTooShort = errors.New("payload too short")

// normalPosRegex matches an uncompressed position after the data type and
// any timestamp. Groups: lat deg, lat min, N/S, symbol table, lon deg,
// lon min, E/W, symbol, comment.
var normalPosRegex = regexp.MustCompile(
	`^(\d{2})([0-9 ]{2}\.[0-9 ]{2})([NnSs])` +
		`([\/\\0-9A-Z])` +
		`(\d{3})([0-9 ]{2}\.[0-9 ]{2})([EeWw])` +
		`([\x21-\x7e])` +
		`(.*)$`,
)

// parseCoord converts degrees and minutes to decimal degrees. Ambiguity
// spaces in the minutes are replaced with '5' so the result lands in the
// middle of the ambiguous area.
func parseCoord(degStr, minStr string, negative bool) (float64, error) {
	minStr = strings.ReplaceAll(minStr, " ", "5")

	deg, err := strconv.ParseFloat(degStr, 64)
	if err != nil {
		return 0, err
	}
	min, err := strconv.ParseFloat(minStr, 64)
	if err != nil {
		return 0, err
	}
	if min >= 60 {
		return 0, fmt.Errorf("minutes out of range: %s", minStr)
	}

	dec := deg + min/60.0
	if negative {
		dec = -dec
	}
	return dec, nil
}

// parseNormal handles uncompressed position reports ('!', '=', '/', '@').
func parseNormal(payload string) (lat, lon float64, err error) {
	if len(payload) < 20 {
		return 0, 0, errTooShort
	}

	body := payload[1:]
	if payload[0] == '/' || payload[0] == '@' {
		// HHMMSSz, DDHHMMz or DDHHMMh
		if len(body) < 7 {
			return 0, 0, errTooShort
		}
		body = body[7:]
	}

	m := normalPosRegex.FindStringSubmatch(body)
	if m == nil {
		return 0, 0, errors.New("invalid uncompressed position format")
	}

	lat, err = parseCoord(m[1], m[2], strings.EqualFold(m[3], "S"))
	if err != nil {
		return 0, 0, fmt.Errorf("latitude: %w", err)
	}
	lon, err = parseCoord(m[5], m[6], strings.EqualFold(m[7], "W"))
	if err != nil {
		return 0, 0, fmt.Errorf("longitude: %w", err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("position out of range: %f,%f", lat, lon)
	}

	return lat, lon, nil
}

// parseObjectPosition handles object reports:
// ;OBJECTNAME*HHMMSSzDDMM.hhN/DDDMM.hhW$...
func parseObjectPosition(payload string) (lat, lon float64, err error) {
	if len(payload) < 18 {
		return 0, 0, errTooShort
	}

	// '*' live, '_' killed
	if payload[10] != '*' && payload[10] != '_' {
		return 0, 0, fmt.Errorf("invalid object marker: %c", payload[10])
	}

	// From the timestamp on it is a timestamped position report.
	return parseNormal("/" + payload[11:])
}

// FormatLatitude renders a latitude as DDMM.hhN or DDMM.hhS.
func FormatLatitude(lat float64) string {
	hemi := byte('N')
	if lat < 0 {
		hemi = 'S'
	}
	deg, hundredths := splitMinutes(lat)
	return fmt.Sprintf("%02d%02d.%02d%c", deg, hundredths/100, hundredths%100, hemi)
}

// FormatLongitude renders a longitude as DDDMM.hhE or DDDMM.hhW.
func FormatLongitude(lon float64) string {
	hemi := byte('E')
	if lon < 0 {
		hemi = 'W'
	}
	deg, hundredths := splitMinutes(lon)
	return fmt.Sprintf("%03d%02d.%02d%c", deg, hundredths/100, hundredths%100, hemi)
}

// splitMinutes rounds to hundredths of a minute first so 59.999' never
// prints as 60.00.
func splitMinutes(v float64) (deg, hundredths int) {
	total := int(math.Round(math.Abs(v) * 6000))
	return total / 6000, total % 6000
}

// PositionReport builds an uncompressed position without timestamp,
// messaging capable ('=').
func PositionReport(lat, lon float64, table, symbol byte, comment string) string {
	return "=" + FormatLatitude(lat) + string(table) + FormatLongitude(lon) + string(symbol) + comment
}
