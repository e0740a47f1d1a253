// Package aprs classifies APRS payloads for display. It only looks at the
// information field; routing never depends on it.
package aprs

import (
	"strings"
)

// Type is the kind of APRS payload.
type Type int

const (
	TypeOther Type = iota
	TypePosition
	TypeMessage
)

func (t Type) String() string {
	switch t {
	case TypePosition:
		return "position"
	case TypeMessage:
		return "message"
	default:
		return "other"
	}
}

// Info is what Classify extracts from a payload.
type Info struct {
	Type Type

	// Position reports and objects
	Lat, Lon float64

	// Messages
	MsgTo   string
	MsgBody string
	MsgID   string
}

var telemetryKeywords = []string{
	"PARM",
	"UNIT",
	"EQNS",
	"BITS",
}

// isTelemetry reports whether a message is likely an automated telemetry
// or weather-service bulletin rather than something a person wrote.
func isTelemetry(from, to, body string) bool {
	if from == to {
		return true
	}

	for _, kw := range telemetryKeywords {
		if strings.HasPrefix(body, kw) {
			return true
		}
	}

	return strings.Contains(from, "NWS")
}

// Classify inspects the information field of a packet sent by from.
// Anything that does not parse cleanly is TypeOther.
func Classify(from, body string) Info {
	if body == "" {
		return Info{}
	}

	switch body[0] {
	case '!', '=', '/', '@':
		if lat, lon, err := parseNormal(body); err == nil {
			return Info{Type: TypePosition, Lat: lat, Lon: lon}
		}
		return Info{}

	case ';':
		if lat, lon, err := parseObjectPosition(body); err == nil {
			return Info{Type: TypePosition, Lat: lat, Lon: lon}
		}

	case ':':
		to, text, id, err := parseMessage(body)
		if err != nil || isTelemetry(from, to, text) {
			return Info{}
		}
		return Info{Type: TypeMessage, MsgTo: to, MsgBody: text, MsgID: id}
	}

	// Some trackers put free text before the position; accept a '!' within
	// the first 40 characters.
	if idx := strings.IndexByte(body, '!'); idx > 0 && idx < 40 {
		if lat, lon, err := parseNormal(body[idx:]); err == nil {
			return Info{Type: TypePosition, Lat: lat, Lon: lon}
		}
	}

	return Info{}
}
