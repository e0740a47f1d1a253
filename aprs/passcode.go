package aprs

import (
	"fmt"
	"strings"
)

// CalculatePasscode generates the APRS-IS passcode for a callsign. The
// SSID does not take part.
func CalculatePasscode(callsign string) (int, error) {
	call, _, _ := strings.Cut(strings.ToUpper(callsign), "-")

	if len(call) > 6 || len(call) < 1 {
		return 0, fmt.Errorf("invalid callsign format for passcode: %s", callsign)
	}

	hash := 0x73e2
	for i, char := range []byte(call) {
		// Even positions go into the high byte
		if i%2 == 0 {
			hash ^= int(char) << 8
		} else {
			hash ^= int(char)
		}
	}

	return hash & 0x7fff, nil
}
