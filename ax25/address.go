// Package ax25 encodes and decodes AX.25 address fields and UI frames.
package ax25

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Address field layout constants
const (
	AddressLen  = 7    // Bytes per encoded address field
	CallsignLen = 6    // Callsign characters per field
	MaxSSID     = 15   // Largest SSID that fits in bits 4-1
	paddedSpace = 0x40 // ' ' << 1, pads short callsigns

	repeatedBit  byte = 0x80
	reservedBits byte = 0x60 // Bits 6-5, always set
	extensionBit byte = 0x01
)

var (
	ErrInvalidCallsign = errors.New("invalid callsign")
	ErrInvalidSSID     = errors.New("invalid SSID")
)

// Address is one decoded AX.25 address field.
type Address struct {
	Call     string // Base callsign, no SSID
	SSID     uint8
	Repeated bool // H bit on digipeaters, C bit on destination/source
	Last     bool // Extension bit: no further address field follows
}

// String renders "CALL" or "CALL-SSID" when the SSID is not zero.
func (a Address) String() string {
	if a.SSID == 0 {
		return a.Call
	}
	return a.Call + "-" + strconv.Itoa(int(a.SSID))
}

// HasMore reports whether another address field follows this one.
func (a Address) HasMore() bool {
	return !a.Last
}

// DecodeAddress decodes a 7-byte AX.25 address field.
// No character validation is done: garbage bytes give a garbage callsign,
// never a panic.
func DecodeAddress(field [AddressLen]byte) Address {
	var call strings.Builder
	for _, b := range field[:CallsignLen] {
		if b == paddedSpace {
			continue
		}
		call.WriteByte(b >> 1)
	}

	ssidByte := field[CallsignLen]
	return Address{
		Call:     call.String(),
		SSID:     (ssidByte >> 1) & 0x0F,
		Repeated: ssidByte&repeatedBit != 0,
		Last:     ssidByte&extensionBit != 0,
	}
}

// ParseAddress splits "CALL", "CALL-SSID" or "CALL-SSID*" into an Address.
// A trailing '*' marks the address as repeated.
func ParseAddress(call string) (Address, error) {
	var a Address

	if strings.HasSuffix(call, "*") {
		a.Repeated = true
		call = strings.TrimSuffix(call, "*")
	}

	base, ssid, hasSSID := strings.Cut(call, "-")
	if len(base) == 0 || len(base) > CallsignLen {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidCallsign, call)
	}
	a.Call = base

	if hasSSID {
		n, err := strconv.Atoi(ssid)
		if err != nil || n < 0 || n > MaxSSID {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidSSID, call)
		}
		a.SSID = uint8(n)
	}

	return a, nil
}

// Encode packs the address into its 7-byte wire form.
// The Last flag from the receiver sets the extension bit.
func (a Address) Encode() ([AddressLen]byte, error) {
	var field [AddressLen]byte

	if len(a.Call) == 0 || len(a.Call) > CallsignLen {
		return field, fmt.Errorf("%w: %q", ErrInvalidCallsign, a.Call)
	}
	if a.SSID > MaxSSID {
		return field, fmt.Errorf("%w: %d", ErrInvalidSSID, a.SSID)
	}

	for i := 0; i < CallsignLen; i++ {
		if i < len(a.Call) {
			field[i] = a.Call[i] << 1
		} else {
			field[i] = paddedSpace
		}
	}

	last := reservedBits | a.SSID<<1
	if a.Repeated {
		last |= repeatedBit
	}
	if a.Last {
		last |= extensionBit
	}
	field[CallsignLen] = last

	return field, nil
}

// EncodeAddress encodes a textual callsign ("CALL", "CALL-SSID", optionally
// followed by '*') into a 7-byte address field.
func EncodeAddress(call string, last bool) ([AddressLen]byte, error) {
	a, err := ParseAddress(call)
	if err != nil {
		return [AddressLen]byte{}, err
	}
	a.Last = last
	return a.Encode()
}
