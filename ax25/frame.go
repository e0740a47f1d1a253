package ax25

import (
	"errors"
	"fmt"
	"strings"
)

// AX.25 UI frame constants
const (
	ControlUI      byte = 0x03
	PIDNoLayer3    byte = 0xF0
	MaxDigipeaters      = 8

	frameTypeMask byte = 0x03
	minBodyLen         = 2*AddressLen + 2 // Destination, source, control, PID
)

var (
	ErrNotUIFrame           = errors.New("not a UI frame")
	ErrUnexpectedProtocolID = errors.New("unexpected protocol ID")
	ErrTruncatedFrame       = errors.New("truncated AX.25 frame")
	ErrTooManyDigipeaters   = errors.New("too many digipeaters")
	ErrMalformedPacket      = errors.New("malformed packet")
)

// Path is the address path of a frame in transmission order.
type Path struct {
	Destination Address
	Source      Address
	Digipeaters []Address
}

// Fields returns every address of the path with the extension bit set on
// the final one only.
func (p Path) Fields() []Address {
	fields := make([]Address, 0, 2+len(p.Digipeaters))
	fields = append(fields, p.Destination, p.Source)
	fields = append(fields, p.Digipeaters...)
	for i := range fields {
		fields[i].Last = i == len(fields)-1
	}
	return fields
}

// Frame is an AX.25 frame without the FCS.
type Frame struct {
	Path    Path
	Control byte
	PID     byte
	Info    []byte
}

// ParseFrame decodes an unstuffed AX.25 body and accepts only UI frames
// carrying no layer 3 protocol.
func ParseFrame(body []byte) (Frame, error) {
	if len(body) < minBodyLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrTruncatedFrame, len(body))
	}

	var f Frame
	f.Path.Destination = DecodeAddress([AddressLen]byte(body[0:AddressLen]))
	f.Path.Source = DecodeAddress([AddressLen]byte(body[AddressLen : 2*AddressLen]))

	i := 2 * AddressLen
	more := f.Path.Source.HasMore()
	for more {
		if len(f.Path.Digipeaters) == MaxDigipeaters {
			return Frame{}, fmt.Errorf("%w: address path longer than %d digipeaters", ErrTooManyDigipeaters, MaxDigipeaters)
		}
		if len(body) < i+AddressLen+2 {
			return Frame{}, fmt.Errorf("%w: %d bytes after %d digipeaters", ErrTruncatedFrame, len(body), len(f.Path.Digipeaters))
		}
		digi := DecodeAddress([AddressLen]byte(body[i : i+AddressLen]))
		f.Path.Digipeaters = append(f.Path.Digipeaters, digi)
		more = digi.HasMore()
		i += AddressLen
	}

	f.Control = body[i]
	if f.Control&frameTypeMask != ControlUI {
		return Frame{}, fmt.Errorf("%w (0x%02X)", ErrNotUIFrame, f.Control)
	}

	f.PID = body[i+1]
	if f.PID != PIDNoLayer3 {
		return Frame{}, fmt.Errorf("%w 0x%02X", ErrUnexpectedProtocolID, f.PID)
	}

	f.Info = append([]byte(nil), body[i+2:]...)
	return f, nil
}

// ParseText builds a UI frame from "SOURCE>DEST[,DIGI[*]]*:PAYLOAD".
func ParseText(text string) (Frame, error) {
	src, rest, ok := strings.Cut(text, ">")
	if !ok {
		return Frame{}, fmt.Errorf("%w: no '>' in %q", ErrMalformedPacket, text)
	}
	route, info, ok := strings.Cut(rest, ":")
	if !ok {
		return Frame{}, fmt.Errorf("%w: no ':' in %q", ErrMalformedPacket, text)
	}

	calls := strings.Split(route, ",")
	if len(calls)-1 > MaxDigipeaters {
		return Frame{}, fmt.Errorf("%w: %d in %q", ErrTooManyDigipeaters, len(calls)-1, route)
	}

	f := Frame{
		Control: ControlUI,
		PID:     PIDNoLayer3,
		Info:    []byte(info),
	}

	var err error
	if f.Path.Source, err = ParseAddress(src); err != nil {
		return Frame{}, fmt.Errorf("source: %w", err)
	}
	if f.Path.Destination, err = ParseAddress(calls[0]); err != nil {
		return Frame{}, fmt.Errorf("destination: %w", err)
	}
	for _, call := range calls[1:] {
		digi, err := ParseAddress(call)
		if err != nil {
			return Frame{}, fmt.Errorf("digipeater: %w", err)
		}
		f.Path.Digipeaters = append(f.Path.Digipeaters, digi)
	}

	return f, nil
}

// MarshalBinary assembles the AX.25 body: address fields, control, PID, info.
func (f Frame) MarshalBinary() ([]byte, error) {
	if len(f.Path.Digipeaters) > MaxDigipeaters {
		return nil, fmt.Errorf("%w: %d", ErrTooManyDigipeaters, len(f.Path.Digipeaters))
	}

	fields := f.Path.Fields()
	body := make([]byte, 0, len(fields)*AddressLen+2+len(f.Info))
	for _, a := range fields {
		field, err := a.Encode()
		if err != nil {
			return nil, err
		}
		body = append(body, field[:]...)
	}
	body = append(body, f.Control, f.PID)
	body = append(body, f.Info...)
	return body, nil
}

// String renders the frame in monitor format. Every repeated digipeater
// gets a '*' suffix.
func (f Frame) String() string {
	var b strings.Builder
	b.WriteString(f.Path.Source.String())
	b.WriteByte('>')
	b.WriteString(f.Path.Destination.String())
	for _, digi := range f.Path.Digipeaters {
		b.WriteByte(',')
		b.WriteString(digi.String())
		if digi.Repeated {
			b.WriteByte('*')
		}
	}
	b.WriteByte(':')
	b.Write(f.Info)
	return b.String()
}
