package packet

import (
	"fmt"
	"strings"
	"time"

	"kissgate/ax25"
)

// Packet is a packet in monitor (TNC2) form, the unit every queue carries.
type Packet struct {
	Source      string
	Destination string
	Path        []string // Digipeaters, '*' suffix kept on used ones
	Body        string

	Received time.Time // Set when decoded from a frame; zero when parsed from text
}

// String renders "SOURCE>DEST[,DIGI[*]]*:BODY".
func (p *Packet) String() string {
	var b strings.Builder
	b.WriteString(p.Header())
	b.WriteByte(':')
	b.WriteString(p.Body)
	return b.String()
}

// Header renders everything before the ':' separator.
func (p *Packet) Header() string {
	var b strings.Builder
	b.WriteString(p.Source)
	b.WriteByte('>')
	b.WriteString(p.Destination)
	for _, digi := range p.Path {
		b.WriteByte(',')
		b.WriteString(digi)
	}
	return b.String()
}

// Parse splits a monitor format line. It is deliberately lenient about
// callsigns: APRS-IS carries names that do not fit an AX.25 address field.
func Parse(text string) (*Packet, error) {
	src, rest, ok := strings.Cut(text, ">")
	if !ok || src == "" {
		return nil, fmt.Errorf("no source callsign in %q", text)
	}
	route, body, ok := strings.Cut(rest, ":")
	if !ok {
		return nil, fmt.Errorf("no payload separator ':' in %q", text)
	}

	calls := strings.Split(route, ",")
	if calls[0] == "" {
		return nil, fmt.Errorf("no destination in %q", text)
	}

	p := &Packet{
		Source:      src,
		Destination: calls[0],
		Body:        body,
	}
	if len(calls) > 1 {
		p.Path = calls[1:]
	}
	return p, nil
}

// FromFrame converts a decoded AX.25 frame without going through text,
// so odd bytes in a callsign cannot shift the separators.
func FromFrame(f ax25.Frame) *Packet {
	p := &Packet{
		Source:      f.Path.Source.String(),
		Destination: f.Path.Destination.String(),
		Body:        string(f.Info),
		Received:    time.Now(),
	}
	for _, digi := range f.Path.Digipeaters {
		call := digi.String()
		if digi.Repeated {
			call += "*"
		}
		p.Path = append(p.Path, call)
	}
	return p
}
