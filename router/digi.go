package router

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"kissgate/ax25"
	"kissgate/packet"
)

// DefaultDupeWindow is how long an identical packet is not repeated again.
const DefaultDupeWindow = 30 * time.Second

var widePattern = regexp.MustCompile(`^WIDE([1-7])-([1-7])$`)

// Digipeater decides which heard packets to repeat and rewrites their path.
// It is only used from the router's step and needs no locking.
type Digipeater struct {
	call   string
	window time.Duration
	now    func() time.Time
	seen   map[string]time.Time
}

// NewDigipeater creates a WIDEn-N digipeater for the station callsign.
func NewDigipeater(call string, window time.Duration) *Digipeater {
	return &Digipeater{
		call:   strings.ToUpper(call),
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Relay returns the packet to transmit for p, or false when p must not be
// repeated: it is our own, we already repeated it, its path is used up,
// or the same packet went out within the dupe window.
//
// The first unused hop decides. A hop naming our callsign is marked used.
// WIDEn-N is decremented and our callsign inserted before it as used;
// when N reaches zero the hop itself becomes "WIDEn*".
func (d *Digipeater) Relay(p *packet.Packet) (*packet.Packet, bool) {
	if strings.EqualFold(p.Source, d.call) {
		return nil, false
	}

	hop := -1
	for i, h := range p.Path {
		if strings.EqualFold(strings.TrimSuffix(h, "*"), d.call) && strings.HasSuffix(h, "*") {
			return nil, false
		}
		if hop < 0 && !strings.HasSuffix(h, "*") {
			hop = i
		}
	}
	if hop < 0 {
		return nil, false
	}

	var replace []string
	switch m := widePattern.FindStringSubmatch(p.Path[hop]); {
	case strings.EqualFold(p.Path[hop], d.call):
		replace = []string{d.call + "*"}
	case m != nil:
		n, _ := strconv.Atoi(m[2])
		next := "WIDE" + m[1] + "-" + strconv.Itoa(n-1)
		if n == 1 {
			next = "WIDE" + m[1] + "*"
		}
		replace = []string{d.call + "*", next}
		if len(p.Path)+1 > ax25.MaxDigipeaters {
			// No room for our callsign
			replace = replace[1:]
		}
	default:
		return nil, false
	}

	if d.duplicate(p) {
		return nil, false
	}

	path := make([]string, 0, len(p.Path)+1)
	path = append(path, p.Path[:hop]...)
	path = append(path, replace...)
	path = append(path, p.Path[hop+1:]...)

	out := *p
	out.Path = path
	return &out, true
}

// duplicate records p and reports whether it was seen within the window.
func (d *Digipeater) duplicate(p *packet.Packet) bool {
	now := d.now()
	for key, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, key)
		}
	}

	key := p.Source + ">" + p.Destination + ":" + p.Body
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}
