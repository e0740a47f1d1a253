// Package beacon transmits the station's own position at a fixed interval.
package beacon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"kissgate/aprs"
	"kissgate/packet"
)

// Destination identifies the software in the AX.25 destination field
// (experimental APZ range).
const Destination = "APZKGW"

// iGate symbol: '&' on the alternate table with an 'L' overlay.
const (
	symbolTable = 'L'
	symbolCode  = '&'
)

// Originator takes packets generated by this station for APRS-IS.
type Originator interface {
	Originate(p *packet.Packet)
}

// Config holds the beacon settings.
type Config struct {
	Callsign   string
	GridSquare string
	Path       string // Comma separated, may be empty
	Message    string
	Interval   time.Duration
}

// Beacon is a task pushing a position packet to the radio and, when set,
// to APRS-IS every interval. The first beacon goes out on the first step.
type Beacon struct {
	conf   Config
	radio  *packet.Queue[*packet.Packet]
	uplink Originator
	log    *log.Logger

	body string
	now  func() time.Time
	next time.Time
}

// New creates a beacon. uplink may be nil.
func New(conf Config, radio *packet.Queue[*packet.Packet], uplink Originator, logger *log.Logger) *Beacon {
	return &Beacon{
		conf:   conf,
		radio:  radio,
		uplink: uplink,
		log:    logger,
		now:    time.Now,
	}
}

func (b *Beacon) Name() string { return "beacon" }

// Setup builds the position report from the gridsquare center.
func (b *Beacon) Setup(context.Context) error {
	lat, lon, err := aprs.GridSquareToLatLon(b.conf.GridSquare)
	if err != nil {
		return fmt.Errorf("beacon position: %w", err)
	}
	b.body = aprs.PositionReport(lat, lon, symbolTable, symbolCode, b.conf.Message)
	b.log.Info("Beaconing", "every", b.conf.Interval, "position", b.body)
	return nil
}

func (b *Beacon) Step(context.Context) error {
	now := b.now()
	if now.Before(b.next) {
		return nil
	}
	b.next = now.Add(b.conf.Interval)

	p := b.Packet()
	b.radio.Push(p)
	if b.uplink != nil {
		b.uplink.Originate(p)
	}
	b.log.Debug("Beacon", "packet", p)
	return nil
}

// Packet returns a fresh beacon packet.
func (b *Beacon) Packet() *packet.Packet {
	p := &packet.Packet{
		Source:      b.conf.Callsign,
		Destination: Destination,
		Body:        b.body,
	}
	for _, hop := range strings.Split(b.conf.Path, ",") {
		if hop = strings.TrimSpace(hop); hop != "" {
			p.Path = append(p.Path, hop)
		}
	}
	return p
}
