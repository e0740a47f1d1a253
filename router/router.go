// Package router moves packets between the radio side, the KISS bridge
// and the APRS-IS uplink.
package router

import (
	"context"

	"github.com/charmbracelet/log"

	"kissgate/packet"
)

type Queue = packet.Queue[*packet.Packet]

// Direction tells an observer which way a packet travelled.
type Direction int

const (
	FromRadio Direction = iota // Heard by the TNC
	ToRadio                    // Sent by a KISS client for transmission
	Relayed                    // Repeated by the digipeater
)

func (d Direction) String() string {
	switch d {
	case ToRadio:
		return "tx"
	case Relayed:
		return "dg"
	default:
		return "rx"
	}
}

// Event is what observers receive for every routed packet.
type Event struct {
	Direction Direction
	Packet    *packet.Packet
}

// Queues groups the queues the router connects. The bridge pair is nil
// when the KISS server is off, Uplink when APRS-IS gating is off and MQTT
// when no broker is configured.
type Queues struct {
	FromModem      *Queue
	ToModem        *Queue
	BridgeOutbound *Queue
	BridgeInbound  *Queue
	Uplink         *Queue
	MQTT           *Queue
}

// Router is a task forwarding one packet per direction per step.
type Router struct {
	q        Queues
	digi     *Digipeater
	observer chan<- Event
	log      *log.Logger
}

// New creates a router. digi may be nil to turn digipeating off. observer
// may be nil; sends to it never block and events are dropped when it is
// full.
func New(q Queues, digi *Digipeater, observer chan<- Event, logger *log.Logger) *Router {
	return &Router{q: q, digi: digi, observer: observer, log: logger}
}

func (r *Router) Name() string { return "router" }

func (r *Router) Setup(context.Context) error {
	r.log.Debug("Routing", "uplink", r.q.Uplink != nil, "mqtt", r.q.MQTT != nil,
		"digi", r.digi != nil, "observer", r.observer != nil)
	return nil
}

func (r *Router) Step(context.Context) error {
	if p, ok := r.q.FromModem.Pop(); ok {
		if r.q.BridgeOutbound != nil {
			r.q.BridgeOutbound.Push(p)
		}
		if r.q.Uplink != nil {
			r.q.Uplink.Push(p)
		}
		if r.q.MQTT != nil {
			r.q.MQTT.Push(p)
		}
		r.log.Debug("Heard", "packet", p)
		r.publish(FromRadio, p)

		if r.digi != nil {
			if out, ok := r.digi.Relay(p); ok {
				r.q.ToModem.Push(out)
				r.log.Debug("Digipeat", "packet", out)
				r.publish(Relayed, out)
			}
		}
	}

	if r.q.BridgeInbound == nil {
		return nil
	}
	if p, ok := r.q.BridgeInbound.Pop(); ok {
		r.q.ToModem.Push(p)
		r.log.Debug("Transmit", "packet", p)
		r.publish(ToRadio, p)
	}

	return nil
}

func (r *Router) publish(dir Direction, p *packet.Packet) {
	if r.observer == nil {
		return
	}
	select {
	case r.observer <- Event{Direction: dir, Packet: p}:
	default:
	}
}
