// Package tnc talks KISS to the radio side: a hardware or software TNC
// reached over a serial port or TCP.
package tnc

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"kissgate/ax25"
	"kissgate/device/kiss"
	"kissgate/packet"
)

const (
	// RetryInterval is the wait between reconnect attempts after the link drops.
	RetryInterval = 5 * time.Second

	receiveBacklog = 64
	writeBacklog   = 16
)

// Stats is a snapshot of the modem counters.
type Stats struct {
	Connected    bool
	Received     uint64
	Sent         uint64
	Dropped      uint64
	DecodeErrors uint64
}

// link is one open connection with its helper goroutines.
type link struct {
	conn   io.ReadWriteCloser
	writes chan []byte
	lost   chan error
	stop   chan struct{}
}

type dialResult struct {
	conn io.ReadWriteCloser
	err  error
}

// Modem moves packets between the packet queues and a KISS TNC. Received
// frames go to the from-modem queue; packets on the to-modem queue are sent
// one per step.
type Modem struct {
	open     OpenFunc
	from, to *packet.Queue[*packet.Packet]
	log      *log.Logger
	retry    time.Duration

	link     *link
	received chan *packet.Packet
	dialed   chan dialResult
	dialing  bool
	nextDial time.Time

	sent, recv, dropped, decodeErrors atomic.Uint64
	connected                         atomic.Bool
}

// New creates a modem. A nil open function gives a modem with nothing
// attached that discards outgoing packets.
func New(open OpenFunc, from, to *packet.Queue[*packet.Packet], logger *log.Logger) *Modem {
	return &Modem{
		open:     open,
		from:     from,
		to:       to,
		log:      logger,
		retry:    RetryInterval,
		received: make(chan *packet.Packet, receiveBacklog),
		dialed:   make(chan dialResult, 1),
	}
}

func (m *Modem) Name() string { return "modem" }

// Setup opens the first connection. Failing here is fatal to the caller;
// later link losses are retried in the background.
func (m *Modem) Setup(context.Context) error {
	if m.open == nil {
		m.log.Info("No modem attached, outgoing packets are discarded")
		return nil
	}

	conn, err := m.open()
	if err != nil {
		return err
	}
	m.attach(conn)
	return nil
}

// Step hands received frames to the from-modem queue and sends at most one
// queued packet.
func (m *Modem) Step(context.Context) error {
	if m.open != nil {
		m.poll()
	}

	for drained := false; !drained; {
		select {
		case p := <-m.received:
			m.from.Push(p)
		default:
			drained = true
		}
	}

	p, ok := m.to.Pop()
	if !ok {
		return nil
	}

	if m.link == nil {
		m.dropped.Add(1)
		return nil
	}

	frame, err := kiss.Encode(p.String())
	if err != nil {
		m.dropped.Add(1)
		m.log.Warn("Cannot encode packet for the TNC", "packet", p, "err", err)
		return nil
	}

	select {
	case m.link.writes <- frame:
		m.sent.Add(1)
	default:
		m.dropped.Add(1)
		m.log.Debug("TNC write backlog full, packet dropped", "packet", p)
	}
	return nil
}

// poll watches the current link for failures and redials when it is down.
func (m *Modem) poll() {
	if m.link != nil {
		select {
		case err := <-m.link.lost:
			m.log.Warn("TNC link lost", "err", err)
			m.detach()
			m.nextDial = time.Now().Add(m.retry)
		default:
		}
		return
	}

	if m.dialing {
		select {
		case res := <-m.dialed:
			m.dialing = false
			if res.err != nil {
				m.log.Debug("TNC reconnect failed", "err", res.err)
				m.nextDial = time.Now().Add(m.retry)
				return
			}
			m.log.Info("TNC link restored")
			m.attach(res.conn)
		default:
		}
		return
	}

	if time.Now().Before(m.nextDial) {
		return
	}

	m.dialing = true
	go func() {
		conn, err := m.open()
		m.dialed <- dialResult{conn: conn, err: err}
	}()
}

func (m *Modem) attach(conn io.ReadWriteCloser) {
	l := &link{
		conn:   conn,
		writes: make(chan []byte, writeBacklog),
		lost:   make(chan error, 2),
		stop:   make(chan struct{}),
	}
	m.link = l
	m.connected.Store(true)

	go m.readLoop(l)
	go writeLoop(l)
}

func (m *Modem) detach() {
	if m.link == nil {
		return
	}
	close(m.link.stop)
	_ = m.link.conn.Close()
	m.link = nil
	m.connected.Store(false)
}

func (m *Modem) readLoop(l *link) {
	decoder := kiss.NewDecoder(l.conn)

	for {
		sf, err := decoder.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			signal(l, err)
			return
		}

		if !sf.IsData() {
			m.log.Debug("Ignoring KISS command frame", "port", sf.Port, "command", sf.Command)
			continue
		}

		frame, err := ax25.ParseFrame(sf.Body)
		if err != nil {
			m.decodeErrors.Add(1)
			m.log.Debug("Discarding frame from TNC", "err", err, "len", len(sf.Body))
			continue
		}

		m.recv.Add(1)
		select {
		case m.received <- packet.FromFrame(frame):
		case <-l.stop:
			return
		}
	}
}

func writeLoop(l *link) {
	for {
		select {
		case <-l.stop:
			return
		case b := <-l.writes:
			if _, err := l.conn.Write(b); err != nil {
				signal(l, err)
				return
			}
		}
	}
}

func signal(l *link, err error) {
	select {
	case l.lost <- err:
	default:
	}
}

// Close shuts the link down. A reconnect still in flight is closed
// when it completes.
func (m *Modem) Close() error {
	m.detach()
	if m.dialing {
		m.dialing = false
		go func() {
			if res := <-m.dialed; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
	}
	return nil
}

func (m *Modem) Stats() Stats {
	return Stats{
		Connected:    m.connected.Load(),
		Received:     m.recv.Load(),
		Sent:         m.sent.Load(),
		Dropped:      m.dropped.Load(),
		DecodeErrors: m.decodeErrors.Load(),
	}
}
