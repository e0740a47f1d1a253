package kiss

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"kissgate/ax25"
	"kissgate/packet"
)

// State of the bridge connection
type State int32

const (
	Listening State = iota // No client attached
	Connected              // A client is attached
)

func (s State) String() string {
	switch s {
	case Listening:
		return "listening"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// DecodeErrors counts discarded client chunks by failure kind.
type DecodeErrors struct {
	Delimiters uint64 // ErrInvalidDelimiters
	NotUI      uint64 // ax25.ErrNotUIFrame
	ProtocolID uint64 // ax25.ErrUnexpectedProtocolID
	Malformed  uint64 // Truncated frames, too many digipeaters
}

// Total is the number of discarded chunks.
func (d DecodeErrors) Total() uint64 {
	return d.Delimiters + d.NotUI + d.ProtocolID + d.Malformed
}

// Stats is a snapshot of the bridge counters.
type Stats struct {
	State        State
	Clients      uint64 // Connections accepted
	Sent         uint64 // Frames fully written to the client
	Received     uint64 // Frames decoded from the client
	Dropped      uint64 // Outbound packets discarded with no client attached
	DecodeErrors DecodeErrors
	EncodeErrors uint64
}

type counters struct {
	state        atomic.Int32
	clients      atomic.Uint64
	sent         atomic.Uint64
	received     atomic.Uint64
	dropped      atomic.Uint64
	delimiters   atomic.Uint64
	notUI        atomic.Uint64
	protocolID   atomic.Uint64
	malformed    atomic.Uint64
	encodeErrors atomic.Uint64
}

func (c *counters) decodeError(err error) {
	switch {
	case errors.Is(err, ErrInvalidDelimiters):
		c.delimiters.Add(1)
	case errors.Is(err, ax25.ErrNotUIFrame):
		c.notUI.Add(1)
	case errors.Is(err, ax25.ErrUnexpectedProtocolID):
		c.protocolID.Add(1)
	default:
		c.malformed.Add(1)
	}
}

// Bridge exchanges packets with one KISS client. Outbound packets (heard
// on the radio) go to the client; frames from the client are pushed on the
// inbound queue for transmission.
type Bridge struct {
	listener Listener
	outbound *packet.Queue[*packet.Packet]
	inbound  *packet.Queue[*packet.Packet]
	log      *log.Logger

	conn    Conn
	pending []byte // Unwritten tail of the current frame
	readBuf []byte
	stats   counters
}

// NewBridge creates a bridge polling l for clients.
func NewBridge(l Listener, outbound, inbound *packet.Queue[*packet.Packet], logger *log.Logger) *Bridge {
	return &Bridge{
		listener: l,
		outbound: outbound,
		inbound:  inbound,
		log:      logger,
		readBuf:  make([]byte, ReadChunkLen),
	}
}

func (b *Bridge) Name() string {
	return "kiss"
}

func (b *Bridge) Setup(context.Context) error {
	b.log.Info("Listening", "addr", b.listener.Addr())
	return nil
}

// Step runs one bounded, non-blocking pass.
func (b *Bridge) Step(context.Context) error {
	if b.conn == nil {
		if conn, ok := b.listener.Accept(); ok {
			b.attach(conn)
		}
	}

	if b.conn == nil {
		// Nobody to deliver to; keep the queue from growing without bound.
		if _, ok := b.outbound.Pop(); ok {
			b.stats.dropped.Add(1)
		}
		return nil
	}

	b.send()
	if b.conn != nil {
		b.receive()
	}
	if b.conn != nil && !b.conn.Connected() {
		b.log.Info("Client has gone away", "remote", b.conn.RemoteAddr())
		b.detach()
	}
	return nil
}

// Close disconnects the client and stops listening.
func (b *Bridge) Close() error {
	if b.conn != nil {
		b.detach()
	}
	return b.listener.Close()
}

func (b *Bridge) State() State {
	return State(b.stats.state.Load())
}

// Stats may be called from any goroutine.
func (b *Bridge) Stats() Stats {
	return Stats{
		State:        b.State(),
		Clients:      b.stats.clients.Load(),
		Sent:         b.stats.sent.Load(),
		Received:     b.stats.received.Load(),
		Dropped:      b.stats.dropped.Load(),
		DecodeErrors: DecodeErrors{
			Delimiters: b.stats.delimiters.Load(),
			NotUI:      b.stats.notUI.Load(),
			ProtocolID: b.stats.protocolID.Load(),
			Malformed:  b.stats.malformed.Load(),
		},
		EncodeErrors: b.stats.encodeErrors.Load(),
	}
}

func (b *Bridge) attach(conn Conn) {
	b.conn = conn
	b.pending = nil
	b.stats.clients.Add(1)
	b.stats.state.Store(int32(Connected))
	b.log.Info("Client attached", "remote", conn.RemoteAddr())
}

func (b *Bridge) detach() {
	if err := b.conn.Close(); err != nil {
		b.log.Debug("Close failed", "err", err)
	}
	b.conn = nil
	b.pending = nil
	b.stats.state.Store(int32(Listening))
}

// send finishes a partially written frame, or else writes at most one
// packet from the outbound queue.
func (b *Bridge) send() {
	if len(b.pending) == 0 {
		p, ok := b.outbound.Pop()
		if !ok {
			return
		}
		frame, err := Encode(p.String())
		if err != nil {
			b.stats.encodeErrors.Add(1)
			b.log.Warn("Dropping packet", "packet", p, "err", err)
			return
		}
		b.log.Debug("To client", "packet", p)
		b.pending = frame
	}

	n, err := b.conn.Write(b.pending)
	if err != nil {
		b.log.Warn("Write failed, closing connection", "remote", b.conn.RemoteAddr(), "err", err)
		b.detach()
		return
	}
	b.pending = b.pending[n:]
	if len(b.pending) == 0 {
		b.pending = nil
		b.stats.sent.Add(1)
	}
}

// receive decodes a single chunk of at most ReadChunkLen bytes. Frames
// split across chunks are not reassembled.
func (b *Bridge) receive() {
	if !b.conn.Ready() {
		return
	}

	n, err := b.conn.Read(b.readBuf)
	if err != nil && !errors.Is(err, io.EOF) {
		b.log.Warn("Read failed", "err", err)
	}
	if n == 0 {
		return
	}

	f, rest, err := DecodeFrame(b.readBuf[:n])
	if err != nil {
		b.stats.decodeError(err)
		b.log.Debug("Discarding chunk", "len", n, "err", err)
		return
	}
	if len(rest) > 0 {
		b.log.Debug("Discarding bytes after frame", "len", len(rest))
	}

	p := packet.FromFrame(f)
	b.log.Debug("From client", "packet", p)
	b.inbound.Push(p)
	b.stats.received.Add(1)
}
