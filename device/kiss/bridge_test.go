package kiss

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kissgate/packet"
)

type fakeListener struct {
	pending  []Conn
	accepted int
	closed   bool
}

func (l *fakeListener) Accept() (Conn, bool) {
	if len(l.pending) == 0 {
		return nil, false
	}
	c := l.pending[0]
	l.pending = l.pending[1:]
	l.accepted++
	return c, true
}

func (l *fakeListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8001}
}

func (l *fakeListener) Close() error {
	l.closed = true
	return nil
}

type fakeConn struct {
	chunks     [][]byte
	partial    []byte
	written    bytes.Buffer
	writes     int
	writeLimit int // Bytes accepted per Write, 0 for no limit
	writeErr   error
	gone       bool
	closed     bool
}

func (c *fakeConn) Ready() bool {
	return len(c.partial) > 0 || len(c.chunks) > 0
}

func (c *fakeConn) Read(p []byte) (int, error) {
	if len(c.partial) == 0 {
		if len(c.chunks) == 0 {
			if c.gone {
				return 0, io.EOF
			}
			return 0, nil
		}
		c.partial, c.chunks = c.chunks[0], c.chunks[1:]
	}
	n := copy(p, c.partial)
	c.partial = c.partial[n:]
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes++
	if c.writeLimit > 0 && len(p) > c.writeLimit {
		p = p[:c.writeLimit]
	}
	return c.written.Write(p)
}

func (c *fakeConn) Connected() bool {
	return !c.gone || c.Ready()
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 40000}
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type bridgeFixture struct {
	listener *fakeListener
	outbound *packet.Queue[*packet.Packet]
	inbound  *packet.Queue[*packet.Packet]
	bridge   *Bridge
}

func newBridgeFixture(conns ...Conn) *bridgeFixture {
	f := &bridgeFixture{
		listener: &fakeListener{pending: conns},
		outbound: packet.NewQueue[*packet.Packet](),
		inbound:  packet.NewQueue[*packet.Packet](),
	}
	f.bridge = NewBridge(f.listener, f.outbound, f.inbound, log.New(io.Discard))
	return f
}

func (f *bridgeFixture) step(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.bridge.Step(context.Background()))
	}
}

func (f *bridgeFixture) enqueue(t *testing.T, texts ...string) {
	t.Helper()
	for _, text := range texts {
		p, err := packet.Parse(text)
		require.NoError(t, err)
		f.outbound.Push(p)
	}
}

func TestBridge_DropsWhileListening(t *testing.T) {
	f := newBridgeFixture()
	f.enqueue(t, "N0CALL>APRS:1", "N0CALL>APRS:2", "N0CALL>APRS:3")

	f.step(t, 1)
	assert.Equal(t, 2, f.outbound.Len(), "one element per tick")

	f.step(t, 2)
	assert.True(t, f.outbound.Empty())
	assert.Equal(t, Listening, f.bridge.State())
	assert.Equal(t, uint64(3), f.bridge.Stats().Dropped)
	assert.Zero(t, f.bridge.Stats().Sent)
}

func TestBridge_SendsOnePacketPerTick(t *testing.T) {
	conn := &fakeConn{}
	f := newBridgeFixture(conn)
	f.enqueue(t, aprsPosition, "N0CALL>APRS:second")

	f.step(t, 1)
	assert.Equal(t, Connected, f.bridge.State())
	assert.Equal(t, 1, f.outbound.Len())
	assert.Equal(t, mustEncode(t, aprsPosition), conn.written.Bytes())

	f.step(t, 1)
	want := append(mustEncode(t, aprsPosition), mustEncode(t, "N0CALL>APRS:second")...)
	assert.Equal(t, want, conn.written.Bytes())
	assert.Equal(t, uint64(2), f.bridge.Stats().Sent)
	assert.Equal(t, uint64(1), f.bridge.Stats().Clients)
}

func TestBridge_FinishesPartialWriteFirst(t *testing.T) {
	conn := &fakeConn{writeLimit: 16}
	f := newBridgeFixture(conn)
	f.enqueue(t, aprsPosition, "N0CALL>APRS:second")

	first := mustEncode(t, aprsPosition)
	ticks := (len(first) + 15) / 16

	f.step(t, ticks)
	assert.Equal(t, first, conn.written.Bytes())
	assert.Equal(t, 1, f.outbound.Len(), "second packet waits for the first to finish")
	assert.Equal(t, uint64(1), f.bridge.Stats().Sent)

	f.step(t, 10)
	assert.True(t, f.outbound.Empty())
	assert.Equal(t, append(first, mustEncode(t, "N0CALL>APRS:second")...), conn.written.Bytes())
}

func TestBridge_Receives(t *testing.T) {
	conn := &fakeConn{chunks: [][]byte{mustEncode(t, aprsPosition)}}
	f := newBridgeFixture(conn)

	f.step(t, 1)

	require.Equal(t, 1, f.inbound.Len())
	p, _ := f.inbound.Pop()
	assert.Equal(t, aprsPosition, p.String())
	assert.Equal(t, uint64(1), f.bridge.Stats().Received)
}

func TestBridge_DiscardsMalformedChunk(t *testing.T) {
	conn := &fakeConn{chunks: [][]byte{
		[]byte("hello TNC\r"),
		mustEncode(t, aprsPosition),
	}}
	f := newBridgeFixture(conn)

	f.step(t, 1)
	assert.True(t, f.inbound.Empty())
	assert.Equal(t, DecodeErrors{Delimiters: 1}, f.bridge.Stats().DecodeErrors)
	assert.Equal(t, Connected, f.bridge.State())

	f.step(t, 1)
	assert.Equal(t, 1, f.inbound.Len())
}

func TestBridge_OneChunkOneFrame(t *testing.T) {
	frame := mustEncode(t, aprsPosition)
	second := mustEncode(t, "N0CALL>APRS:lost")

	chunk := append([]byte(nil), frame...)
	chunk = append(chunk, second...)
	chunk = append(chunk, bytes.Repeat([]byte{0x55}, 600-len(chunk))...)

	conn := &fakeConn{chunks: [][]byte{chunk}}
	f := newBridgeFixture(conn)

	f.step(t, 3)

	// The first read is bounded to ReadChunkLen bytes and yields the leading
	// frame only; the second frame and the tail are not reassembled.
	require.Equal(t, 1, f.inbound.Len())
	p, _ := f.inbound.Pop()
	assert.Equal(t, aprsPosition, p.String())
	assert.Equal(t, DecodeErrors{Delimiters: 1}, f.bridge.Stats().DecodeErrors)
}

func TestBridge_CountsDecodeErrorsByKind(t *testing.T) {
	// No digipeaters: control and PID follow the two address fields.
	body, _, err := Unwrap(mustEncode(t, "N0CALL>APRS:test"))
	require.NoError(t, err)

	notUI := append([]byte(nil), body...)
	notUI[2*7] = 0x00 // I frame
	otherPID := append([]byte(nil), body...)
	otherPID[2*7+1] = 0xCF
	truncated := body[:10]

	conn := &fakeConn{chunks: [][]byte{
		{0x55, 0x55},
		Wrap(notUI),
		Wrap(otherPID),
		Wrap(truncated),
	}}
	f := newBridgeFixture(conn)

	f.step(t, 4)

	stats := f.bridge.Stats().DecodeErrors
	assert.Equal(t, DecodeErrors{Delimiters: 1, NotUI: 1, ProtocolID: 1, Malformed: 1}, stats)
	assert.Equal(t, uint64(4), stats.Total())
	assert.True(t, f.inbound.Empty())
}

func TestBridge_PeerGoneReturnsToListening(t *testing.T) {
	first := &fakeConn{chunks: [][]byte{mustEncode(t, aprsPosition)}, gone: true}
	second := &fakeConn{}
	f := newBridgeFixture(first, second)

	f.step(t, 1)
	assert.Equal(t, 1, f.inbound.Len(), "data sent before the peer left is still delivered")
	assert.True(t, first.closed)
	assert.Equal(t, Listening, f.bridge.State())

	f.step(t, 1)
	assert.Equal(t, Connected, f.bridge.State())
	assert.Equal(t, 2, f.listener.accepted)
}

func TestBridge_WriteErrorDetaches(t *testing.T) {
	conn := &fakeConn{writeErr: errors.New("broken pipe")}
	f := newBridgeFixture(conn)
	f.enqueue(t, aprsPosition)

	f.step(t, 1)

	assert.True(t, conn.closed)
	assert.Equal(t, Listening, f.bridge.State())
	assert.Zero(t, f.bridge.Stats().Sent)
}

func TestBridge_DropsUnencodablePacket(t *testing.T) {
	conn := &fakeConn{}
	f := newBridgeFixture(conn)
	f.enqueue(t, "TOOLONGCALL>APRS:x", aprsPosition)

	f.step(t, 1)
	assert.Zero(t, conn.written.Len())
	assert.Equal(t, uint64(1), f.bridge.Stats().EncodeErrors)

	f.step(t, 1)
	assert.Equal(t, mustEncode(t, aprsPosition), conn.written.Bytes())
}

func TestBridge_Close(t *testing.T) {
	conn := &fakeConn{}
	f := newBridgeFixture(conn)
	f.step(t, 1)

	require.NoError(t, f.bridge.Close())

	assert.True(t, conn.closed)
	assert.True(t, f.listener.closed)
	assert.Equal(t, Listening, f.bridge.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "listening", Listening.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "unknown", State(7).String())
}
