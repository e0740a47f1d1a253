package kiss

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// ReadChunkLen is the most the bridge reads from a client per tick.
const ReadChunkLen = 512

const (
	chunkBacklog = 16 // Chunks buffered per direction
	acceptRetry  = 100 * time.Millisecond
)

// Listener hands out client connections without blocking.
type Listener interface {
	// Accept returns a pending connection, or false if there is none.
	Accept() (Conn, bool)
	Addr() net.Addr
	Close() error
}

// Conn is a client connection polled once per tick. No method blocks.
type Conn interface {
	// Ready reports whether Read would return data.
	Ready() bool
	// Read copies received data into p. It returns 0, nil when nothing is
	// waiting and io.EOF once the peer has gone and everything was read.
	Read(p []byte) (int, error)
	// Write queues p for sending and may accept fewer bytes than offered.
	Write(p []byte) (int, error)
	// Connected is false once the peer has gone and no data is left.
	Connected() bool
	RemoteAddr() net.Addr
	Close() error
}

// TCPListener accepts KISS clients on a TCP port.
type TCPListener struct {
	ln    net.Listener
	conns chan net.Conn
	done  chan struct{}
	once  sync.Once
	log   *log.Logger
}

// ListenTCP starts accepting on addr, e.g. ":8001".
func ListenTCP(addr string, logger *log.Logger) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l := &TCPListener{
		ln:    ln,
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
		log:   logger,
	}
	go l.acceptLoop()
	return l, nil
}

// acceptLoop holds at most one accepted connection until the bridge asks
// for it.
func (l *TCPListener) acceptLoop() {
	for {
		c, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warn("Accept failed", "err", err)
			select {
			case <-time.After(acceptRetry):
				continue
			case <-l.done:
				return
			}
		}

		select {
		case l.conns <- c:
		case <-l.done:
			c.Close()
			return
		}
	}
}

func (l *TCPListener) Accept() (Conn, bool) {
	select {
	case c := <-l.conns:
		return newTCPConn(c), true
	default:
		return nil, false
	}
}

func (l *TCPListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Port returns the bound TCP port, useful when listening on ":0".
func (l *TCPListener) Port() int {
	if a, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

func (l *TCPListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.ln.Close()
	})
	return err
}

// tcpConn moves blocking socket I/O onto a reader and a writer goroutine.
type tcpConn struct {
	conn   net.Conn
	chunks chan []byte
	writes chan []byte
	done   chan struct{}
	once   sync.Once
	gone   atomic.Bool

	// Only touched by the polling goroutine.
	partial []byte
}

func newTCPConn(c net.Conn) *tcpConn {
	tc := &tcpConn{
		conn:   c,
		chunks: make(chan []byte, chunkBacklog),
		writes: make(chan []byte, chunkBacklog),
		done:   make(chan struct{}),
	}
	go tc.readLoop()
	go tc.writeLoop()
	return tc
}

func (c *tcpConn) readLoop() {
	buf := make([]byte, ReadChunkLen)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case c.chunks <- chunk:
			case <-c.done:
				return
			}
		}
		if err != nil {
			c.gone.Store(true)
			return
		}
	}
}

func (c *tcpConn) writeLoop() {
	for {
		select {
		case p := <-c.writes:
			if _, err := c.conn.Write(p); err != nil {
				c.gone.Store(true)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *tcpConn) Ready() bool {
	return len(c.partial) > 0 || len(c.chunks) > 0
}

func (c *tcpConn) Read(p []byte) (int, error) {
	if len(c.partial) == 0 {
		select {
		case chunk := <-c.chunks:
			c.partial = chunk
		default:
			if c.gone.Load() {
				return 0, io.EOF
			}
			return 0, nil
		}
	}

	n := copy(p, c.partial)
	c.partial = c.partial[n:]
	return n, nil
}

func (c *tcpConn) Write(p []byte) (int, error) {
	if c.gone.Load() {
		return 0, net.ErrClosed
	}
	select {
	case c.writes <- append([]byte(nil), p...):
		return len(p), nil
	default:
		return 0, nil
	}
}

func (c *tcpConn) Connected() bool {
	return !c.gone.Load() || c.Ready()
}

func (c *tcpConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *tcpConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
