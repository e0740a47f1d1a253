package aprsis

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kissgate/packet"
)

const (
	igate    = "OE5BPA-10"
	passcode = 22948
)

// fakeServer accepts one client, answers the login and records every
// line it receives afterwards.
type fakeServer struct {
	ln     net.Listener
	login  chan string
	lines  chan string
	status string
}

func newFakeServer(t *testing.T, status string) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	s := &fakeServer{
		ln:     ln,
		login:  make(chan string, 4),
		lines:  make(chan string, 16),
		status: status,
	}
	go s.serve()
	return s
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	fmt.Fprint(conn, "# aprsc 2.1.14\r\n")
	line, err := r.ReadString('\n')
	if err != nil {
		return
	}
	s.login <- line

	fields := strings.Fields(line)
	fmt.Fprintf(conn, "# logresp %s %s, server T2TEST\r\n", fields[1], s.status)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		s.lines <- line
	}
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func newUplink(t *testing.T, server string, pass int) (*Uplink, *packet.Queue[*packet.Packet]) {
	t.Helper()
	q := packet.NewQueue[*packet.Packet]()
	u := New(Config{
		Server:   server,
		Callsign: igate,
		Passcode: pass,
		Filter:   "r/47.6/13.6/50",
		Version:  "test",
	}, q, log.New(io.Discard))
	t.Cleanup(func() { u.Close() })
	return u, q
}

func stepUntil(t *testing.T, u *Uplink, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		_ = u.Step(context.Background())
		return cond()
	}, 3*time.Second, 5*time.Millisecond)
}

func push(t *testing.T, q *packet.Queue[*packet.Packet], text string) {
	t.Helper()
	p, err := packet.Parse(text)
	require.NoError(t, err)
	q.Push(p)
}

func TestUplink_GatesWithQConstruct(t *testing.T) {
	srv := newFakeServer(t, "verified")
	u, q := newUplink(t, srv.addr(), passcode)

	require.NoError(t, u.Setup(context.Background()))
	stepUntil(t, u, func() bool { return u.Stats().Verified })

	login := <-srv.login
	assert.Equal(t, "user OE5BPA-10 pass 22948 vers kissgate test filter r/47.6/13.6/50\r\n", login)

	push(t, q, "OE5BPA-1>APLRT1,WIDE1-1*:!4740.00N/01340.00Eu test")
	require.NoError(t, u.Step(context.Background()))

	select {
	case line := <-srv.lines:
		assert.Equal(t, "OE5BPA-1>APLRT1,WIDE1-1*,qAR,OE5BPA-10:!4740.00N/01340.00Eu test\r\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the packet")
	}
	assert.Equal(t, uint64(1), u.Stats().Gated)
}

func TestUplink_WrongPasscodeIsReadOnly(t *testing.T) {
	srv := newFakeServer(t, "unverified")
	u, q := newUplink(t, srv.addr(), 12345)

	require.NoError(t, u.Setup(context.Background()))
	stepUntil(t, u, func() bool { return u.Stats().Connected })

	login := <-srv.login
	assert.Contains(t, login, "pass -1 ")
	assert.False(t, u.Stats().Verified)

	push(t, q, "OE5BPA-1>APRS:>status")
	require.NoError(t, u.Step(context.Background()))

	assert.True(t, q.Empty())
	assert.Equal(t, uint64(1), u.Stats().Dropped)
	assert.Zero(t, u.Stats().Gated)
}

func TestUplink_ReconnectsAfterLoss(t *testing.T) {
	srv := newFakeServer(t, "verified")
	u, _ := newUplink(t, srv.addr(), passcode)
	u.retry = 0

	require.NoError(t, u.Setup(context.Background()))
	stepUntil(t, u, func() bool { return u.Stats().Connected })
	<-srv.login

	// Drop the session from our side to simulate a broken link.
	u.sess.conn.Close()
	stepUntil(t, u, func() bool { return len(srv.login) == 1 })
	stepUntil(t, u, func() bool { return u.Stats().Connected })
}

func TestUplink_DropsWhileDisconnected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	u, q := newUplink(t, addr, passcode)
	require.NoError(t, u.Setup(context.Background()))

	push(t, q, "OE5BPA-1>APRS:>one")
	push(t, q, "OE5BPA-1>APRS:>two")
	require.NoError(t, u.Step(context.Background()))
	require.NoError(t, u.Step(context.Background()))

	assert.True(t, q.Empty())
	assert.Equal(t, uint64(2), u.Stats().Dropped)
	assert.False(t, u.Stats().Connected)
}

func TestGateLine(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"direct", "OE5BPA-1>APRS:>hi", "OE5BPA-1>APRS,qAR,OE5BPA-10:>hi", true},
		{"digipeated", "OE5BPA-1>APRS,WIDE1-1*,WIDE2-1:>hi", "OE5BPA-1>APRS,WIDE1-1*,WIDE2-1,qAR,OE5BPA-10:>hi", true},
		{"nogate", "OE5BPA-1>APRS,NOGATE:>hi", "", false},
		{"rfonly", "OE5BPA-1>APRS,WIDE1-1*,RFONLY:>hi", "", false},
		{"from internet", "OE5BPA-1>APRS,TCPIP*:>hi", "", false},
		{"query", "OE5BPA-1>APRS:?APRS?", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := packet.Parse(tt.text)
			require.NoError(t, err)
			got, ok := GateLine(p, igate)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoginLine(t *testing.T) {
	assert.Equal(t, "user OE5BPA-10 pass -1 vers kissgate 1.0\r\n", LoginLine(igate, -1, "1.0", ""))
}

func TestDefaultFilter(t *testing.T) {
	f, err := DefaultFilter("JN78")
	require.NoError(t, err)
	assert.Equal(t, "r/48.500/15.000/200", f)

	f, err = DefaultFilter("")
	require.NoError(t, err)
	assert.Empty(t, f)

	_, err = DefaultFilter("??")
	assert.Error(t, err)
}

func TestUplink_BadCallsign(t *testing.T) {
	q := packet.NewQueue[*packet.Packet]()
	u := New(Config{Server: "127.0.0.1:1", Callsign: "", Passcode: 1}, q, log.New(io.Discard))
	assert.Error(t, u.Setup(context.Background()))
}

func TestUplink_CloseReleasesLateLogin(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	loggedIn := make(chan struct{})
	release := make(chan struct{})
	hungUp := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		close(loggedIn)

		<-release
		fmt.Fprintf(conn, "# logresp %s verified, server T2TEST\r\n", igate)
		if _, err := r.ReadString('\n'); err != nil {
			close(hungUp)
		}
	}()

	u, _ := newUplink(t, ln.Addr().String(), passcode)
	require.NoError(t, u.Setup(context.Background()))

	select {
	case <-loggedIn:
	case <-time.After(2 * time.Second):
		t.Fatal("uplink did not log in")
	}

	require.NoError(t, u.Close())
	close(release)

	select {
	case <-hungUp:
	case <-time.After(3 * time.Second):
		t.Fatal("session completed after Close was left open")
	}
	assert.False(t, u.Stats().Connected)
}

func TestUplink_OriginatesWithTCPIPPath(t *testing.T) {
	srv := newFakeServer(t, "verified")
	u, _ := newUplink(t, srv.addr(), passcode)

	require.NoError(t, u.Setup(context.Background()))
	stepUntil(t, u, func() bool { return u.Stats().Verified })
	<-srv.login

	p, err := packet.Parse("OE5BPA-10>APZKGW,WIDE1-1:=4830.00NL01500.00E&kissgate")
	require.NoError(t, err)
	u.Originate(p)
	require.NoError(t, u.Step(context.Background()))

	select {
	case line := <-srv.lines:
		assert.Equal(t, "OE5BPA-10>APZKGW,TCPIP*:=4830.00NL01500.00E&kissgate\r\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the beacon")
	}
	assert.Zero(t, u.Stats().Gated, "own packets are not counted as gated")
}
