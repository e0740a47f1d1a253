// Package aprsis gates packets heard on RF to an APRS-IS server.
package aprsis

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"kissgate/aprs"
	"kissgate/packet"
)

const (
	appName = "kissgate"

	DialTimeout   = 15 * time.Second
	LoginTimeout  = 10 * time.Second
	RetryInterval = 30 * time.Second

	defaultRadiusKm = 200
	sendBacklog     = 16
)

var (
	ErrLoginRejected = errors.New("login rejected")
	ErrNoLogresp     = errors.New("no login response")
)

// Config holds the uplink settings.
type Config struct {
	Server   string
	Callsign string
	Passcode int
	Filter   string
	Version  string
}

// DefaultFilter builds a range filter around the station's gridsquare, or
// returns an empty filter when there is none.
func DefaultFilter(grid string) (string, error) {
	if grid == "" {
		return "", nil
	}
	lat, lon, err := aprs.GridSquareToLatLon(grid)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("r/%.3f/%.3f/%d", lat, lon, defaultRadiusKm), nil
}

// Stats is a snapshot of the uplink counters.
type Stats struct {
	Connected bool
	Verified  bool
	Gated     uint64
	Skipped   uint64
	Dropped   uint64
}

type session struct {
	conn     net.Conn
	verified bool
	lines    chan string
	lost     chan error
	stop     chan struct{}
}

type connectResult struct {
	sess *session
	err  error
}

// Uplink is a task forwarding one queued packet per step. Connecting and
// logging in happen in a helper goroutine.
type Uplink struct {
	conf  Config
	queue *packet.Queue[*packet.Packet]
	local *packet.Queue[*packet.Packet] // Originated by this station
	log   *log.Logger
	retry time.Duration

	passcode int

	sess       *session
	connecting bool
	result     chan connectResult
	nextDial   time.Time
	cancel     context.CancelFunc

	gated, skipped, dropped atomic.Uint64
	connected, verified     atomic.Bool
}

// New creates an uplink draining queue.
func New(conf Config, queue *packet.Queue[*packet.Packet], logger *log.Logger) *Uplink {
	return &Uplink{
		conf:   conf,
		queue:  queue,
		local:  packet.NewQueue[*packet.Packet](),
		log:    logger,
		retry:  RetryInterval,
		result: make(chan connectResult, 1),
	}
}

func (u *Uplink) Name() string { return "aprsis" }

// Setup checks the passcode. A missing or wrong passcode logs in read-only
// and nothing is gated.
func (u *Uplink) Setup(ctx context.Context) error {
	u.passcode = -1

	if u.conf.Passcode <= 0 {
		u.log.Warn("APRS-IS passcode not set, connecting read-only")
	} else {
		want, err := aprs.CalculatePasscode(u.conf.Callsign)
		if err != nil {
			return fmt.Errorf("failed to calculate passcode: %w", err)
		}
		if want != u.conf.Passcode {
			u.log.Warn("APRS-IS passcode does not match callsign, connecting read-only", "callsign", u.conf.Callsign)
		} else {
			u.passcode = u.conf.Passcode
		}
	}

	ctx, u.cancel = context.WithCancel(ctx)
	u.startConnect(ctx)
	return nil
}

// Originate queues a packet of this station, such as its beacon, to be
// sent with a TCPIP path. Safe for use from any goroutine.
func (u *Uplink) Originate(p *packet.Packet) {
	u.local.Push(p)
}

// Step sends at most one originated and one gated packet.
func (u *Uplink) Step(ctx context.Context) error {
	u.poll(ctx)

	if p, ok := u.local.Pop(); ok {
		u.send(LocalLine(p))
	}

	p, ok := u.queue.Pop()
	if !ok {
		return nil
	}

	line, ok := GateLine(p, u.conf.Callsign)
	if !ok {
		u.skipped.Add(1)
		u.log.Debug("Not gating", "packet", p)
		return nil
	}
	if u.send(line) {
		u.gated.Add(1)
	}
	return nil
}

// send hands a line to the writer. Lines are dropped without a verified
// session or when the writer is backed up.
func (u *Uplink) send(line string) bool {
	if u.sess == nil || !u.sess.verified {
		u.dropped.Add(1)
		return false
	}
	select {
	case u.sess.lines <- line:
		return true
	default:
		u.dropped.Add(1)
		return false
	}
}

// LocalLine renders a packet originated by the station itself. The RF path
// is replaced by TCPIP*.
func LocalLine(p *packet.Packet) string {
	return p.Source + ">" + p.Destination + ",TCPIP*:" + p.Body
}

// GateLine renders a packet heard on RF as an APRS-IS line with the qAR
// construct. Packets that must not be gated return false.
func GateLine(p *packet.Packet, igate string) (string, bool) {
	for _, hop := range p.Path {
		call := strings.TrimSuffix(hop, "*")
		switch call {
		case "TCPIP", "TCPXX", "NOGATE", "RFONLY":
			return "", false
		}
	}
	if strings.HasPrefix(p.Body, "?") {
		// Queries stay local
		return "", false
	}

	var b strings.Builder
	b.WriteString(p.Header())
	b.WriteString(",qAR,")
	b.WriteString(igate)
	b.WriteByte(':')
	b.WriteString(p.Body)
	return b.String(), true
}

func (u *Uplink) poll(ctx context.Context) {
	if u.sess != nil {
		select {
		case err := <-u.sess.lost:
			u.log.Warn("APRS-IS connection lost", "err", err)
			u.detach()
			u.nextDial = time.Now().Add(u.retry)
		default:
		}
		return
	}

	if u.connecting {
		select {
		case res := <-u.result:
			u.connecting = false
			if res.err != nil {
				u.log.Warn("APRS-IS connect failed", "server", u.conf.Server, "err", res.err)
				u.nextDial = time.Now().Add(u.retry)
				return
			}
			u.attach(res.sess)
		default:
		}
		return
	}

	if time.Now().Before(u.nextDial) || ctx.Err() != nil {
		return
	}
	u.startConnect(ctx)
}

func (u *Uplink) startConnect(ctx context.Context) {
	u.connecting = true
	go func() {
		sess, err := u.connect(ctx)
		u.result <- connectResult{sess: sess, err: err}
	}()
}

func (u *Uplink) connect(ctx context.Context) (*session, error) {
	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", u.conf.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to APRS-IS server %s: %w", u.conf.Server, err)
	}

	r := bufio.NewReader(conn)
	verified, err := u.login(conn, r)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("APRS-IS login failed: %w", err)
	}

	sess := &session{
		conn:     conn,
		verified: verified,
		lines:    make(chan string, sendBacklog),
		lost:     make(chan error, 2),
		stop:     make(chan struct{}),
	}
	go u.readLoop(sess, r)
	go writeLoop(sess)
	return sess, nil
}

// LoginLine is the first line sent to the server.
func LoginLine(call string, passcode int, version, filter string) string {
	line := fmt.Sprintf("user %s pass %d vers %s %s", call, passcode, appName, version)
	if filter != "" {
		line += " filter " + filter
	}
	return line + "\r\n"
}

// login sends the login line and waits for "# logresp". It reports whether
// the server verified the passcode.
func (u *Uplink) login(conn net.Conn, r *bufio.Reader) (bool, error) {
	if err := conn.SetDeadline(time.Now().Add(LoginTimeout)); err != nil {
		return false, err
	}
	defer conn.SetDeadline(time.Time{})

	u.log.Debug("Sending login", "callsign", u.conf.Callsign, "filter", u.conf.Filter)
	if _, err := io.WriteString(conn, LoginLine(u.conf.Callsign, u.passcode, u.conf.Version, u.conf.Filter)); err != nil {
		return false, fmt.Errorf("failed to send login string: %w", err)
	}

	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return false, ErrNoLogresp
			}
			return false, fmt.Errorf("error reading login response: %w", err)
		}
		line := strings.TrimSpace(raw)

		if !strings.HasPrefix(line, "# logresp ") {
			// Server banner
			u.log.Debug("APRS-IS server", "line", line)
			continue
		}

		// # logresp CALL verified|unverified, server NAME
		parts := strings.Fields(line)
		if len(parts) < 4 {
			return false, fmt.Errorf("%w: %q", ErrLoginRejected, line)
		}
		if !strings.EqualFold(parts[2], u.conf.Callsign) {
			return false, fmt.Errorf("login response callsign mismatch: expected %s, got %s", u.conf.Callsign, parts[2])
		}

		verified := strings.HasPrefix(parts[3], "verified") && u.passcode != -1
		u.log.Info("APRS-IS login", "server", u.conf.Server, "status", strings.TrimSuffix(parts[3], ","))
		return verified, nil
	}
}

func (u *Uplink) readLoop(s *session, r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			signal(s, err)
			return
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		u.log.Debug("APRS-IS", "line", strings.TrimSpace(line))
	}
}

func writeLoop(s *session) {
	for {
		select {
		case <-s.stop:
			return
		case line := <-s.lines:
			if _, err := io.WriteString(s.conn, line+"\r\n"); err != nil {
				signal(s, err)
				return
			}
		}
	}
}

func signal(s *session, err error) {
	select {
	case s.lost <- err:
	default:
	}
}

func (u *Uplink) attach(s *session) {
	u.sess = s
	u.connected.Store(true)
	u.verified.Store(s.verified)
	if !s.verified {
		u.log.Warn("APRS-IS login not verified, packets will not be gated")
	}
}

func (u *Uplink) detach() {
	if u.sess == nil {
		return
	}
	close(u.sess.stop)
	_ = u.sess.conn.Close()
	u.sess = nil
	u.connected.Store(false)
	u.verified.Store(false)
}

// Close cancels a pending connect and drops the session. A login that
// completes anyway is closed once its result arrives.
func (u *Uplink) Close() error {
	if u.cancel != nil {
		u.cancel()
	}
	u.detach()
	if u.connecting {
		u.connecting = false
		go func() {
			if res := <-u.result; res.sess != nil {
				_ = res.sess.conn.Close()
				close(res.sess.stop)
			}
		}()
	}
	return nil
}

func (u *Uplink) Stats() Stats {
	return Stats{
		Connected: u.connected.Load(),
		Verified:  u.verified.Load(),
		Gated:     u.gated.Load(),
		Skipped:   u.skipped.Load(),
		Dropped:   u.dropped.Load(),
	}
}
