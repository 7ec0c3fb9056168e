package tunnel

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"
	"github.com/jpillora/backoff"

	"github.com/abcdlsj/tele/internal/logger"
)

const (
	TransportTCP = "tcp"
	TransportMux = "mux"
	TransportWS  = "ws"

	dialTimeout     = 10 * time.Second
	maxDialAttempts = 5
)

// Dialer opens logged-in tunnel connections to the server, one per pipe.
type Dialer interface {
	Open() (net.Conn, error)
	Close() error
}

func NewDialer(transport, addr, token string) (Dialer, error) {
	switch transport {
	case TransportTCP, "":
		return NewTCPDialer(addr, token), nil
	case TransportMux:
		return NewMuxDialer(addr, token), nil
	case TransportWS:
		return NewWSDialer(addr, token), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

type TCPDialer struct {
	addr  string
	token string
}

func NewTCPDialer(addr, token string) *TCPDialer {
	return &TCPDialer{
		addr:  addr,
		token: token,
	}
}

func (t *TCPDialer) Open() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", t.addr, dialTimeout)
	if err != nil {
		return nil, err
	}

	if err = login(conn, t.token); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

func (t *TCPDialer) Close() error {
	return nil
}

var ErrDialerClosed = errors.New("tunnel: dialer closed")

// MuxDialer keeps one yamux session and opens a stream per pipe. A dead
// session is dialled again with jittered backoff on the next Open.
type MuxDialer struct {
	token string
	dial  func() (net.Conn, error)

	// dialMu serializes reconnects and guards backoff, mu guards session.
	dialMu  sync.Mutex
	backoff *backoff.Backoff

	mu      sync.Mutex
	session *yamux.Session

	closeOnce sync.Once
	closing   chan struct{}
	logger    *logger.Logger
}

func NewMuxDialer(addr, token string) *MuxDialer {
	return newMuxDialer(token, func() (net.Conn, error) {
		return net.DialTimeout("tcp", addr, dialTimeout)
	})
}

// NewWSDialer runs the yamux session over a websocket, addr is host:port
// or a full ws:// / wss:// url.
func NewWSDialer(addr, token string) *MuxDialer {
	u := wsURL(addr)
	return newMuxDialer(token, func() (net.Conn, error) {
		d := websocket.Dialer{HandshakeTimeout: dialTimeout}
		c, _, err := d.Dial(u, nil)
		if err != nil {
			return nil, err
		}
		return newWSConn(c), nil
	})
}

func wsURL(addr string) string {
	if u, err := url.Parse(addr); err == nil && (u.Scheme == "ws" || u.Scheme == "wss") {
		if u.Path == "" {
			u.Path = wsPath
		}
		return u.String()
	}
	return (&url.URL{Scheme: "ws", Host: addr, Path: wsPath}).String()
}

func newMuxDialer(token string, dial func() (net.Conn, error)) *MuxDialer {
	return &MuxDialer{
		token: token,
		dial:  dial,
		backoff: &backoff.Backoff{
			Min:    200 * time.Millisecond,
			Max:    10 * time.Second,
			Factor: 2,
			Jitter: true,
		},
		closing: make(chan struct{}),
		logger:  logger.New("MUX"),
	}
}

func (m *MuxDialer) Open() (net.Conn, error) {
	session, err := m.getSession()
	if err != nil {
		return nil, err
	}

	stream, err := session.OpenStream()
	if err != nil {
		m.dropSession(session)
		return nil, err
	}
	return stream, nil
}

func (m *MuxDialer) current() (*yamux.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.closing:
		return nil, ErrDialerClosed
	default:
	}
	if m.session == nil || m.session.IsClosed() {
		return nil, nil
	}
	return m.session, nil
}

func (m *MuxDialer) getSession() (*yamux.Session, error) {
	if s, err := m.current(); s != nil || err != nil {
		return s, err
	}

	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	// someone else may have reconnected while we waited
	if s, err := m.current(); s != nil || err != nil {
		return s, err
	}

	session, err := m.connect()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.closing:
		session.Close()
		return nil, ErrDialerClosed
	default:
	}
	m.session = session
	return session, nil
}

func (m *MuxDialer) dropSession(s *yamux.Session) {
	m.mu.Lock()
	if m.session == s {
		m.session = nil
	}
	m.mu.Unlock()
	s.Close()
}

// connect runs without mu held, Close interrupts the backoff wait.
func (m *MuxDialer) connect() (*yamux.Session, error) {
	defer m.backoff.Reset()

	var lastErr error
	for i := 0; i < maxDialAttempts; i++ {
		if i > 0 {
			d := m.backoff.Duration()
			m.logger.Warnf("Session dial failed: %v, retry in %s", lastErr, d)
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-m.closing:
				t.Stop()
				return nil, ErrDialerClosed
			}
		}

		conn, err := m.dial()
		if err != nil {
			lastErr = err
			continue
		}
		if err = login(conn, m.token); err != nil {
			conn.Close()
			lastErr = err
			continue
		}

		session, err := yamux.Client(conn, muxConfig())
		if err != nil {
			conn.Close()
			lastErr = err
			continue
		}

		return session, nil
	}

	return nil, fmt.Errorf("open session after %d attempts: %w", maxDialAttempts, lastErr)
}

func (m *MuxDialer) Close() error {
	m.closeOnce.Do(func() { close(m.closing) })

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	return err
}
