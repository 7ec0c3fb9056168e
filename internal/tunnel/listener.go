package tunnel

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"

	"github.com/abcdlsj/tele/internal/auth"
	"github.com/abcdlsj/tele/internal/logger"
)

// Listener hands out logged-in tunnel connections for every transport:
// raw TCP connections, or the streams of accepted yamux sessions.
type Listener struct {
	transport string
	ln        net.Listener
	auth      auth.Authenticator
	logger    *logger.Logger

	conns     chan net.Conn
	closing   chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	sessions map[*yamux.Session]struct{}
	httpSvr  *http.Server
}

func Listen(transport, addr string, authenticator auth.Authenticator) (*Listener, error) {
	switch transport {
	case TransportTCP, TransportMux, TransportWS, "":
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
	if transport == "" {
		transport = TransportTCP
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		transport: transport,
		ln:        ln,
		auth:      authenticator,
		logger:    logger.New("TUNNEL", transport),
		conns:     make(chan net.Conn),
		closing:   make(chan struct{}),
		sessions:  make(map[*yamux.Session]struct{}),
	}

	if transport == TransportWS {
		l.serveWS()
	} else {
		go l.acceptLoop()
	}
	return l, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closing:
		return nil, net.ErrClosed
	}
}

func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closing)
		if l.httpSvr != nil {
			err = l.httpSvr.Close()
		} else {
			err = l.ln.Close()
		}

		l.mu.Lock()
		for s := range l.sessions {
			s.Close()
		}
		l.mu.Unlock()
	})
	return err
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.logger.Errorf("Error accepting: %v", err)
			}
			return
		}

		go l.handle(conn)
	}
}

func (l *Listener) serveWS() {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			l.logger.Warnf("Websocket upgrade failed: %v", err)
			return
		}
		l.handle(newWSConn(c))
	})

	l.httpSvr = &http.Server{Handler: mux}
	go func() {
		if err := l.httpSvr.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Errorf("Websocket server stopped: %v", err)
		}
	}()
}

func (l *Listener) handle(conn net.Conn) {
	msg, err := verifyLogin(conn, l.auth)
	if err != nil {
		l.logger.Errorf("Login failed, client addr: %s, err: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	l.logger.Debugf("Auth success, client addr: %s, version: %s", conn.RemoteAddr(), msg.Version)

	if l.transport == TransportTCP {
		l.deliver(conn)
		return
	}

	session, err := yamux.Server(conn, muxConfig())
	if err != nil {
		l.logger.Errorf("Error creating session: %v", err)
		conn.Close()
		return
	}
	if !l.track(session) {
		session.Close()
		return
	}
	defer l.untrack(session)

	for {
		stream, err := session.Accept()
		if err != nil {
			l.logger.Debugf("Session from %s ended: %v", conn.RemoteAddr(), err)
			return
		}
		if !l.deliver(stream) {
			return
		}
	}
}

func (l *Listener) deliver(c net.Conn) bool {
	select {
	case l.conns <- c:
		return true
	case <-l.closing:
		c.Close()
		return false
	}
}

func (l *Listener) track(s *yamux.Session) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.closing:
		return false
	default:
	}
	l.sessions[s] = struct{}{}
	return true
}

func (l *Listener) untrack(s *yamux.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, s)
	s.Close()
}
