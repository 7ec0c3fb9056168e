package dgram

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/abcdlsj/tele/internal/logger"
)

const (
	maxDatagramSize = 65535
	messageQueueLen = 256
)

var ErrClosed = errors.New("dgram: endpoint closed")

type Options struct {
	// Bind binds the server socket to Host:Port to accept datagrams from
	// any sender. Without it only the client socket exists.
	Bind   bool
	Host   string
	Port   int
	Logger *logger.Logger
}

// Message is one datagram. From is set only for server socket traffic.
type Message struct {
	Data []byte
	From *net.UDPAddr
}

// Endpoint presents a bound server socket and an unbound client socket as
// one address. Writes go back to the last sender seen on the server socket,
// or to the configured Host:Port until a sender has been seen.
type Endpoint struct {
	target *net.UDPAddr
	server *net.UDPConn
	client *net.UDPConn
	logger *logger.Logger

	lastRemote atomic.Pointer[net.UDPAddr]
	messages   chan Message

	closeOnce sync.Once
	closing   chan struct{}

	doneOnce sync.Once
	done     chan struct{}
	mu       sync.Mutex
	err      error
}

func New(opts Options) (*Endpoint, error) {
	l := opts.Logger
	if l == nil {
		l = logger.New("UDP")
	}

	target, err := net.ResolveUDPAddr("udp", net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%d: %w", opts.Host, opts.Port, err)
	}

	e := &Endpoint{
		target:   target,
		logger:   l,
		messages: make(chan Message, messageQueueLen),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	if opts.Bind {
		e.server, err = net.ListenUDP("udp", target)
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", target, err)
		}
	}

	e.client, err = net.ListenUDP("udp", nil)
	if err != nil {
		if e.server != nil {
			e.server.Close()
		}
		return nil, fmt.Errorf("open client socket: %w", err)
	}

	if e.server != nil {
		go e.readServer()
	}
	go e.readClient()

	return e, nil
}

func (e *Endpoint) Messages() <-chan Message {
	return e.messages
}

// Done is closed on Close, or when the primary socket (server when bound,
// client otherwise) fails.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Err is the primary socket failure, nil after a plain Close.
func (e *Endpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Endpoint) LastRemoteAddr() *net.UDPAddr {
	return e.lastRemote.Load()
}

func (e *Endpoint) Target() *net.UDPAddr {
	return e.target
}

// ServerAddr is nil when the endpoint is not bound.
func (e *Endpoint) ServerAddr() *net.UDPAddr {
	if e.server == nil {
		return nil
	}
	return e.server.LocalAddr().(*net.UDPAddr)
}

func (e *Endpoint) ClientAddr() *net.UDPAddr {
	return e.client.LocalAddr().(*net.UDPAddr)
}

func (e *Endpoint) Write(b []byte) error {
	select {
	case <-e.closing:
		return ErrClosed
	default:
	}

	if last := e.lastRemote.Load(); last != nil && e.server != nil {
		_, err := e.server.WriteToUDP(b, last)
		return err
	}

	_, err := e.client.WriteToUDP(b, e.target)
	return err
}

// Close closes both sockets, releasing the bound port. Idempotent.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closing)
		if e.server != nil {
			e.server.Close()
		}
		e.client.Close()
		e.markDone(nil)
	})
	return nil
}

func (e *Endpoint) markDone(err error) {
	e.doneOnce.Do(func() {
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		close(e.done)
	})
}

func (e *Endpoint) readServer() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := e.server.ReadFromUDP(buf)
		if err != nil {
			e.socketFailed("server", e.server, err, true)
			return
		}

		e.lastRemote.Store(addr)
		if !e.emit(Message{Data: clone(buf[:n]), From: addr}) {
			return
		}
	}
}

func (e *Endpoint) readClient() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := e.client.ReadFromUDP(buf)
		if err != nil {
			e.socketFailed("client", e.client, err, e.server == nil)
			return
		}

		if !e.emit(Message{Data: clone(buf[:n])}) {
			return
		}
	}
}

func (e *Endpoint) socketFailed(name string, sock *net.UDPConn, err error, primary bool) {
	select {
	case <-e.closing:
		return
	default:
	}

	e.logger.Warnf("UDP %s socket error: %v, closing it", name, err)
	sock.Close()
	if primary {
		e.markDone(err)
	}
}

func (e *Endpoint) emit(msg Message) bool {
	select {
	case e.messages <- msg:
		return true
	case <-e.closing:
		return false
	}
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
