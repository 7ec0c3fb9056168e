package pipe

import (
	"github.com/abcdlsj/tele/internal/dgram"
	"github.com/abcdlsj/tele/internal/stats"
)

// MessageConn is the message-shaped side of a tunnel.
type MessageConn interface {
	// TrySend never blocks, it reports false when the message was dropped.
	TrySend(b []byte) bool
	// ReadMessage blocks for the next message.
	ReadMessage() ([]byte, error)
	Close() error
}

// Endpoint is the local side of a datagram pipe, *dgram.Endpoint implements it.
type Endpoint interface {
	Messages() <-chan dgram.Message
	Write(b []byte) error
	// Done is closed when the endpoint can no longer receive.
	Done() <-chan struct{}
	Err() error
	Close() error
}

type datagramPipe struct {
	*Handle
	tunnel MessageConn
	ep     Endpoint
}

// NewDatagram bridges a tunnel message connection to the endpoint returned
// by resolve. Messages are forwarded best-effort in both directions, no
// queueing and no retry. resolve is called once, before NewDatagram returns.
func NewDatagram(tunnel MessageConn, resolve DatagramResolver, opts Options, st *stats.Stats) *Handle {
	p := &datagramPipe{
		Handle: newHandle("UDP", opts, st),
		tunnel: tunnel,
	}

	ep, ok := resolve().Destination()
	if !ok || ep == nil {
		p.reject(tunnel)
		return p.Handle
	}
	p.ep = ep

	if !p.bridge(p.release) {
		_ = ep.Close()
		return p.Handle
	}

	if opts.Debug {
		p.logger.Infof("Bridging to local datagram endpoint")
	}

	go p.fromEndpoint()
	go p.fromTunnel()

	return p.Handle
}

func (p *datagramPipe) fromEndpoint() {
	msgs := p.ep.Messages()
	for {
		select {
		case msg := <-msgs:
			if !p.tunnel.TrySend(msg.Data) {
				p.logger.Debugf("Tunnel busy, dropped %d bytes", len(msg.Data))
				continue
			}
			p.stats.AddUp(int64(len(msg.Data)))
		case <-p.ep.Done():
			p.destroy(p.ep.Err())
			return
		case <-p.done:
			return
		}
	}
}

func (p *datagramPipe) fromTunnel() {
	for {
		b, err := p.tunnel.ReadMessage()
		if err != nil {
			p.destroy(err)
			return
		}

		if err := p.ep.Write(b); err != nil {
			p.logger.Debugf("Endpoint write failed, dropped %d bytes: %v", len(b), err)
			continue
		}
		p.stats.AddDown(int64(len(b)))
	}
}

func (p *datagramPipe) release() {
	_ = p.ep.Close()
	_ = p.tunnel.Close()
}
