package tunnel

import (
	"errors"
	"io"
	"sync"

	"github.com/abcdlsj/tele/internal/logger"
	"github.com/abcdlsj/tele/internal/proto"
)

const sendQueueLen = 128

// StreamMessageConn carries datagrams over a tunnel stream, one frame per
// datagram. Sends are queued and never block, a full queue drops.
type StreamMessageConn struct {
	rwc    io.ReadWriteCloser
	queue  chan []byte
	logger *logger.Logger

	closeOnce sync.Once
	closing   chan struct{}
}

func NewStreamMessageConn(rwc io.ReadWriteCloser) *StreamMessageConn {
	c := &StreamMessageConn{
		rwc:     rwc,
		queue:   make(chan []byte, sendQueueLen),
		logger:  logger.New("DGRAM"),
		closing: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *StreamMessageConn) TrySend(b []byte) bool {
	select {
	case <-c.closing:
		return false
	default:
	}

	select {
	case c.queue <- b:
		return true
	default:
		return false
	}
}

func (c *StreamMessageConn) ReadMessage() ([]byte, error) {
	return proto.RecvDatagram(c.rwc)
}

func (c *StreamMessageConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.rwc.Close()
	})
	return err
}

func (c *StreamMessageConn) writeLoop() {
	for {
		select {
		case b := <-c.queue:
			err := proto.SendDatagram(c.rwc, b)
			if errors.Is(err, proto.ErrMsgLength) {
				c.logger.Debugf("Dropped oversized datagram, %d bytes", len(b))
				continue
			}
			if err != nil {
				c.logger.Debugf("Write datagram: %v", err)
				c.Close()
				return
			}
		case <-c.closing:
			return
		}
	}
}
