package pipe

import (
	"io"
	"sync/atomic"

	"github.com/abcdlsj/tele/internal/pio"
	"github.com/abcdlsj/tele/internal/stats"
)

type streamPipe struct {
	*Handle
	tunnel io.ReadWriteCloser
	local  io.ReadWriteCloser

	// ended counts directions that saw a clean end-of-stream.
	ended atomic.Int32
}

// NewStream bridges a tunnel byte stream to the destination returned by
// resolve. resolve is called once, before NewStream returns.
//
// A reject closes tunnel and bumps the reject counter. Otherwise bytes are
// copied both ways until teardown: an end-of-stream on one side half-closes
// the other, any error closes both.
func NewStream(tunnel io.ReadWriteCloser, resolve StreamResolver, opts Options, st *stats.Stats) *Handle {
	p := &streamPipe{
		Handle: newHandle("TCP", opts, st),
		tunnel: tunnel,
	}

	local, ok := resolve().Destination()
	if !ok {
		p.reject(tunnel)
		return p.Handle
	}

	if opts.SpeedLimit > 0 {
		local = pio.NewLimitReadWriter(local, opts.SpeedLimit)
	}
	p.local = local

	if !p.bridge(p.release) {
		shutdown(local)
		return p.Handle
	}

	if opts.Debug {
		p.logger.Infof("Connected to local destination")
	}

	go p.forward(p.local, p.tunnel, p.stats.AddDown)
	go p.forward(p.tunnel, p.local, p.stats.AddUp)

	return p.Handle
}

func (p *streamPipe) forward(dst, src io.ReadWriteCloser, traffic func(int64)) {
	n, err := copyBuffer(dst, src, traffic)
	if err != nil {
		p.logger.Debugf("Forward stopped after %d bytes: %v", n, err)
		p.destroy(err)
		return
	}

	p.logger.Debugf("Source ended after %d bytes, half-closing", n)
	if !closeWrite(dst) {
		p.destroy(nil)
		return
	}

	if p.ended.Add(1) == 2 {
		p.destroy(nil)
	}
}

func (p *streamPipe) release() {
	shutdown(p.tunnel)
	shutdown(p.local)
}
