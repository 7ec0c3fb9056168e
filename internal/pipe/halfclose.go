package pipe

import "io"

// WriteHalfCloser is implemented by streams that can signal end-of-stream
// while still reading, like *net.TCPConn.
type WriteHalfCloser interface {
	CloseWrite() error
}

// closeWrite ends the write half of c. It reports false when c cannot
// half-close, the caller then has to tear the whole pipe down.
func closeWrite(c io.Closer) bool {
	if cw, ok := c.(WriteHalfCloser); ok {
		_ = cw.CloseWrite()
		return true
	}
	return false
}

// shutdown is the end-then-destroy sequence, errors are swallowed.
func shutdown(c io.Closer) {
	if c == nil {
		return
	}
	closeWrite(c)
	_ = c.Close()
}
