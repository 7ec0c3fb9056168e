package pipe

import (
	"errors"
	"io"
	"net"

	"github.com/hashicorp/yamux"
)

// ErrRejected is reported by Handle.Err when the resolver gave no destination.
var ErrRejected = errors.New("pipe: destination rejected")

// cleanClose reports errors that only mean the other side went away.
func cleanClose(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, yamux.ErrStreamClosed) ||
		errors.Is(err, yamux.ErrSessionShutdown)
}

func normalize(err error) error {
	if cleanClose(err) {
		return nil
	}
	return err
}
