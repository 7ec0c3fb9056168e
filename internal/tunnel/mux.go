package tunnel

import (
	"io"
	"time"

	"github.com/hashicorp/yamux"
)

// yamux streams have no half-close: Close sends FIN and also ends the local
// read side, so pipes over mux and ws tear down on the first end.
func muxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = io.Discard
	cfg.StreamCloseTimeout = 30 * time.Second
	return cfg
}
