// Package echo serves tcp and udp echo services, handy as tele targets.
package echo

import (
	"errors"
	"io"
	"net"
)

// ServeTCP echoes every accepted connection until ln is closed. A client
// half-close is answered by closing the connection once all data is back.
func ServeTCP(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		go func() {
			defer c.Close()
			io.Copy(c, c)
		}()
	}
}

// ServeUDP answers each datagram with reply(payload) sent to its sender.
// A nil reply echoes the payload unchanged.
func ServeUDP(pc net.PacketConn, reply func([]byte) []byte) error {
	buf := make([]byte, 65535)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		resp := buf[:n]
		if reply != nil {
			resp = reply(resp)
		}
		pc.WriteTo(resp, addr)
	}
}
