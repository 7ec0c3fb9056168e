// Command echo runs tcp and udp echo services to try tele against, e.g.
//
//	tele server -s echo=tcp:127.0.0.1:3000 -s stamp=udp:127.0.0.1:3000
package main

import (
	"flag"
	"fmt"
	"net"
	"time"

	"github.com/abcdlsj/tele/internal/echo"
	"github.com/abcdlsj/tele/internal/logger"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:3000", "tcp and udp listen addr")
	flag.Parse()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatalf("Error listening tcp: %v", err)
	}
	pc, err := net.ListenPacket("udp", *addr)
	if err != nil {
		logger.Fatalf("Error listening udp: %v", err)
	}

	logger.Infof("Echo on %s (tcp, udp)", *addr)
	go func() {
		if err := echo.ServeTCP(ln); err != nil {
			logger.Fatalf("TCP echo: %v", err)
		}
	}()

	err = echo.ServeUDP(pc, func(b []byte) []byte {
		return []byte(fmt.Sprintf("time: %v, message: %s", time.Now().Format(time.ANSIC), b))
	})
	if err != nil {
		logger.Fatalf("UDP echo: %v", err)
	}
}
