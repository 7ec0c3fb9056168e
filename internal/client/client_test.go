package client

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/abcdlsj/tele/internal/config"
	"github.com/abcdlsj/tele/internal/echo"
	"github.com/abcdlsj/tele/internal/server"
)

func echoTCP(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go echo.ServeTCP(ln)
	return ln.Addr().String()
}

func echoUDP(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })
	go echo.ServeUDP(pc, nil)
	return pc.LocalAddr().String()
}

func startServer(t *testing.T, transport string) string {
	t.Helper()
	cfg := config.DefaultServer()
	cfg.Addr = "127.0.0.1:0"
	cfg.Token = "secret"
	cfg.Transport = transport
	cfg.Services = map[string]config.Service{
		"echo": {Type: config.TypeTCP, Target: echoTCP(t)},
		"dns":  {Type: config.TypeUDP, Target: echoUDP(t)},
	}

	s, err := server.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s.Addr().String()
}

func startClient(t *testing.T, transport, addr string, proxies ...config.Proxy) *Client {
	t.Helper()
	cfg := config.DefaultClient()
	cfg.ServerAddr = addr
	cfg.Token = "secret"
	cfg.Transport = transport
	cfg.Proxies = proxies

	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestTCPProxy(t *testing.T) {
	for _, transport := range []string{"tcp", "mux", "ws"} {
		t.Run(transport, func(t *testing.T) {
			addr := startServer(t, transport)
			c := startClient(t, transport, addr, config.Proxy{
				Name: "echo", Type: config.TypeTCP, Service: "echo", Local: "127.0.0.1:0",
			})

			for i := 0; i < 3; i++ {
				lc, err := net.Dial("tcp", c.Proxyers()[0].Addr().String())
				if err != nil {
					t.Fatal(err)
				}

				if _, err := lc.Write([]byte("hello")); err != nil {
					t.Fatal(err)
				}
				buf := make([]byte, 5)
				lc.SetReadDeadline(time.Now().Add(3 * time.Second))
				if _, err := io.ReadFull(lc, buf); err != nil || string(buf) != "hello" {
					t.Fatalf("read %q, %v", buf, err)
				}
				lc.Close()
			}
		})
	}
}

func TestTCPProxyHalfClose(t *testing.T) {
	addr := startServer(t, "tcp")
	c := startClient(t, "tcp", addr, config.Proxy{
		Type: config.TypeTCP, Service: "echo", Local: "127.0.0.1:0",
	})

	lc, err := net.Dial("tcp", c.Proxyers()[0].Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer lc.Close()

	if _, err := lc.Write([]byte("last words")); err != nil {
		t.Fatal(err)
	}
	if err := lc.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatal(err)
	}

	lc.SetReadDeadline(time.Now().Add(3 * time.Second))
	got, err := io.ReadAll(lc)
	if err != nil || string(got) != "last words" {
		t.Fatalf("read %q, %v", got, err)
	}
}

func TestUDPProxy(t *testing.T) {
	addr := startServer(t, "tcp")
	c := startClient(t, "tcp", addr, config.Proxy{
		Name: "dns", Type: config.TypeUDP, Service: "dns", Local: "127.0.0.1:0",
	})

	local := c.Proxyers()[0].Addr().(*net.UDPAddr)
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer peer.Close()

	buf := make([]byte, 1500)
	for _, q := range []string{"a.example", "b.example"} {
		if _, err := peer.WriteToUDP([]byte(q), local); err != nil {
			t.Fatal(err)
		}
		peer.SetReadDeadline(time.Now().Add(3 * time.Second))
		n, from, err := peer.ReadFromUDP(buf)
		if err != nil {
			t.Fatal(err)
		}
		if string(buf[:n]) != q {
			t.Fatalf("got %q, want %q", buf[:n], q)
		}
		if from.Port != local.Port {
			t.Fatalf("reply from %v, want %v", from, local)
		}
	}
}

func TestRejectedService(t *testing.T) {
	addr := startServer(t, "tcp")
	c := startClient(t, "tcp", addr, config.Proxy{
		Type: config.TypeTCP, Service: "missing", Local: "127.0.0.1:0",
	})
	p := c.Proxyers()[0]

	lc, err := net.Dial("tcp", p.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer lc.Close()

	lc.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := lc.Read(make([]byte, 1)); err == nil {
		t.Fatal("local connection not closed")
	}

	deadline := time.Now().Add(time.Second)
	for p.Stats().RejectCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("reject count = %d", p.Stats().RejectCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCloseReleasesLocal(t *testing.T) {
	addr := startServer(t, "mux")
	c := startClient(t, "mux", addr,
		config.Proxy{Type: config.TypeTCP, Service: "echo", Local: "127.0.0.1:0"},
		config.Proxy{Type: config.TypeUDP, Service: "dns", Local: "127.0.0.1:0"},
	)
	tcpAddr := c.Proxyers()[0].Addr().String()
	udpAddr := c.Proxyers()[1].Addr().(*net.UDPAddr)

	lc, err := net.Dial("tcp", tcpAddr)
	if err != nil {
		t.Fatal(err)
	}
	defer lc.Close()

	c.Close()
	c.Close()

	lc.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := lc.Read(make([]byte, 1)); err == nil {
		t.Fatal("open pipe survived Close")
	}
	if _, err := net.Dial("tcp", tcpAddr); err == nil {
		t.Fatal("tcp proxy still listening")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		pc, err := net.ListenUDP("udp", udpAddr)
		if err == nil {
			pc.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("udp port not released: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(config.DefaultClient()); err == nil {
		t.Fatal("config without proxies accepted")
	}
}
