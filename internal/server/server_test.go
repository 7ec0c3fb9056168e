package server

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abcdlsj/tele/internal/config"
	"github.com/abcdlsj/tele/internal/echo"
	"github.com/abcdlsj/tele/internal/proto"
	"github.com/abcdlsj/tele/internal/tunnel"
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

func startServer(t *testing.T, services map[string]config.Service) *Server {
	t.Helper()
	cfg := config.DefaultServer()
	cfg.Addr = "127.0.0.1:0"
	cfg.Token = "secret"
	cfg.Services = services

	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func open(t *testing.T, s *Server, service, typ string) (net.Conn, *proto.MsgOpenResp) {
	t.Helper()
	c, err := tunnel.NewTCPDialer(s.Addr().String(), "secret").Open()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })

	if err := proto.Send(c, proto.NewMsgOpen(service, typ)); err != nil {
		t.Fatal(err)
	}
	resp := &proto.MsgOpenResp{}
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := proto.Recv(c, resp); err != nil {
		t.Fatal(err)
	}
	c.SetReadDeadline(time.Time{})
	return c, resp
}

func TestServeTCPService(t *testing.T) {
	s := startServer(t, map[string]config.Service{
		"echo": {Type: config.TypeTCP, Target: echoTCP(t)},
	})

	c, resp := open(t, s, "echo", config.TypeTCP)
	if resp.Status != proto.StatusSuccess {
		t.Fatalf("status = %s (%s)", resp.Status, resp.Reason)
	}

	if _, err := c.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.ReadFull(c, buf); err != nil || string(buf) != "hello" {
		t.Fatalf("read %q, %v", buf, err)
	}

	if got := s.services["echo"].stats.LocalCount(); got != 1 {
		t.Fatalf("local count = %d", got)
	}
}

func TestServeUDPService(t *testing.T) {
	s := startServer(t, map[string]config.Service{
		"dns": {Type: config.TypeUDP, Target: echoUDP(t)},
	})

	c, resp := open(t, s, "dns", config.TypeUDP)
	if resp.Status != proto.StatusSuccess {
		t.Fatalf("status = %s (%s)", resp.Status, resp.Reason)
	}

	if err := proto.SendDatagram(c, []byte("query")); err != nil {
		t.Fatal(err)
	}
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	got, err := proto.RecvDatagram(c)
	if err != nil || string(got) != "query" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestRejectUnreachableTarget(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := ln.Addr().String()
	ln.Close()

	s := startServer(t, map[string]config.Service{
		"gone": {Type: config.TypeTCP, Target: dead},
	})

	c, resp := open(t, s, "gone", config.TypeTCP)
	if resp.Status != proto.StatusRejected || resp.Reason == "" {
		t.Fatalf("resp = %+v", resp)
	}

	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := c.Read(make([]byte, 1)); err == nil {
		t.Fatal("tunnel not closed after reject")
	}

	deadline := time.Now().Add(time.Second)
	for s.services["gone"].stats.RejectCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("reject count = %d", s.services["gone"].stats.RejectCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRejectUnknownService(t *testing.T) {
	s := startServer(t, map[string]config.Service{
		"echo": {Type: config.TypeTCP, Target: echoTCP(t)},
	})

	if _, resp := open(t, s, "nope", config.TypeTCP); resp.Status != proto.StatusRejected {
		t.Fatalf("status = %s", resp.Status)
	}
	if _, resp := open(t, s, "echo", config.TypeUDP); resp.Status != proto.StatusRejected {
		t.Fatalf("type mismatch status = %s", resp.Status)
	}
}

func TestAdminStats(t *testing.T) {
	s := startServer(t, map[string]config.Service{
		"echo": {Type: config.TypeTCP, Target: echoTCP(t)},
	})
	c, _ := open(t, s, "echo", config.TypeTCP)
	defer c.Close()

	deadline := time.Now().Add(time.Second)
	for s.handles.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("pipe not tracked")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := httptest.NewRecorder()
	s.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	var resp StatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Services) != 1 || resp.Services[0].Name != "echo" || resp.Services[0].Stats.LocalCount != 1 {
		t.Fatalf("services = %+v", resp.Services)
	}
	if len(resp.Pipes) != 1 || resp.Pipes[0].Kind != "TCP" {
		t.Fatalf("pipes = %+v", resp.Pipes)
	}

	rec = httptest.NewRecorder()
	s.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST code = %d", rec.Code)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(config.DefaultServer()); err == nil {
		t.Fatal("config without services accepted")
	}
}
