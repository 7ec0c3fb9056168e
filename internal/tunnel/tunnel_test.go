package tunnel

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/abcdlsj/tele/internal/auth"
	"github.com/abcdlsj/tele/internal/proto"
)

func listen(t *testing.T, transport, token string) *Listener {
	t.Helper()
	l, err := Listen(transport, "127.0.0.1:0", auth.New(token))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func accept(t *testing.T, l *Listener) net.Conn {
	t.Helper()
	ch := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			ch <- nil
			return
		}
		ch <- c
	}()
	select {
	case c := <-ch:
		if c == nil {
			t.Fatal("accept failed")
		}
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("accept timed out")
	}
	return nil
}

func TestTransportsRoundTrip(t *testing.T) {
	for _, transport := range []string{TransportTCP, TransportMux, TransportWS} {
		t.Run(transport, func(t *testing.T) {
			l := listen(t, transport, "secret")
			d, err := NewDialer(transport, l.Addr().String(), "secret")
			if err != nil {
				t.Fatal(err)
			}
			defer d.Close()

			for i := 0; i < 2; i++ {
				c, err := d.Open()
				if err != nil {
					t.Fatal(err)
				}
				defer c.Close()

				srv := accept(t, l)
				if err := proto.Send(c, proto.NewMsgOpen("echo", "tcp")); err != nil {
					t.Fatal(err)
				}
				msg := &proto.MsgOpen{}
				if err := proto.Recv(srv, msg); err != nil {
					t.Fatal(err)
				}
				if msg.Service != "echo" {
					t.Fatalf("service = %q", msg.Service)
				}
			}
		})
	}
}

func TestLoginRejected(t *testing.T) {
	l := listen(t, TransportTCP, "secret")
	d := NewTCPDialer(l.Addr().String(), "wrong")

	_, err := d.Open()
	if !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestUnknownTransport(t *testing.T) {
	if _, err := NewDialer("quic", "127.0.0.1:1", ""); err == nil {
		t.Fatal("expected error for dialer")
	}
	if _, err := Listen("quic", "127.0.0.1:0", auth.New("")); err == nil {
		t.Fatal("expected error for listener")
	}
}

func TestListenerCloseUnblocksAccept(t *testing.T) {
	l, err := Listen(TransportMux, "127.0.0.1:0", auth.New(""))
	if err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		errc <- err
	}()
	l.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, net.ErrClosed) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accept still blocked")
	}
}

func TestMuxStreamClose(t *testing.T) {
	l := listen(t, TransportMux, "")
	d := NewMuxDialer(l.Addr().String(), "")
	defer d.Close()

	c, err := d.Open()
	if err != nil {
		t.Fatal(err)
	}
	srv := accept(t, l)

	if _, err := c.Write([]byte("bye")); err != nil {
		t.Fatal(err)
	}
	c.Close()

	got, err := io.ReadAll(srv)
	if err != nil || string(got) != "bye" {
		t.Fatalf("server read %q, %v", got, err)
	}
}

func TestMuxDialerRedial(t *testing.T) {
	l := listen(t, TransportMux, "")
	d := NewMuxDialer(l.Addr().String(), "")
	defer d.Close()

	c, err := d.Open()
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	d.mu.Lock()
	d.session.Close()
	d.mu.Unlock()

	c, err = d.Open()
	if err != nil {
		t.Fatalf("open after session loss: %v", err)
	}
	c.Close()
}

func TestMuxDialerCloseInterruptsRetry(t *testing.T) {
	d := newMuxDialer("", func() (net.Conn, error) {
		return nil, errors.New("connection refused")
	})
	d.backoff.Min = 5 * time.Second
	d.backoff.Max = 5 * time.Second

	errc := make(chan error, 1)
	go func() {
		_, err := d.Open()
		errc <- err
	}()
	time.Sleep(100 * time.Millisecond)

	st := time.Now()
	d.Close()
	if time.Since(st) > time.Second {
		t.Fatalf("close blocked behind the redial for %v", time.Since(st))
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrDialerClosed) {
			t.Fatalf("err = %v, want ErrDialerClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("open still waiting after close")
	}

	if _, err := d.Open(); !errors.Is(err, ErrDialerClosed) {
		t.Fatalf("open after close err = %v", err)
	}
}

func TestStreamMessageConn(t *testing.T) {
	a, b := net.Pipe()
	ca := NewStreamMessageConn(a)
	cb := NewStreamMessageConn(b)
	defer ca.Close()
	defer cb.Close()

	for _, m := range []string{"one", "two", ""} {
		if !ca.TrySend([]byte(m)) {
			t.Fatalf("send %q refused", m)
		}
	}
	for _, want := range []string{"one", "two", ""} {
		got, err := cb.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}

	// oversized datagrams are dropped, the stream keeps working
	if !ca.TrySend(make([]byte, proto.MaxPayload+1)) {
		t.Fatal("queue refused")
	}
	ca.TrySend([]byte("after"))
	got, err := cb.ReadMessage()
	if err != nil || string(got) != "after" {
		t.Fatalf("got %q, %v", got, err)
	}

	ca.Close()
	if ca.TrySend([]byte("x")) {
		t.Fatal("send after close accepted")
	}
	if _, err := cb.ReadMessage(); err == nil {
		t.Fatal("expected read error after peer close")
	}
}

func TestWSURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:8910":          "ws://127.0.0.1:8910/tele",
		"wss://example.com":       "wss://example.com/tele",
		"ws://example.com/custom": "ws://example.com/custom",
	}
	for in, want := range cases {
		if got := wsURL(in); got != want {
			t.Errorf("wsURL(%q) = %q, want %q", in, got, want)
		}
	}
}
