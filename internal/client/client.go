package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/abcdlsj/cr"
	"github.com/jpillora/backoff"

	"github.com/abcdlsj/tele/internal/config"
	"github.com/abcdlsj/tele/internal/conn"
	"github.com/abcdlsj/tele/internal/dgram"
	"github.com/abcdlsj/tele/internal/logger"
	"github.com/abcdlsj/tele/internal/pio"
	"github.com/abcdlsj/tele/internal/pipe"
	"github.com/abcdlsj/tele/internal/proto"
	"github.com/abcdlsj/tele/internal/share"
	"github.com/abcdlsj/tele/internal/stats"
	"github.com/abcdlsj/tele/internal/tunnel"
)

const (
	openTimeout   = 10 * time.Second
	statsInterval = 30 * time.Second
)

var ErrServiceRejected = errors.New("service rejected")

type Client struct {
	cfg      config.Client
	dialer   tunnel.Dialer
	handles  *conn.HandleMap
	proxyers []*Proxyer
	logger   *logger.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// Proxyer serves one configured proxy on its local address.
type Proxyer struct {
	cfg    config.Proxy
	label  string
	limit  int
	stats  *stats.Stats
	client *Client
	logger *logger.Logger

	ln      net.Listener
	udpAddr atomic.Pointer[net.UDPAddr]
	wg      sync.WaitGroup
}

func New(cfg config.Client) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer, err := tunnel.NewDialer(cfg.Transport, cfg.ServerAddr, cfg.Token)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		dialer:  dialer,
		handles: conn.NewHandleMap(),
		logger:  logger.New("CLIENT"),
		closing: make(chan struct{}),
	}

	for i, p := range cfg.Proxies {
		pxy := &Proxyer{
			cfg:    p,
			label:  p.Label(i),
			stats:  stats.New(),
			client: c,
			logger: logger.New(fmt.Sprintf("%s [%s]", strings.ToUpper(p.Type), p.Label(i))),
		}
		if p.SpeedLimit != "" {
			if pxy.limit, err = pio.ParseLimit(p.SpeedLimit); err != nil {
				return nil, err
			}
		}
		c.proxyers = append(c.proxyers, pxy)
	}

	return c, nil
}

func (c *Client) Proxyers() []*Proxyer {
	return c.proxyers
}

// Start binds every proxy's local address, a failure stops the ones
// already started.
func (c *Client) Start() error {
	for _, p := range c.proxyers {
		if err := p.start(); err != nil {
			c.Close()
			return fmt.Errorf("proxy %s: %w", p.cfg.Local, err)
		}
	}
	go c.reportStats()
	return nil
}

func (c *Client) Run() error {
	c.printMetaInfo()
	if err := c.Start(); err != nil {
		return err
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	c.logger.Info("Press Ctrl+C to shutdown")
	c.logger.Infof("Receive signal %s to shutdown", <-sc)

	c.Close()
	c.logger.Info("Shutdown success")
	return nil
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closing)
		for _, p := range c.proxyers {
			p.stop()
		}
		c.handles.CloseAll()
		for _, p := range c.proxyers {
			p.wg.Wait()
		}
		// pipes added by accepts that raced with shutdown
		c.handles.CloseAll()
		c.dialer.Close()
	})
}

func (c *Client) reportStats() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, p := range c.proxyers {
				p.logger.Debugf("Stats %s", p.stats)
			}
		case <-c.closing:
			return
		}
	}
}

// open dials a tunnel and asks the server for the proxy's service.
func (c *Client) open(p config.Proxy) (net.Conn, error) {
	tc, err := c.dialer.Open()
	if err != nil {
		return nil, fmt.Errorf("open tunnel: %w", err)
	}

	tc.SetDeadline(time.Now().Add(openTimeout))
	if err := proto.Send(tc, proto.NewMsgOpen(p.Service, p.Type)); err != nil {
		tc.Close()
		return nil, fmt.Errorf("send open msg: %w", err)
	}

	resp := &proto.MsgOpenResp{}
	if err := proto.Recv(tc, resp); err != nil {
		tc.Close()
		return nil, fmt.Errorf("recv open resp: %w", err)
	}
	tc.SetDeadline(time.Time{})

	if resp.Status != proto.StatusSuccess {
		tc.Close()
		return nil, fmt.Errorf("%w: %s %s", ErrServiceRejected, p.Service, resp.Reason)
	}
	return tc, nil
}

func (p *Proxyer) Stats() *stats.Stats {
	return p.stats
}

// Addr is the bound local address, nil before Start.
func (p *Proxyer) Addr() net.Addr {
	if p.ln != nil {
		return p.ln.Addr()
	}
	if a := p.udpAddr.Load(); a != nil {
		return a
	}
	return nil
}

func (p *Proxyer) options() pipe.Options {
	return pipe.Options{
		Debug:      p.client.cfg.Debug,
		SpeedLimit: p.limit,
		Logger:     p.logger,
	}
}

func (p *Proxyer) start() error {
	if p.cfg.Type == config.TypeUDP {
		// the first endpoint binds now so a taken port fails Start
		ep, err := p.bind()
		if err != nil {
			return err
		}
		p.udpAddr.Store(ep.ServerAddr())
		p.wg.Add(1)
		go p.runUDP(ep)
		return nil
	}

	ln, err := net.Listen("tcp", p.cfg.Local)
	if err != nil {
		return err
	}
	p.ln = ln
	p.logger.Infof("Listening on %s for service %s", ln.Addr(), p.cfg.Service)

	p.wg.Add(1)
	go p.runTCP()
	return nil
}

func (p *Proxyer) stop() {
	if p.ln != nil {
		p.ln.Close()
	}
}

func (p *Proxyer) runTCP() {
	defer p.wg.Done()

	for {
		lc, err := p.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				p.logger.Errorf("Error accepting: %v", err)
			}
			return
		}

		p.logger.Debugf("Accept local connection: %s", lc.RemoteAddr())
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.serveTCP(lc)
		}()
	}
}

func (p *Proxyer) serveTCP(lc net.Conn) {
	tc, err := p.client.open(p.cfg)
	if err != nil {
		p.logger.Warnf("Error opening tunnel: %v", err)
		p.stats.Reject()
		lc.Close()
		return
	}

	h := pipe.NewStream(tc, func() pipe.Resolution[io.ReadWriteCloser] {
		return pipe.Resolved[io.ReadWriteCloser](lc)
	}, p.options(), p.stats)
	p.client.handles.Add(p.label, h)
}

func (p *Proxyer) bind() (*dgram.Endpoint, error) {
	host, port, err := net.SplitHostPort(p.cfg.Local)
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return nil, err
	}
	return dgram.New(dgram.Options{Bind: true, Host: host, Port: n, Logger: p.logger})
}

// runUDP keeps one datagram pipe up for the proxy, building a fresh
// endpoint and tunnel after each teardown.
func (p *Proxyer) runUDP(ep *dgram.Endpoint) {
	defer p.wg.Done()

	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		if ep == nil {
			var err error
			if ep, err = p.bind(); err != nil {
				p.logger.Errorf("Error binding %s: %v", p.cfg.Local, err)
				if !p.wait(b.Duration()) {
					return
				}
				continue
			}
		}
		p.udpAddr.Store(ep.ServerAddr())

		tc, err := p.client.open(p.cfg)
		if err != nil {
			p.logger.Warnf("Error opening tunnel: %v", err)
			p.stats.Reject()
			if !p.wait(b.Duration()) {
				ep.Close()
				return
			}
			continue
		}

		bound := ep
		h := pipe.NewDatagram(tunnel.NewStreamMessageConn(tc), func() pipe.Resolution[pipe.Endpoint] {
			return pipe.Resolved[pipe.Endpoint](bound)
		}, p.options(), p.stats)
		p.client.handles.Add(p.label, h)
		p.logger.Infof("Forwarding datagrams on %s to service %s", ep.ServerAddr(), p.cfg.Service)
		ep = nil
		b.Reset()

		select {
		case <-h.Done():
			p.logger.Warnf("Datagram pipe closed: %v, recreating", h.Err())
		case <-p.client.closing:
			h.Close()
			<-h.Done()
			return
		}
		if !p.wait(b.Duration()) {
			return
		}
	}
}

func (p *Proxyer) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-p.client.closing:
		return false
	}
}

func (c *Client) printMetaInfo() {
	fmt.Println("---")
	fmt.Println(cr.PLBlue("Tele Client"))
	fmt.Printf("Version: %s\n", share.GetVersion())
	fmt.Printf("Server Address: %s\n", c.cfg.ServerAddr)
	fmt.Printf("Transport: %s\n", c.cfg.Transport)
	fmt.Printf("Token Authentication: %v\n", c.cfg.Token != "")
	fmt.Println("Proxies:")
	for i, p := range c.cfg.Proxies {
		fmt.Printf("  - Name: %s\n", p.Label(i))
		fmt.Printf("    Type: %s\n", p.Type)
		fmt.Printf("    Local: %s\n", p.Local)
		fmt.Printf("    Service: %s\n", p.Service)
		fmt.Printf("    Speed Limit: %s\n", getValueOrEmpty(p.SpeedLimit))
	}
	fmt.Println("---")
}

func getValueOrEmpty(s string) string {
	if s == "" {
		return "<empty>"
	}
	return s
}
