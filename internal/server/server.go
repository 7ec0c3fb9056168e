package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/abcdlsj/cr"

	"github.com/abcdlsj/tele/internal/auth"
	"github.com/abcdlsj/tele/internal/config"
	"github.com/abcdlsj/tele/internal/conn"
	"github.com/abcdlsj/tele/internal/dgram"
	"github.com/abcdlsj/tele/internal/logger"
	"github.com/abcdlsj/tele/internal/pio"
	"github.com/abcdlsj/tele/internal/pipe"
	"github.com/abcdlsj/tele/internal/proto"
	"github.com/abcdlsj/tele/internal/share"
	"github.com/abcdlsj/tele/internal/stats"
	"github.com/abcdlsj/tele/internal/terminal"
	"github.com/abcdlsj/tele/internal/tunnel"
)

const (
	openTimeout = 10 * time.Second
	dialTimeout = 10 * time.Second
)

type service struct {
	name  string
	cfg   config.Service
	limit int
	stats *stats.Stats
}

type Server struct {
	cfg      config.Server
	services map[string]*service
	handles  *conn.HandleMap
	logger   *logger.Logger

	ln    *tunnel.Listener
	admin *adminServer
}

func New(cfg config.Server) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	services := make(map[string]*service, len(cfg.Services))
	for name, svc := range cfg.Services {
		s := &service{name: name, cfg: svc, stats: stats.New()}
		if svc.SpeedLimit != "" {
			limit, err := pio.ParseLimit(svc.SpeedLimit)
			if err != nil {
				return nil, fmt.Errorf("service %q: %w", name, err)
			}
			s.limit = limit
		}
		services[name] = s
	}

	return &Server{
		cfg:      cfg,
		services: services,
		handles:  conn.NewHandleMap(),
		logger:   logger.New("SERVER"),
	}, nil
}

// Start listens for tunnels and, when admin-port is set, serves /stats.
func (s *Server) Start() error {
	ln, err := tunnel.Listen(s.cfg.Transport, s.cfg.Addr, auth.New(s.cfg.Token))
	if err != nil {
		return fmt.Errorf("error listening: %w", err)
	}
	s.ln = ln
	s.logger.Infof("Server listen on %s, transport: %s", ln.Addr(), s.cfg.Transport)

	if s.cfg.AdminPort != 0 {
		s.admin = newAdminServer(":"+strconv.Itoa(s.cfg.AdminPort), s.AdminHandler())
		if err := s.admin.start(); err != nil {
			ln.Close()
			return err
		}
		s.logger.Infof("Admin server started on port %d", s.cfg.AdminPort)
	}

	go s.serve()
	return nil
}

// Run starts the server and blocks until a shutdown signal.
func (s *Server) Run() error {
	s.printMetaInfo()
	if err := s.Start(); err != nil {
		return err
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	s.logger.Infof("Receive signal %s to shutdown", <-sc)

	s.Close()
	s.logger.Info("Shutdown success")
	return nil
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) Close() {
	if s.ln != nil {
		s.ln.Close()
	}
	if s.admin != nil {
		s.admin.close()
	}
	s.handles.CloseAll()
}

func (s *Server) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Errorf("Error accepting: %v", err)
			}
			return
		}

		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	c.SetReadDeadline(time.Now().Add(openTimeout))
	msg := &proto.MsgOpen{}
	if err := proto.Recv(c, msg); err != nil {
		s.logger.Warnf("Error reading open msg from %s: %v", c.RemoteAddr(), err)
		c.Close()
		return
	}
	c.SetReadDeadline(time.Time{})

	svc, ok := s.services[msg.Service]
	if !ok || svc.cfg.Type != msg.ProxyType {
		s.logger.Warnf("Reject open for unknown service %q (%s)", msg.Service, msg.ProxyType)
		proto.Send(c, proto.NewMsgOpenResp(proto.StatusRejected, "unknown service"))
		c.Close()
		return
	}

	nlogger := s.logger.CloneAdd(svc.name)
	opts := pipe.Options{
		Debug:      s.cfg.Debug,
		SpeedLimit: svc.limit,
		Logger:     nlogger,
	}

	var h *pipe.Handle
	switch svc.cfg.Type {
	case config.TypeTCP:
		dst, err := net.DialTimeout("tcp", svc.cfg.Target, dialTimeout)
		if !s.reply(c, err, nlogger) {
			if dst != nil {
				dst.Close()
			}
			return
		}
		h = pipe.NewStream(c, func() pipe.Resolution[io.ReadWriteCloser] {
			return pipe.ResolveStream(dst, err)
		}, opts, svc.stats)
	case config.TypeUDP:
		ep, err := newUDPEndpoint(svc.cfg.Target, nlogger)
		if !s.reply(c, err, nlogger) {
			if ep != nil {
				ep.Close()
			}
			return
		}
		h = pipe.NewDatagram(tunnel.NewStreamMessageConn(c), func() pipe.Resolution[pipe.Endpoint] {
			if err != nil {
				return pipe.Rejected[pipe.Endpoint]()
			}
			return pipe.Resolved[pipe.Endpoint](ep)
		}, opts, svc.stats)
	default:
		c.Close()
		return
	}

	s.handles.Add(svc.name, h)
}

// reply tells the client how the destination resolved. A rejected
// destination still goes through the pipe so it is counted.
func (s *Server) reply(c net.Conn, resolveErr error, l *logger.Logger) bool {
	resp := proto.NewMsgOpenResp(proto.StatusSuccess, "")
	if resolveErr != nil {
		l.Warnf("Destination unavailable: %v", resolveErr)
		resp = proto.NewMsgOpenResp(proto.StatusRejected, resolveErr.Error())
	}

	if err := proto.Send(c, resp); err != nil {
		l.Warnf("Error sending open resp: %v", err)
		c.Close()
		return false
	}
	return true
}

func newUDPEndpoint(target string, l *logger.Logger) (*dgram.Endpoint, error) {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		return nil, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, err
	}
	return dgram.New(dgram.Options{Host: host, Port: p, Logger: l})
}

func (s *Server) printMetaInfo() {
	fmt.Println("---")
	fmt.Println(cr.PLBlue("Tele Server"))
	fmt.Printf("Version: %s\n", share.GetVersion())
	fmt.Printf("Listen Address: %s\n", s.cfg.Addr)
	fmt.Printf("Transport: %s\n", s.cfg.Transport)
	fmt.Printf("Token Authentication: %v\n", s.cfg.Token != "")
	if s.cfg.AdminPort != 0 {
		fmt.Printf("Admin: %s\n", terminal.AdminLink(":"+strconv.Itoa(s.cfg.AdminPort)))
	}
	fmt.Println("Services:")
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		svc := s.services[name].cfg
		fmt.Printf("  - Name: %s\n", name)
		fmt.Printf("    Type: %s\n", svc.Type)
		fmt.Printf("    Target: %s\n", svc.Target)
		if svc.SpeedLimit != "" {
			fmt.Printf("    Speed Limit: %s\n", svc.SpeedLimit)
		}
	}
	fmt.Println("---")
}
