package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/abcdlsj/tele/internal/pio"
)

const (
	TypeTCP = "tcp"
	TypeUDP = "udp"

	envPrefix = "TELE_"
)

var ErrInvalidConfig = errors.New("invalid config")

type Server struct {
	Addr      string             `toml:"addr"`
	Token     string             `toml:"token"`
	Transport string             `toml:"transport"`
	AdminPort int                `toml:"admin-port"`
	Debug     bool               `toml:"debug"`
	Services  map[string]Service `toml:"services"`
}

// Service is a destination the server resolves pipes to.
type Service struct {
	Type       string `toml:"type"`
	Target     string `toml:"target"`
	SpeedLimit string `toml:"speed-limit"`
}

type Client struct {
	ServerAddr string  `toml:"server-addr"`
	Token      string  `toml:"token"`
	Transport  string  `toml:"transport"`
	Debug      bool    `toml:"debug"`
	Proxies    []Proxy `toml:"proxies"`
}

// Proxy exposes a remote service on a local address.
type Proxy struct {
	Name       string `toml:"name"`
	Type       string `toml:"type"`
	Service    string `toml:"service"`
	Local      string `toml:"local"`
	SpeedLimit string `toml:"speed-limit"`
}

func DefaultServer() Server {
	return Server{
		Addr:      ":8910",
		Transport: "tcp",
		Services:  map[string]Service{},
	}
}

func DefaultClient() Client {
	return Client{
		ServerAddr: "localhost:8910",
		Transport:  "tcp",
	}
}

// LoadServer reads path (when set) over the defaults, then applies TELE_*
// environment overrides.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Services == nil {
		cfg.Services = map[string]Service{}
	}

	envString("ADDR", &cfg.Addr)
	envString("TOKEN", &cfg.Token)
	envString("TRANSPORT", &cfg.Transport)
	if err := envInt("ADMIN_PORT", &cfg.AdminPort); err != nil {
		return cfg, err
	}
	if err := envBool("DEBUG", &cfg.Debug); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	envString("SERVER_ADDR", &cfg.ServerAddr)
	envString("TOKEN", &cfg.Token)
	envString("TRANSPORT", &cfg.Transport)
	if err := envBool("DEBUG", &cfg.Debug); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, v interface{}) error {
	if path == "" {
		return nil
	}

	md, err := toml.DecodeFile(path, v)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s%s=%q is not a number", ErrInvalidConfig, envPrefix, key, v)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%w: %s%s=%q is not a bool", ErrInvalidConfig, envPrefix, key, v)
	}
	*dst = b
	return nil
}

func (c *Server) Validate() error {
	if err := validTransport(c.Transport); err != nil {
		return err
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		return fmt.Errorf("%w: admin-port %d out of range", ErrInvalidConfig, c.AdminPort)
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("%w: no services configured", ErrInvalidConfig)
	}
	for name, svc := range c.Services {
		if err := svc.validate(); err != nil {
			return fmt.Errorf("service %q: %w", name, err)
		}
	}
	return nil
}

func (s Service) validate() error {
	if err := validType(s.Type); err != nil {
		return err
	}
	if err := validHostPort(s.Target); err != nil {
		return err
	}
	return validLimit(s.SpeedLimit)
}

func (c *Client) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("%w: server-addr is empty", ErrInvalidConfig)
	}
	if err := validTransport(c.Transport); err != nil {
		return err
	}
	if len(c.Proxies) == 0 {
		return fmt.Errorf("%w: no proxies configured", ErrInvalidConfig)
	}
	for i, p := range c.Proxies {
		if err := p.validate(); err != nil {
			return fmt.Errorf("proxy %s: %w", p.Label(i), err)
		}
	}
	return nil
}

// Label names the proxy in logs, falling back to its index.
func (p Proxy) Label(i int) string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("#%d", i)
}

func (p Proxy) validate() error {
	if err := validType(p.Type); err != nil {
		return err
	}
	if p.Service == "" {
		return fmt.Errorf("%w: service is empty", ErrInvalidConfig)
	}
	if err := validHostPort(p.Local); err != nil {
		return err
	}
	return validLimit(p.SpeedLimit)
}

func validTransport(t string) error {
	switch t {
	case "tcp", "mux", "ws":
		return nil
	}
	return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, t)
}

func validType(t string) error {
	switch t {
	case TypeTCP, TypeUDP:
		return nil
	}
	return fmt.Errorf("%w: unknown type %q", ErrInvalidConfig, t)
}

func validHostPort(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("%w: invalid port in %q", ErrInvalidConfig, addr)
	}
	return nil
}

func validLimit(s string) error {
	if s == "" {
		return nil
	}
	if _, err := pio.ParseLimit(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ParseService reads the flag form name=type:host:port.
func ParseService(s string) (string, Service, error) {
	name, rest, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return "", Service{}, fmt.Errorf("%w: service %q, want name=type:host:port", ErrInvalidConfig, s)
	}
	typ, target, ok := strings.Cut(rest, ":")
	if !ok {
		return "", Service{}, fmt.Errorf("%w: service %q, want name=type:host:port", ErrInvalidConfig, s)
	}
	svc := Service{Type: typ, Target: target}
	if err := svc.validate(); err != nil {
		return "", Service{}, err
	}
	return name, svc, nil
}

// ParseProxy reads the flag form type:host:port=service.
func ParseProxy(s string) (Proxy, error) {
	left, service, ok := strings.Cut(s, "=")
	if !ok {
		return Proxy{}, fmt.Errorf("%w: proxy %q, want type:host:port=service", ErrInvalidConfig, s)
	}
	typ, local, ok := strings.Cut(left, ":")
	if !ok {
		return Proxy{}, fmt.Errorf("%w: proxy %q, want type:host:port=service", ErrInvalidConfig, s)
	}
	p := Proxy{Name: service, Type: typ, Service: service, Local: local}
	if err := p.validate(); err != nil {
		return Proxy{}, err
	}
	return p, nil
}
