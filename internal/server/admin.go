package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/jpillora/requestlog"

	"github.com/abcdlsj/tele/internal/conn"
	"github.com/abcdlsj/tele/internal/logger"
	"github.com/abcdlsj/tele/internal/share"
	"github.com/abcdlsj/tele/internal/stats"
)

type ServiceStats struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Target string         `json:"target"`
	Stats  stats.Snapshot `json:"stats"`
}

type StatsResponse struct {
	Version  string         `json:"version"`
	Services []ServiceStats `json:"services"`
	Pipes    []conn.Info    `json:"pipes"`
}

func (s *Server) Stats() StatsResponse {
	resp := StatsResponse{
		Version:  share.GetVersion(),
		Services: make([]ServiceStats, 0, len(s.services)),
		Pipes:    s.handles.List(),
	}
	for _, svc := range s.services {
		resp.Services = append(resp.Services, ServiceStats{
			Name:   svc.name,
			Type:   svc.cfg.Type,
			Target: svc.cfg.Target,
			Stats:  svc.stats.Snapshot(),
		})
	}
	sort.Slice(resp.Services, func(i, j int) bool {
		return resp.Services[i].Name < resp.Services[j].Name
	})
	return resp
}

// AdminHandler serves GET /stats, each request is access logged.
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
			s.logger.Warnf("Error writing stats: %v", err)
		}
	})
	return requestlog.Wrap(mux)
}

type adminServer struct {
	addr string
	srv  *http.Server
}

func newAdminServer(addr string, h http.Handler) *adminServer {
	return &adminServer{
		addr: addr,
		srv:  &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second},
	}
}

func (a *adminServer) start() error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}
	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Admin server error: %v", err)
		}
	}()
	return nil
}

func (a *adminServer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	a.srv.Shutdown(ctx)
}
