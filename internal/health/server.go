// Package health exposes a small liveness endpoint for process supervisors.
package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Olwiba/KoruClub/internal/ledger"
	"github.com/Olwiba/KoruClub/internal/scheduler"
	"github.com/Olwiba/KoruClub/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8090"
	}
	return c
}

// Server manages lifecycle for the health HTTP listener.
type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	srv  *http.Server
	ln   net.Listener
	addr string

	core   *scheduler.Core
	ledger *ledger.Store
}

func NewServer(core *scheduler.Core, led *ledger.Store, log logx.Logger) *Server {
	return &Server{core: core, ledger: led, log: log.With(logx.String("comp", "health"))}
}

// Apply starts or stops the listener according to cfg. Safe during
// config hot-reload.
func (s *Server) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return
	}
	if s.srv != nil && s.addr == cfg.Addr {
		return
	}
	s.stopLocked(ctx)
	s.startLocked(cfg)
}

func (s *Server) startLocked(cfg Config) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		s.log.Warn("health listen failed", logx.String("addr", cfg.Addr), logx.Err(err))
		return
	}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Warn("health server error", logx.Err(err))
		}
	}()
	s.log.Info("health endpoint enabled", logx.String("addr", s.addr))
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.addr = ""

	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("health shutdown error", logx.Err(err))
	}
}

type healthzBody struct {
	Status         string     `json:"status"`
	SchedulerState string     `json:"scheduler_state"`
	LastHeartbeat  *time.Time `json:"last_heartbeat,omitempty"`
	MissedJobs     int        `json:"missed_jobs"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := healthzBody{
		Status:         "ok",
		SchedulerState: s.core.State().String(),
		MissedJobs:     len(s.core.MissedJobs()),
	}
	if state, err := s.ledger.GetState(ctx); err != nil {
		body.Status = "degraded"
	} else if state != nil {
		hb := state.LastHeartbeat
		body.LastHeartbeat = &hb
	}

	w.Header().Set("Content-Type", "application/json")
	if body.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}
