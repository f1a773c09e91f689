// Package httpapi is the control surface: a small HTTP API that reports
// status and forwards manual play, stop and volume requests to the engine.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"schoolbell/internal/bell"
	"schoolbell/internal/clock"
	logx "schoolbell/pkg/logx"
)

const (
	DefaultAddr         = ":8080"
	DefaultReadTimeout  = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultIdleTimeout  = 60 * time.Second

	shutdownTimeout = 2 * time.Second
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RatePerSec <= 0 disables the limiter.
	RatePerSec float64
	Burst      int

	Pprof bool
}

type Deps struct {
	Engine Controller
	Table  *bell.Table
	Net    NetInfo
	// Sync is optional; when set /status reports the last network correction.
	Sync clock.StatusReporter
	Log  logx.Logger
}

type Server struct {
	cfg   Config
	eng   Controller
	table *bell.Table
	net   NetInfo
	sync  clock.StatusReporter
	log   logx.Logger

	handler http.Handler

	mu   sync.Mutex
	addr string
}

func New(cfg Config, d Deps) (*Server, error) {
	if d.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if d.Net == nil {
		d.Net = Interfaces{}
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	s := &Server{
		cfg:   cfg,
		eng:   d.Engine,
		table: d.Table,
		net:   d.Net,
		sync:  d.Sync,
		log:   d.Log,
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	var lim *rate.Limiter
	if s.cfg.RatePerSec > 0 {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = max(1, int(s.cfg.RatePerSec))
		}
		lim = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), burst)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(s.log))
	r.Use(loggingMiddleware(s.log))

	r.Get("/healthz", s.healthz)
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(lim))
		r.Use(middleware.NoCache)
		r.Get("/", s.root)
		r.Get("/status", s.status)
		r.Get("/play", s.play)
		r.Get("/stop", s.stop)
		r.Get("/volume", s.volume)
		r.Get("/schedule", s.schedule)
	})
	return r
}

func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the bound listen address while serving, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr != "" {
		return s.addr
	}
	return s.cfg.Addr
}

// Serve listens and serves until ctx ends. It returns nil after a clean
// shutdown and an error when the listener fails, so it can run under a
// restart loop.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.addr = ""
		s.mu.Unlock()
	}()

	exited := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
		case <-exited:
			return
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = srv.Shutdown(sctx)
		cancel()
	}()

	s.log.Info("control surface listening", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	err = srv.Serve(ln)
	close(exited)
	<-stopped
	if ctx.Err() != nil {
		s.log.Info("control surface stopped")
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}
