// Package api serves the admin HTTP surface: workflow schedule
// management, engine status, and the recent run log.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"triggerd/internal/store"
	"triggerd/internal/trigger"
	"triggerd/pkg/logx"
)

// Config controls the admin HTTP server.
type Config struct {
	Enabled bool
	Addr    string // default "127.0.0.1:8090"
	Token   string // optional bearer token; never logged
	// AllowInsecure permits binding to a non-loopback address without a
	// token. Off by default.
	AllowInsecure bool
	RatePerSec    int // default 10

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// DefaultTimezone is used to compute next_run_at for workflows
	// without an explicit zone.
	DefaultTimezone string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8090"
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Minute
	}
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = "UTC"
	}
	return c
}

// snapshotter exposes the engine state served on /v1/status.
// *trigger.Service satisfies it; tests substitute a stub.
type snapshotter interface {
	Snapshot() trigger.Snapshot
}

// Service is the admin HTTP server. Zero value is not usable; construct
// with New. Safe for concurrent Start/Stop.
type Service struct {
	log   logx.Logger
	store store.Store
	runs  *RunLog

	engine    snapshotter
	defaultTZ string

	mu       sync.Mutex
	cfg      Config
	srv      *http.Server
	ln       net.Listener
	stopDone chan struct{}
	limiter  *rate.Limiter
}

func New(cfg Config, st store.Store, engine snapshotter, runs *RunLog, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if runs == nil {
		runs = NewRunLog(0)
	}
	return &Service{
		log:       log,
		store:     st,
		runs:      runs,
		engine:    engine,
		defaultTZ: cfg.DefaultTimezone,
		cfg:       cfg,
	}
}

// Start binds the listener and begins serving. Disabled config is a
// successful no-op. Returns an error when the bind is refused for
// safety or the address is unavailable.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()

	// If a previous Stop is still finalizing, wait for it first.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	if s.srv != nil {
		s.mu.Unlock()
		return nil
	}
	cfg := s.cfg
	if !cfg.Enabled {
		s.mu.Unlock()
		return nil
	}

	if !isLoopbackAddr(cfg.Addr) && cfg.Token == "" && !cfg.AllowInsecure {
		s.mu.Unlock()
		return fmt.Errorf("api refused to start: non-loopback addr %q requires token or allow_insecure", cfg.Addr)
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("api listen on %s: %w", cfg.Addr, err)
	}

	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /v1/status", s.protected(s.handleStatus))
	mux.Handle("GET /v1/runs", s.protected(s.handleRuns))
	mux.Handle("GET /v1/workflows/{id}/schedule", s.protected(s.handleGetSchedule))
	mux.Handle("PUT /v1/workflows/{id}/schedule", s.protected(s.handleSetSchedule))

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	s.srv = srv
	s.ln = ln
	s.mu.Unlock()

	s.log.Info("admin api listening",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("auth", cfg.Token != ""))

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin api server exited", logx.Err(err))
		}
	}()
	return nil
}

// Stop shuts the server down. Waits for in-flight requests up to ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	srv := s.srv
	ln := s.ln
	if srv == nil {
		s.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	s.stopDone = done
	s.mu.Unlock()

	// Close the listener first so no new connections arrive while
	// Shutdown drains the existing ones.
	if ln != nil {
		_ = ln.Close()
	}

	go func() {
		defer close(done)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)

		s.mu.Lock()
		s.srv = nil
		s.ln = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr reports the bound address, empty when not running.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure records new settings for the next Start. A running server
// is not rebound; the caller cycles Stop/Start when the address or
// enablement changed.
func (s *Service) Reconfigure(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.defaultTZ = cfg.DefaultTimezone
	s.mu.Unlock()
}

// Running reports whether the server is currently bound.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil && s.stopDone == nil
}

func (s *Service) protected(h http.HandlerFunc) http.Handler {
	return s.withRateLimit(s.withAuth(h))
}

// withAuth accepts the token as a bearer header or a ?token= query
// parameter. No token configured means open access (loopback-only
// binds pass the start guard without one).
func (s *Service) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.cfg.Token
		s.mu.Unlock()
		if token == "" {
			next(w, r)
			return
		}
		if auth := r.Header.Get("Authorization"); auth == "Bearer "+token {
			next(w, r)
			return
		}
		if r.URL.Query().Get("token") == token {
			next(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="triggerd"`)
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
}

func (s *Service) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		lim := s.limiter
		s.mu.Unlock()
		if lim != nil && !lim.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if host == "" || host == "localhost" {
		return host == "localhost"
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
