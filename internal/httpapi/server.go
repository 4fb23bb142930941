// Package httpapi serves the operator control panel API. Handlers run on
// arbitrary goroutines and reach the bot engine only through its bridged
// capability methods, each with a bounded wait.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"idlebot/internal/guildconf"
	"idlebot/internal/logring"
	"idlebot/internal/runtime/supervisor"
	"idlebot/internal/session"
	"idlebot/internal/storage"
	logx "idlebot/pkg/logx"
)

// waitBudget bounds every bridged engine call made from a handler.
const waitBudget = 10 * time.Second

type Config struct {
	Addr string

	// RatePerSec/Burst limit the mutating endpoints.
	RatePerSec float64
	Burst      int

	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool
}

// Sessions is the lifecycle surface the handlers consume.
// *session.Supervisor satisfies it.
type Sessions interface {
	Current() session.Bot
	Restart(token string) error
}

type Server struct {
	log      logx.Logger
	sessions Sessions
	guilds   *guildconf.Store
	ring     *logring.Ring
	audit    storage.Store // may be nil

	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	ln       net.Listener
	srv      *http.Server
	sup      *supervisor.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, sessions Sessions, guilds *guildconf.Store, ring *logring.Ring, audit storage.Store, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		log:      log,
		sessions: sessions,
		guilds:   guilds,
		ring:     ring,
		audit:    audit,
		cfg:      cfg,
	}
	s.limiter = newLimiter(cfg)
	return s
}

func newLimiter(cfg Config) *rate.Limiter {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Reconfigure applies cfg, restarting the listener when the address changed.
// Safe to call during config hot-reload.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.limiter = newLimiter(cfg)
	s.mu.Unlock()

	if running && (prev.Addr != cfg.Addr || prev.Pprof != cfg.Pprof) {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is idempotent. The serve loop runs under a restart supervisor so a
// broken listener self-heals.
func (s *Server) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return
			}
		}
		if s.sup != nil {
			s.mu.Unlock()
			return
		}
		s.sup = supervisor.New(ctx,
			supervisor.WithLogger(s.log.With(logx.String("comp", "httpapi"))))
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce,
			supervisor.WithPublishFirstError(true),
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
		return
	}
}

// Stop shuts the server down, waiting at most until ctx is done.
func (s *Server) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	srv := s.srv
	ln := s.ln
	sup := s.sup
	s.mu.Unlock()

	// Shutdown is asynchronous so callers can time out without leaking
	// half-stopped state.
	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}
		if sup != nil {
			sup.Cancel()
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.ln = nil
		s.srv = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("control api stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = ":5000"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("control api listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:           s.Handler(cfg.Pprof),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("control api started", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.ln = nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("control api exited unexpectedly")
	}
	return err
}

// Handler builds the route table. Exposed for httptest.
func (s *Server) Handler(pprofEnabled bool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/get_voice_channels", s.handleGetVoiceChannels)
	mux.HandleFunc("POST /api/send_message", s.limited(s.handleSendMessage))
	mux.HandleFunc("POST /api/set_vc_channel", s.limited(s.handleSetVCChannel))
	mux.HandleFunc("POST /api/force_join_vc", s.limited(s.handleForceJoinVC))
	mux.HandleFunc("POST /api/restart", s.limited(s.handleRestart))
	mux.HandleFunc("GET /api/audit", s.handleAudit)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	if pprofEnabled {
		mux.HandleFunc("GET /debug/pprof/", hpprof.Index)
		mux.HandleFunc("GET /debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("GET /debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("GET /debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("GET /debug/pprof/trace", hpprof.Trace)
	}
	return mux
}

// limited applies the mutating-endpoint rate limiter.
func (s *Server) limited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		lim := s.limiter
		s.mu.Unlock()
		if lim != nil && !lim.Allow() {
			fail(w, http.StatusTooManyRequests, "Too many requests.")
			return
		}
		h(w, r)
	}
}
