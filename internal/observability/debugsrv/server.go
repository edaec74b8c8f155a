// Package debugsrv runs the optional loopback HTTP server exposing liveness,
// a JSON view of live schedules and net/http/pprof.
package debugsrv

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "emberon/internal/runtime/supervisor"
	logx "emberon/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

var ErrInsecureBind = errors.New("debug server: non-loopback addr requires a token")

type Config struct {
	Enabled bool
	Addr    string
	// Token, when set, is required as "Authorization: Bearer <token>" or ?token=.
	Token string
}

// StateFunc renders the runtime state served at /debug/schedules.
type StateFunc func() any

type Server struct {
	mu    sync.Mutex
	cfg   Config
	log   logx.Logger
	state StateFunc

	sup  *rtsup.Supervisor
	addr string
}

func New(cfg Config, state StateFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, state: state, log: log}
}

func (s *Server) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr returns the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listener and serves until ctx is done or Stop is called.
// It is a no-op when disabled or already running.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return nil
	}
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		return ErrInsecureBind
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.handler(s.cfg.Token), ReadHeaderTimeout: 5 * time.Second}

	s.addr = ln.Addr().String()
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.Go("http.serve", func(c context.Context) error {
		go func() {
			<-c.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(sctx)
			cancel()
		}()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	s.log.Info("debug server started", logx.String("addr", s.addr), logx.Bool("token_set", s.cfg.Token != ""))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.addr = ""
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("debug server stopped")
	return err
}

// Reconfigure restarts the server when its config changed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	same := s.cfg == cfg
	s.cfg = cfg
	s.mu.Unlock()
	if same {
		return nil
	}
	if err := s.Stop(ctx); err != nil {
		s.log.Warn("debug server stop failed", logx.Err(err))
	}
	return s.Start(ctx)
}

func (s *Server) handler(token string) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	mux.HandleFunc("/debug/schedules", wrap(func(w http.ResponseWriter, _ *http.Request) {
		var v any
		if s.state != nil {
			v = s.state()
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			s.log.Warn("debug state encode failed", logx.Err(err))
		}
	}))
	mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	return mux
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
