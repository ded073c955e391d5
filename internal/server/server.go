// Package server exposes daemon status over JSON-RPC 2.0: HTTP POST on
// /jsonrpc, a WebSocket on /jsonrpc/ws that also receives sync.completed
// pushes, and Prometheus metrics on /metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"

	"github.com/edupoll/edupoll/internal/syncer"
	"github.com/edupoll/edupoll/pkg/logger"
)

// Config configures the endpoint.
type Config struct {
	Listen  string
	Secret  string
	Version string
	Commit  string
	// OriginPatterns are extra WebSocket origins to accept.
	OriginPatterns []string
}

// Server serves the RPC endpoints.
type Server struct {
	cfg      Config
	backend  Backend
	methods  handler.Map
	bridge   jhttp.Bridge
	notifier *Notifier
	metrics  http.Handler
	log      logger.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu   sync.Mutex
	srv  *http.Server
	addr net.Addr
}

// New builds a Server. metrics may be nil to omit /metrics.
func New(cfg Config, b Backend, metrics http.Handler, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		backend:  b,
		notifier: NewNotifier(l),
		metrics:  metrics,
		log:      l,
		baseCtx:  ctx,
		cancel:   cancel,
	}
	s.methods = s.methodMap()
	s.bridge = jhttp.NewBridge(s.methods, nil)
	return s
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/jsonrpc", requireToken(s.cfg.Secret, s.bridge))
	mux.Handle("/jsonrpc/ws", requireToken(s.cfg.Secret, http.HandlerFunc(s.serveWS)))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	s.mu.Lock()
	s.srv = srv
	s.addr = l.Addr()
	s.mu.Unlock()

	s.log.Info("rpc: listening on %s", l.Addr())
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("rpc: serve: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Publish pushes a finished cycle to WebSocket clients. It is registered
// with Syncer.OnCycle.
func (s *Server) Publish(r syncer.Result) {
	s.notifier.Broadcast(NotifySyncCompleted, r)
}

// Shutdown stops accepting requests, drops WebSocket clients and closes the
// HTTP bridge.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if cerr := s.bridge.Close(); err == nil {
		err = cerr
	}
	return err
}
