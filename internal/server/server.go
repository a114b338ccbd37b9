// Package server exposes a running load over HTTP: a bearer-guarded
// JSON-RPC 2.0 WebSocket for control and event push, and a Prometheus
// metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/creachadair/jrpc2/handler"
	"github.com/warpdl/warpload/common"
	"github.com/warpdl/warpload/pkg/logger"
)

// Endpoint paths.
const (
	RPCPath     = common.RPCPath
	MetricsPath = "/metrics"
)

// Config holds configuration for the control server.
type Config struct {
	Listen    string // Address to bind, e.g. 127.0.0.1:9730
	Secret    string // Auth token (required -- empty rejects every RPC client)
	Version   string
	Commit    string
	BuildType string
}

// Server serves RPC and metrics for one scheduler.
type Server struct {
	cfg      Config
	ctl      Controller
	metrics  http.Handler
	notifier *RPCNotifier
	methods  handler.Map
	log      logger.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a Server controlling ctl. metrics may be nil, in which case
// MetricsPath is not served. Subscribe Notifier() to the scheduler to
// relay its events.
func New(cfg Config, ctl Controller, metrics http.Handler, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNopLogger()
	}
	s := &Server{
		cfg:      cfg,
		ctl:      ctl,
		metrics:  metrics,
		notifier: NewRPCNotifier(l),
		log:      l,
	}
	s.methods = s.newMethods()
	return s
}

// Notifier returns the event relay of this server.
func (s *Server) Notifier() *RPCNotifier {
	return s.notifier
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(RPCPath, requireToken(s.cfg.Secret, s.log, http.HandlerFunc(s.serveWS)))
	if s.metrics != nil {
		mux.Handle(MetricsPath, s.metrics)
	}
	return mux
}

// Start binds the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", s.cfg.Listen, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("control server listening on %s", ln.Addr())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections and disconnects RPC clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	// Hijacked WebSocket connections are not tracked by http.Server.
	s.notifier.StopAll()
	return srv.Shutdown(ctx)
}
