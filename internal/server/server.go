// Package server hosts the op-dispatch WebSocket surface: a bearer-token
// gated administrative entry point into the Op Dispatcher, plus a
// read-only health endpoint, for dev tooling and out-of-process
// observers that sit outside the embedded-engine call path (the
// embedded guest calls the dispatcher in-process; this package exists
// for everything else that wants to drive or watch it over the wire).
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/layerdynamics/forge-runtime/internal/auth"
	"github.com/layerdynamics/forge-runtime/internal/config"
	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

// Server is the admin-surface HTTP/WebSocket host.
type Server struct {
	cfg        *config.Config
	dispatcher *oprt.Dispatcher
	validator  *auth.JWTValidator // nil disables auth on the admin socket
	logger     *slog.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader
	startedAt  time.Time

	connMu sync.Mutex
	conns  map[*websocket.Conn]struct{}
}

// New builds a Server. validator may be nil, disabling bearer-token
// auth on the admin WebSocket entirely — callers must only pass nil
// when config.Load's loud "auth disabled" warning has already fired.
func New(cfg *config.Config, dispatcher *oprt.Dispatcher, validator *auth.JWTValidator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		validator:  validator,
		logger:     logger,
		startedAt:  time.Now(),
		conns:      make(map[*websocket.Conn]struct{}),
	}
	s.upgrader = s.createUpgrader()

	mux := http.NewServeMux()
	registerRoutes(mux, s)
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     mux,
		ReadTimeout: cfg.HTTPReadTimeout,
		IdleTimeout: cfg.HTTPIdleTimeout,
	}
	return s
}

// Handler returns the server's route mux, for tests that want to drive
// it through httptest.NewServer instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe runs the HTTP server until it errors or is shut down.
// http.ErrServerClosed from a clean Shutdown is not returned.
func (s *Server) ListenAndServe() error {
	s.logger.Info("admin server listening", "addr", s.httpServer.Addr, "auth_enabled", s.validator != nil)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes every open admin
// WebSocket connection, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connMu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.conns = make(map[*websocket.Conn]struct{})
	s.connMu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) trackConn(c *websocket.Conn) {
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrackConn(c *websocket.Conn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
}

func (s *Server) connectionCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}
