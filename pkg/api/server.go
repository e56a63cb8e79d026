// Package api exposes the ledger bridge over HTTP
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"votebridge/pkg/config"
	"votebridge/pkg/connector"
	"votebridge/pkg/data"
	"votebridge/pkg/reconciler"
	"votebridge/pkg/scheduler"
	"votebridge/pkg/security"
)

// Deps are the components the API calls into. Only Connector is required.
type Deps struct {
	Connector  *connector.Connector
	Reconciler *reconciler.Reconciler
	Scheduler  *scheduler.Scheduler
	Repo       data.Repository
	Tokens     *security.TokenManager
	DBHealthy  func(ctx context.Context) bool
}

// Server is the BridgeAPI HTTP server
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	deps       Deps
	limiter    *rateLimiter
	config     *config.ServerConfig
	logger     *zap.Logger
	mu         sync.Mutex
}

// NewServer builds the router and the underlying http.Server
func NewServer(cfg *config.ServerConfig, sec *config.SecurityConfig, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Connector == nil {
		return nil, errors.New("connector is required")
	}
	if deps.Reconciler == nil {
		deps.Reconciler = reconciler.New(deps.Connector, deps.Repo, logger)
	}
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	s := &Server{
		engine:  gin.New(),
		deps:    deps,
		limiter: newRateLimiter(sec.VoteRateLimit, sec.VoteRateBurst),
		config:  cfg,
		logger:  logger,
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains connections until ctx is done
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
