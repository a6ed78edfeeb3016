package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pong-server/internal/auth"
	"pong-server/internal/config"
	"pong-server/internal/game"
	"pong-server/internal/presence"
	"pong-server/internal/store"
	"pong-server/internal/tournament"
)

const (
	inputLimit  = 120
	inputWindow = time.Second
)

// Deps are the services the HTTP layer fronts. cmd/api builds them.
type Deps struct {
	Config      config.Config
	Logger      *zap.Logger
	Store       store.Store
	Auth        *auth.Verifier
	Registry    *game.Registry
	Matchmaker  *game.Matchmaker
	Tournaments *tournament.Orchestrator
	Presence    *presence.Hub
}

type Server struct {
	port              int
	allowedOrigins    []string
	log               *zap.Logger
	store             store.Store
	auth              *auth.Verifier
	registry          *game.Registry
	matchmaker        *game.Matchmaker
	tournaments       *tournament.Orchestrator
	presence          *presence.Hub
	connectionManager *ConnectionManager
	rateLimiter       *RateLimiter
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Server{
		port:              d.Config.Port,
		allowedOrigins:    d.Config.AllowedOrigins,
		log:               d.Logger.Named("server"),
		store:             d.Store,
		auth:              d.Auth,
		registry:          d.Registry,
		matchmaker:        d.Matchmaker,
		tournaments:       d.Tournaments,
		presence:          d.Presence,
		connectionManager: NewConnectionManager(),
		rateLimiter:       NewRateLimiter(inputLimit, inputWindow),
	}
}

// HTTPServer wraps the routes in an http.Server on the configured port.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Maintain is the periodic housekeeping job: stale rate limiter entries are
// dropped.
func (s *Server) Maintain() {
	if n := s.rateLimiter.Cleanup(); n > 0 {
		s.log.Debug("rate limiter cleanup", zap.Int("removed", n))
	}
}

// Shutdown closes every live connection with a going-away code and waits
// for background work to finish or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.presence.CloseAll(game.CloseGoingAway, "server shutting down")

	done := make(chan struct{})
	go func() {
		s.registry.Shutdown()
		s.tournaments.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("live connections closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}
}
