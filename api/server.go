// Package api exposes the assistant over HTTP.
//
// Endpoints:
//
//	POST /api/recommend            one conversation turn
//	GET  /api/sessions             list a user's sessions
//	POST /api/sessions/{id}/reset  clear a session's history
//	GET  /health                   liveness probe
//	GET  /ready                    readiness probe (pings the database)
//
// File structure:
//   - server.go: server setup and lifecycle
//   - middleware.go: logging and panic recovery
//   - recommend.go: the conversation endpoint
//   - sessions.go: session management endpoints
//   - health.go: probes
//   - response.go: JSON helpers
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/matiz0/matiz/internal/assistant"
	"github.com/matiz0/matiz/internal/session"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout bounds reading the whole request; recommend requests
	// can carry a multi-megabyte photo.
	ReadTimeout = 30 * time.Second

	// WriteTimeout must cover a full agent turn plus a simulation.
	WriteTimeout = 3 * time.Minute

	// IdleTimeout bounds keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Recommender is the assistant surface the handlers need.
// *assistant.Assistant is the production implementation.
type Recommender interface {
	Recommend(ctx context.Context, req *assistant.Request) (*assistant.Response, error)
	ListSessions(ctx context.Context, userID string, limit, offset int32) ([]*session.Session, error)
	ResetSession(ctx context.Context, userID string, sessionID uuid.UUID) (*session.Session, error)
}

// Pinger is the readiness dependency; *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates the server with all routes registered.
func NewServer(rec Recommender, db Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	newRecommendHandler(rec, logger).register(mux)
	newSessionHandler(rec, logger).register(mux)
	newHealthHandler(db, logger).register(mux)

	return &Server{mux: mux, logger: logger}
}

// Handler returns the handler with middleware applied, recovery
// outermost.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		tracingMiddleware(),
		loggingMiddleware(s.logger))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
