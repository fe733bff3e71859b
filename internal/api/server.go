package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
)

// Server wraps the http.Server to provide graceful shutdown.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// NewServer creates and configures a new API server.
func NewServer(port string, h *Handlers, log *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    ":" + port,
			Handler: NewRouter(h),
		},
		log: log,
	}
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.log.Info("starting HTTP server", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("could not start HTTP server", "error", err)
			os.Exit(1)
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
