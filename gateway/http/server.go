package http

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rgranatodutra/wwebjs-api/errors"
)

// Server runs the REST surface on its own listener.
type Server struct {
	addr   string
	logger *slog.Logger
	server *http.Server
}

// NewServer builds a server for the API on the given listen address.
func NewServer(addr string, api *API, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		addr:   addr,
		logger: logger.With("component", "http-server"),
		server: &http.Server{
			Addr:              addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.addr)

	if err := s.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Start", "serving on "+s.addr)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Shutdown", "draining connections")
	}
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}
