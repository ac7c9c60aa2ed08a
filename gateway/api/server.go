// Package api serves the gateway's HTTP endpoints.
package api

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Server provides HTTP endpoints
type Server struct {
	gateway  GatewayInterface
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	server   *http.Server
}

// NewServer creates a new Server instance. A nil gatherer serves the
// default prometheus registry.
func NewServer(gateway GatewayInterface, gatherer prometheus.Gatherer, logger zerolog.Logger, port int) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		gateway:  gateway,
		gatherer: gatherer,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start binds the port and serves in the background.
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("query server is nil")
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
	}

	go func() {
		err := s.server.Serve(ln)
		switch {
		case err == nil:
			s.logger.Info().Msg("Query server stopped normally")
		case errors.Is(err, http.ErrServerClosed):
			s.logger.Info().Msg("Query server closed gracefully")
		default:
			s.logger.Error().Err(err).Msg("Query server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Query server listening")
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
