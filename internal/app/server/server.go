package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"zapgate/internal/app/config"
	"zapgate/pkg/logger"
)

// Janelas do listener HTTP. O gateway serve payloads pequenos (JSON e
// mídia em base64), então timeouts curtos de leitura e escrita bastam.
const (
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 2 * time.Minute
)

// Server embrulha o http.Server do gateway com logging e shutdown gracioso
type Server struct {
	srv *http.Server
	log logger.Logger
}

// New monta o servidor escutando no host e porta configurados
func New(cfg *config.Config, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         net.JoinHostPort(cfg.App.Host, cfg.App.Port),
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
		log: log.WithComponent("http-server"),
	}
}

// Start bloqueia servindo requisições até o Stop ser chamado
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// Stop drena as conexões em andamento dentro do prazo do contexto
func (s *Server) Stop(ctx context.Context) error {
	start := time.Now()

	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.WithError(err).Error().Msg("HTTP server forced to close")
		return fmt.Errorf("http shutdown: %w", err)
	}

	s.log.Info().Dur("drained_in", time.Since(start)).Msg("HTTP server stopped")
	return nil
}
