package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/fanzone/memefeed/internal/server/ratelimit"
)

type serverImpl struct {
	cfg    Config
	logger *slog.Logger

	httpMux    *http.ServeMux
	httpServer *http.Server
	listener   net.Listener

	rateLimiter ratelimit.Limiter

	mu      sync.Mutex
	started bool
}

// New creates a new Service instance.
func New(cfg Config, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	s := &serverImpl{
		cfg:     cfg,
		logger:  logger,
		httpMux: http.NewServeMux(),
	}

	if cfg.RateLimit.Enabled {
		s.rateLimiter = ratelimit.NewMemoryLimiter(cfg.RateLimit)
	}

	return s
}

func (s *serverImpl) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	if err := s.initHTTPServer(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.started = true
	srv, ln := s.httpServer, s.listener
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go s.runHTTPServer(srv, ln, errChan)

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return nil // Normal shutdown signal
	}
}

func (s *serverImpl) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.httpServer != nil {
		s.logger.Info("Stopping HTTP server")
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("http shutdown error: %w", shutdownErr)
		}
	}

	if s.rateLimiter != nil {
		if stoppable, ok := s.rateLimiter.(ratelimit.Stoppable); ok {
			stoppable.Stop()
		}
		s.rateLimiter = nil
	}
	return err
}

func (s *serverImpl) RegisterHTTPHandler(pattern string, handler http.Handler) {
	s.httpMux.Handle(pattern, handler)
}

func (s *serverImpl) HTTPMux() *http.ServeMux {
	return s.httpMux
}

func (s *serverImpl) Handler() http.Handler {
	return s.wrapMiddleware(s.httpMux)
}
