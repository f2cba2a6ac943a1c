package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	maxHeaderBytes       = 64 << 10
	maxReadHeaderTimeout = 5 * time.Second
)

func (s *serverImpl) listenAddr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.HTTPPort))
}

// initHTTPServer binds the listener and builds the server around it. Bind
// errors are returned to Start. Must be called with s.mu held.
func (s *serverImpl) initHTTPServer() error {
	ln, err := net.Listen("tcp", s.listenAddr())
	if err != nil {
		return fmt.Errorf("http listen on %s: %w", s.listenAddr(), err)
	}

	headerTimeout := s.cfg.HTTPReadTimeout
	if headerTimeout <= 0 || headerTimeout > maxReadHeaderTimeout {
		headerTimeout = maxReadHeaderTimeout
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: headerTimeout,
		ReadTimeout:       s.cfg.HTTPReadTimeout,
		WriteTimeout:      s.cfg.HTTPWriteTimeout,
		IdleTimeout:       s.cfg.HTTPIdleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
	return nil
}

func (s *serverImpl) runHTTPServer(srv *http.Server, ln net.Listener, errChan chan<- error) {
	s.logger.Info("Starting HTTP server", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errChan <- fmt.Errorf("http server error: %w", err)
	}
}

// Addr returns the bound address, or "" before Start has bound it.
func (s *serverImpl) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
