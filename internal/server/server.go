// Package server owns the listening socket of an HTTP server and its
// start/stop lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned when Start is called on a running server.
var ErrAlreadyStarted = errors.New("server already started")

// Server serves one http.Handler on one TCP address.
type Server struct {
	name    string
	addr    string
	srv     *http.Server
	logger  *slog.Logger
	mu      sync.Mutex
	ln      net.Listener
	done    chan struct{}
	stopped bool
}

// New creates a Server for handler on addr. Nothing is bound until Start.
func New(name, addr string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		name: name,
		addr: addr,
		srv: &http.Server{
			Handler: handler,
			// Inbound timeouts to mitigate slow-client attacks. Writes are not
			// bounded: the backend client timeout covers slow backends.
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger.With("component", "server", "server", name),
	}
}

// Start binds the listening socket and serves in the background.
// A bind failure is returned; serve errors after that are logged.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.addr, err)
	}
	s.ln = ln
	s.done = make(chan struct{})

	s.logger.Info("starting server", "addr", ln.Addr().String())
	go func(done chan struct{}) {
		defer close(done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "err", err)
		}
	}(s.done)
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop stops accepting connections and waits for in-flight requests until
// ctx expires, then closes whatever is left. Either way the serve loop has
// exited when Stop returns. Stop before Start, and any Stop after the first,
// is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.ln == nil || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	done := s.done
	s.mu.Unlock()

	s.logger.Info("shutting down server")
	if err := s.srv.Shutdown(ctx); err != nil {
		// Graceful drain ran out of time: drop the remaining connections.
		closeErr := s.srv.Close()
		<-done
		return errors.Join(fmt.Errorf("shutdown %s: %w", s.name, err), closeErr)
	}
	<-done
	return nil
}
