// Package server runs the HTTP listener and the background workers that
// share its lifetime.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// ShutdownFunc stops a component within the deadline of ctx.
type ShutdownFunc func(ctx context.Context) error

// WorkerFunc is a long-running loop that returns when ctx is cancelled.
type WorkerFunc func(ctx context.Context) error

// Options configure a Server.
type Options struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type worker struct {
	name string
	fn   WorkerFunc
}

type hook struct {
	name string
	fn   ShutdownFunc
}

// Server wraps http.Server with workers and ordered shutdown.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger

	mu      sync.Mutex
	workers []worker
	hooks   []hook
}

// New creates a Server.
func New(handler http.Handler, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           handler,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       2 * opts.WriteTimeout,
		},
		shutdownTimeout: opts.ShutdownTimeout,
		logger:          logger.With("component", "server"),
	}
}

// Go registers a worker started by Run. Workers get a context that is
// cancelled once the HTTP server has stopped.
func (s *Server) Go(name string, fn WorkerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, worker{name: name, fn: fn})
}

// OnShutdown registers a hook called after the HTTP server and the workers
// stop. Hooks run in reverse registration order, so register dependencies
// (database, cache) before the components that use them.
func (s *Server) OnShutdown(name string, fn ShutdownFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down in two phases: stop accepting requests, then drain workers and
// hooks.
func (s *Server) Run(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	s.mu.Lock()
	workers := append([]worker(nil), s.workers...)
	s.mu.Unlock()

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			s.logger.Info("worker starting", "name", w.name)
			err := w.fn(workerCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("worker stopped with error", "name", w.name, "error", err)
				return fmt.Errorf("%s: %w", w.name, err)
			}
			s.logger.Info("worker stopped", "name", w.name)
			return nil
		})
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	case <-sigCtx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownErr := s.shutdown(cancelWorkers, &g)
	return errors.Join(runErr, shutdownErr)
}

func (s *Server) shutdown(cancelWorkers context.CancelFunc, g *errgroup.Group) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("phase 1: stopping HTTP server", "timeout", s.shutdownTimeout)
	s.httpServer.SetKeepAlivesEnabled(false)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		// Keep going; workers must still be drained.
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.mu.Lock()
	hooks := append([]hook(nil), s.hooks...)
	s.mu.Unlock()

	s.logger.Info("phase 2: stopping workers and components", "workers", len(s.workers), "hooks", len(hooks))
	cancelWorkers()

	var errs []error
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("workers did not stop: %w", ctx.Err()))
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		s.logger.Info("shutting down component", "name", h.name)
		if err := h.fn(ctx); err != nil {
			s.logger.Error("component shutdown error", "name", h.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		s.logger.Info("component stopped", "name", h.name)
	}

	if len(errs) > 0 {
		s.logger.Error("shutdown completed with errors", "error_count", len(errs))
		return errors.Join(errs...)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
