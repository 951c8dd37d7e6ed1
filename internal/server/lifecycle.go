package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Run serves until ctx is cancelled, SIGINT or SIGTERM arrives, or the
// listener fails, then shuts down gracefully. Readiness flips on once the
// port is bound.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	sigCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	runCtx, cancel := context.WithCancel(sigCtx)
	s.stop = cancel

	s.http = &http.Server{
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		s.logger.Info("starting server", "addr", ln.Addr().String(), "env", s.cfg.Env)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.realtimeHub.Run(gctx)
		return nil
	})
	if s.expiryTimer != nil {
		g.Go(func() error {
			s.expiryTimer.Start(gctx)
			return nil
		})
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	<-gctx.Done()
	if sigCtx.Err() != nil && ctx.Err() == nil {
		s.logger.Info("shutdown signal received")
	}

	shutdownErr := s.Shutdown()
	if err := g.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

// Shutdown drains traffic, stops background loops, waits for in-flight
// webhook deliveries, and releases the database.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.stop != nil {
		s.stop()
	}
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown error", "error", err)
			errs = append(errs, err)
		}
	}
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.webhooks != nil {
		if err := s.webhooks.Wait(ctx); err != nil {
			s.logger.Warn("webhook deliveries still in flight at shutdown", "error", err)
		}
	}
	if err := s.shutdownTracing(ctx); err != nil {
		s.logger.Error("tracing shutdown error", "error", err)
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
			errs = append(errs, err)
		}
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}
