package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/parley/pkg/version"
)

// shutdownTimeout bounds how long Run waits for in-flight work on exit.
const shutdownTimeout = 10 * time.Second

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr(), err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr <- err
		}
	}()

	s.metrics.StartPeriodicLog(s.log, s.cfg.MetricsInterval, s.ctx.Done())
	s.startCacheJanitor()

	s.log.Info("Parley server running",
		"addr", ln.Addr().String(),
		"version", version.Full(),
		"origins", s.cfg.AllowedOrigins,
		"translator", s.cfg.TranslatorURL,
		"cache", s.cfg.CacheBackend,
	)
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run starts the server and blocks until a shutdown signal or a fatal
// serve error.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		s.log.Info("shutting down...", "signal", sig.String())
	case serveErr = <-s.serveErr:
		s.log.Error("HTTP server failed", "err", serveErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, s.Shutdown(ctx))
}

// Shutdown stops accepting connections, lets in-flight translations land,
// closes every client and finally the cache.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server: http shutdown: %w", err))
		}
	}
	if err := s.coord.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, c := range s.coord.Clients() {
		if wc, ok := c.(*wsClient); ok {
			wc.close()
		}
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("server: waiting for connections: %w", ctx.Err()))
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("server: close cache: %w", err))
		}
	}
	s.log.Info("server stopped")
	return errors.Join(errs...)
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// startCacheJanitor prunes translations unused for longer than CacheTTL.
func (s *Server) startCacheJanitor() {
	if s.cache == nil || s.cfg.CacheTTL <= 0 {
		return
	}
	interval := min(max(s.cfg.CacheTTL/4, time.Minute), time.Hour)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.pruneCache()
			}
		}
	}()
}

func (s *Server) pruneCache() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	n, err := s.cache.Prune(ctx, time.Now().UTC().Add(-s.cfg.CacheTTL))
	if err != nil {
		s.log.Warn("cache prune failed", "err", err)
		return
	}
	if n > 0 {
		s.log.Info("pruned translation cache", "removed", n)
	}
}
