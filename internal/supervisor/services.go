// Package supervisor adapts danmuhub's long-running components (the HTTP
// server, the task worker loop, the cron scheduler) to suture.Service so a
// single supervisor tree restarts whichever one crashes without tearing
// down the others.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPServer matches *http.Server's lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService wraps an HTTP server as a supervised service.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// Starter matches a component whose Start spawns its own goroutines and
// returns immediately, with no corresponding Stop — it relies entirely on
// ctx cancellation to wind down (the task manager's worker loop).
type Starter interface {
	Start(ctx context.Context) error
}

// StartService wraps a Starter as a supervised service.
type StartService struct {
	starter Starter
	name    string
}

func NewStartService(name string, starter Starter) *StartService {
	return &StartService{starter: starter, name: name}
}

func (s *StartService) Serve(ctx context.Context) error {
	if err := s.starter.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *StartService) String() string { return s.name }
