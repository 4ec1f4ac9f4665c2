// Package web is the hello-world responder deployed by ferry. Its public
// surface is two fixed routes.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/SoftKiwiGames/ferry/ferry/config"
	"github.com/SoftKiwiGames/ferry/ferry/logger"
	"github.com/go-chi/chi/v5"
)

type Server struct {
	settings config.ServerSettings
	message  string
	version  string
	log      *logger.Logger
	metrics  *metrics
}

func New(settings config.ServerSettings, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		settings: settings,
		message:  settings.Message,
		version:  settings.Version,
		log:      log,
		metrics:  newMetrics(settings.Version),
	}
}

// Router returns the public handler: GET / and GET /test.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(recovery(s.log))
	r.Use(accessLog(s.log))
	r.Use(s.metrics.middleware)

	r.Get("/", s.handleRoot)
	r.Get("/test", s.handleTest)

	return r
}

// MetricsRouter serves /metrics for the private listener.
func (s *Server) MetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", s.metrics.handler())
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests for
// up to the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.settings.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.settings.Addr(), err)
	}

	var metricsLn net.Listener
	if s.settings.MetricsAddr != "" {
		metricsLn, err = net.Listen("tcp", s.settings.MetricsAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.settings.MetricsAddr, err)
		}
	}

	return s.Serve(ctx, ln, metricsLn)
}

// Serve is Run on already bound listeners. metricsLn may be nil.
func (s *Server) Serve(ctx context.Context, ln, metricsLn net.Listener) error {
	servers := []*http.Server{{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	listeners := []net.Listener{ln}
	if metricsLn != nil {
		servers = append(servers, &http.Server{
			Handler:           s.MetricsRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		})
		listeners = append(listeners, metricsLn)
	}

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		s.log.With("addr", listeners[i].Addr().String()).Info("listening")
		go func(srv *http.Server, ln net.Listener) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				return
			}
			errCh <- nil
		}(srv, listeners[i])
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if serveErr != nil {
			s.log.ErrorWithErr(serveErr, "listener failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.settings.ShutdownTimeout)
	defer cancel()

	s.log.Info("shutting down")
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
			serveErr = fmt.Errorf("shutdown failed: %w", err)
		}
	}
	s.log.Debug("stopped")
	return serveErr
}
