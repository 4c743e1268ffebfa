package broker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onlitec/remotebroker/internal/logger"
	"github.com/onlitec/remotebroker/pkg/config"
	"github.com/onlitec/remotebroker/pkg/metrics"
)

// httpServer wraps an http.Server with the graceful start/stop shape
// used throughout the broker: Start blocks until ctx is cancelled or
// the listener fails, Stop is idempotent.
type httpServer struct {
	name       string
	server     *http.Server
	tlsCert    string
	tlsKey     string
	stopOnce   sync.Once
}

func newHTTPServer(cfg config.ServerConfig, handler http.Handler) *httpServer {
	return &httpServer{
		name: "connection",
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		tlsCert: cfg.CertFile,
		tlsKey:  cfg.KeyFile,
	}
}

func newMetricsServer(port int) *httpServer {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	return &httpServer{
		name: "metrics",
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		},
	}
}

// Start runs the server in the background and blocks until ctx is
// cancelled or ListenAndServe fails.
func (s *httpServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(s.name+" server listening", "addr", s.server.Addr)
		var err error
		if s.tlsCert != "" {
			err = s.server.ListenAndServeTLS(s.tlsCert, s.tlsKey)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("%s server failed: %w", s.name, err)
	}
}

// Stop gracefully shuts down the server. Safe to call more than once.
func (s *httpServer) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("%s server shutdown: %w", s.name, shutdownErr)
		} else {
			logger.Info(s.name + " server stopped")
		}
	})
	return err
}
