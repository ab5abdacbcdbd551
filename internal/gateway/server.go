package gateway

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/funcbase/gateway/internal/config"
	"github.com/funcbase/gateway/internal/logging"
	"github.com/funcbase/gateway/internal/metrics"
	"github.com/funcbase/gateway/internal/middleware"
)

// Server runs the catch-all listener and, when configured, an admin listener
// with health and metrics endpoints.
type Server struct {
	cfg         *config.Config
	httpServer  *http.Server
	adminServer *http.Server
}

// NewServer wraps the handler with the standard middleware chain and builds
// the listeners.
func NewServer(cfg *config.Config, handler *Handler) *Server {
	chain := middleware.NewChain(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.AccessLog(),
	)

	// Health answers on any hostname before route resolution, so probes
	// work without a matching tenant route.
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" && r.Method == http.MethodGet {
			handler.Health().ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})

	s := &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:              cfg.Listen.Address,
			Handler:           chain.Then(root),
			ReadHeaderTimeout: cfg.Listen.ReadHeaderTimeout,
			IdleTimeout:       cfg.Listen.IdleTimeout,
		},
	}

	if cfg.Admin.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/healthz", handler.Health())
		mux.Handle("/metrics", metrics.Default.Handler())
		s.adminServer = &http.Server{
			Addr:              cfg.Admin.Address,
			Handler:           mux,
			ReadHeaderTimeout: cfg.Listen.ReadHeaderTimeout,
		}
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		logging.Info("gateway listening", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if s.adminServer != nil {
		go func() {
			logging.Info("admin listening", zap.String("address", s.adminServer.Addr))
			if err := s.adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Listen.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = err
	}
	if s.adminServer != nil {
		if err := s.adminServer.Shutdown(shutdownCtx); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}
	return shutdownErr
}
