// Package api serves warden's HTTP control API.
//
// Endpoints:
//
//	GET  /api/status    backend flags, rule counts and the last pass
//	POST /api/enable    run an enable pass
//	POST /api/disable   run a disable pass
//	GET  /api/policy    compile the policy without installing it
//	GET  /api/progress  websocket stream of pass events
//	GET  /healthz       readiness checks
//	GET  /metrics       Prometheus metrics
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"grimm.is/warden/internal/controller"
	"grimm.is/warden/internal/events"
	"grimm.is/warden/internal/health"
	"grimm.is/warden/internal/i18n"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/policy"
	"grimm.is/warden/internal/ratelimit"
)

// Controller is the subset of the policy controller the API drives.
type Controller interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Status(ctx context.Context) (controller.Status, error)
	Compile(ctx context.Context) (*policy.Plan, error)
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Controller Controller
	Hub        *events.Hub
	Metrics    *metrics.Registry
	Logger     *logging.Logger
	// Health serves /healthz; nil reports a bare liveness response.
	Health *health.Checker
	// PassLimiter throttles enable and disable per client; nil disables it.
	PassLimiter *ratelimit.Limiter
}

// Server is the HTTP control API.
type Server struct {
	ctrl    Controller
	hub     *events.Hub
	metrics *metrics.Registry
	logger  *logging.Logger
	health  *health.Checker
	limiter *ratelimit.Limiter
	mux     *http.ServeMux
}

// NewServer creates a server with all routes registered.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		ctrl:    opts.Controller,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		health:  opts.Health,
		limiter: opts.PassLimiter,
		mux:     http.NewServeMux(),
	}
	if s.logger == nil {
		s.logger = logging.WithComponent("api")
	}
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	mux := s.mux
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.Handle("POST /api/enable", s.limitPasses(s.handleEnable))
	mux.Handle("POST /api/disable", s.limitPasses(s.handleDisable))
	mux.Handle("GET /api/policy", s.limitPasses(s.handlePolicy))
	mux.HandleFunc("GET /api/progress", s.handleProgressWS)
	if s.health != nil {
		mux.HandleFunc("GET /healthz", s.health.Handler())
	} else {
		mux.HandleFunc("GET /healthz", s.handleHealth)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler returns the routed handler wrapped in access logging and
// language negotiation.
func (s *Server) Handler() http.Handler {
	return s.accessLog(i18n.Middleware(s.mux))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
