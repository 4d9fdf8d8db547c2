package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cuemby/tether/pkg/events"
	"github.com/cuemby/tether/pkg/log"
	"github.com/cuemby/tether/pkg/metrics"
	"github.com/cuemby/tether/pkg/sessions"
	"github.com/cuemby/tether/pkg/types"
)

// ReconcileRunner runs one reconciliation pass
type ReconcileRunner interface {
	RunOnce(ctx context.Context) (types.ReconcileSummary, error)
}

// AlertRunner runs one alert pass
type AlertRunner interface {
	RunOnce(ctx context.Context) (types.AlertSummary, error)
}

// Dependencies are what the HTTP API serves
type Dependencies struct {
	Reconciler ReconcileRunner
	Alerts     AlertRunner
	Sessions   *sessions.Service
	// Events enables GET /v1/events when set
	Events *events.Broker
	// Token protects /v1 routes with a bearer token when set
	Token string
}

// Server is the tether HTTP API
type Server struct {
	deps       Dependencies
	router     chi.Router
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer creates the API server and its routes
func NewServer(deps Dependencies) *Server {
	s := &Server{
		deps:   deps,
		logger: log.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(bearerAuth(s.deps.Token))

		r.Post("/passes/reconcile", s.runReconcile)
		r.Post("/passes/alerts", s.runAlerts)

		r.Post("/sessions", s.provisionSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Get("/episodes", s.listEpisodes)
			r.Post("/connect", s.connectSession)
			r.Post("/disconnect", s.disconnectSession)
			r.Post("/reauth-complete", s.completeReauth)
			r.Post("/state", s.reportState)
		})

		r.Post("/tenants", s.createTenant)
		r.Route("/tenants/{id}", func(r chi.Router) {
			r.Get("/", s.getTenant)
			r.Post("/profiles", s.addProfile)
			r.Get("/audit", s.listAudit)
		})

		r.Get("/events", s.streamEvents)
	})

	return r
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metrics.RegisterComponent(metrics.ComponentAPI, true, "")
	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return fmt.Errorf("failed to serve http: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	return s.httpServer.Shutdown(ctx)
}
