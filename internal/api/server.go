// Package api exposes the published dispatcher over HTTP. Every job call
// carries the caller's fencing token in the X-Fencing-Token header.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/steward/internal/auth"
	"github.com/mattjoyce/steward/internal/events"
	"github.com/mattjoyce/steward/internal/gateway"
)

// FencingTokenHeader carries the caller's fencing token.
const FencingTokenHeader = "X-Fencing-Token"

// ServiceSource yields the currently published service, if any.
type ServiceSource interface {
	Service() (gateway.Service, bool)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	NodeID string
	// APIKey is the single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	source    ServiceSource
	hub       *events.Hub
	gatherer  prometheus.Gatherer
	auth      *auth.Authenticator
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a Server. gatherer may be nil, in which case /metrics serves
// the default registry.
func New(config Config, source ServiceSource, hub *events.Hub, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		source:    source,
		hub:       hub,
		gatherer:  gatherer,
		auth:      auth.NewAuthenticator(config.APIKey, config.Tokens),
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeLeader)).Get("/leader", s.handleLeader)

		r.With(s.requireScopes(auth.ScopeJobsRead)).Get("/jobs", s.handleListJobs)
		r.With(s.requireScopes(auth.ScopeJobsRead)).Get("/jobs/{jobID}", s.handleGetJob)
		r.With(s.requireScopes(auth.ScopeJobsRW)).Post("/jobs", s.handleSubmitJob)
		r.With(s.requireScopes(auth.ScopeJobsRW)).Post("/jobs/{jobID}/cancel", s.handleCancelJob)
		r.With(s.requireScopes(auth.ScopeJobsRW)).Post("/jobs/{jobID}/complete", s.handleCompleteJob)

		r.With(s.requireScopes(auth.ScopeEvents)).Get("/events", s.handleEventSnapshot)
		r.With(s.requireScopes(auth.ScopeEvents)).Get("/events/stream", s.handleEventStream)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.auth.Authenticate(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !principal.Allows(scopes...) {
				s.writeError(w, http.StatusForbidden, "forbidden", "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
