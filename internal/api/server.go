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
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/tourguide/internal/auth"
	"github.com/mattjoyce/tourguide/internal/events"
	"github.com/mattjoyce/tourguide/internal/orchestrator"
	"github.com/mattjoyce/tourguide/internal/report"
	"github.com/mattjoyce/tourguide/internal/route"
	"github.com/mattjoyce/tourguide/internal/state"
	"github.com/mattjoyce/tourguide/internal/tour"
)

// TourService is what the API needs from the tour manager.
type TourService interface {
	Start(ctx context.Context, r *route.Route, opts tour.StartOptions) (*orchestrator.Orchestrator, error)
	Active() []orchestrator.Progress
	Live(runID string) (*orchestrator.Orchestrator, bool)
	Report(ctx context.Context, runID string) (*report.FinalReport, error)
	History(ctx context.Context, limit int) ([]state.RunRecord, error)
	Control(runID, action string) error
}

// BreakerReporter is implemented by workers guarded by a circuit breaker.
type BreakerReporter interface {
	ID() string
	BreakerState() string
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the admin bearer token (full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxWait bounds POST /tours?wait=true.
	MaxWait time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	tours     TourService
	events    *events.Hub
	workers   int
	breakers  []BreakerReporter
	validate  *validator.Validate
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. workers is the roster size reported by
// /healthz; breakers are polled for open circuits.
func New(config Config, tours TourService, hub *events.Hub, workers int, breakers []BreakerReporter, logger *slog.Logger) *Server {
	if config.MaxWait <= 0 {
		config.MaxWait = 10 * time.Minute
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(jsonFieldName)
	return &Server{
		config:    config,
		tours:     tours,
		events:    hub,
		workers:   workers,
		breakers:  breakers,
		validate:  validate,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler; useful for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// Long enough for ?wait=true on a real-time tour.
		WriteTimeout: s.config.MaxWait + 30*time.Second,
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
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeToursWrite)).Post("/tours", s.handleStartTour)
		r.With(s.requireScopes(auth.ScopeToursRead)).Get("/tours", s.handleListTours)
		r.With(s.requireScopes(auth.ScopeToursRead)).Get("/tours/{runID}", s.handleGetTour)
		r.With(s.requireScopes(auth.ScopeToursWrite)).Post("/tours/{runID}/{action}", s.handleControlTour)
		r.With(s.requireScopes(auth.ScopeEventsRead, auth.ScopeToursRead)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
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
