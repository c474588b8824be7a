package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mattjoyce/gaphost/internal/auth"
	"github.com/mattjoyce/gaphost/internal/bootstrap"
	"github.com/mattjoyce/gaphost/internal/device"
	"github.com/mattjoyce/gaphost/internal/events"
	"github.com/mattjoyce/gaphost/internal/journal"
)

// CommandQueue is the slice of the command queue the API needs.
type CommandQueue interface {
	Enqueue(name string, args ...string) (string, error)
	Depth() int
	TimerActive() bool
	Available() bool
}

// DocumentState exposes the hosting document's ready state.
type DocumentState interface {
	ReadyState() bootstrap.ReadyState
	SetReadyState(s bootstrap.ReadyState) error
}

// BootstrapStatus reports deferred constructor progress.
type BootstrapStatus interface {
	Drained() bool
	Pending() int
}

// DeviceView reads installed feature singletons.
type DeviceView interface {
	Device() *device.Device
	Installed() []string
}

// JournalReader lists journaled bridge calls.
type JournalReader interface {
	List(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the admin bearer token (full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// AllowedOrigins lists page origins allowed by CORS. Empty disables CORS.
	AllowedOrigins []string
}

// Deps are the host components the API serves. Journal may be nil.
type Deps struct {
	Queue     CommandQueue
	Document  DocumentState
	Bootstrap BootstrapStatus
	Navigator DeviceView
	Journal   JournalReader
	Events    *events.Hub
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if deps.Events == nil {
		deps.Events = events.NewHub(256)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.setupRoutes()
	if len(s.config.AllowedOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.config.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
			MaxAge:         300,
		}).Handler(h)
	}
	return h
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// SSE streams stay open; writes are bounded by the client going away.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeExec)).Post("/exec/{command}", s.handleExec)
		r.With(s.requireScopes(auth.ScopeDocument)).Post("/document/ready-state", s.handleSetReadyState)
		r.With(s.requireScopes("document:ro")).Get("/document/ready-state", s.handleGetReadyState)
		r.With(s.requireScopes(auth.ScopeDeviceRead)).Get("/navigator/device", s.handleNavigatorDevice)
		r.With(s.requireScopes(auth.ScopeJournal)).Get("/journal", s.handleJournal)
		r.With(s.requireScopes(auth.ScopeEvents)).Get("/events", s.handleEvents)
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
