// Package web provides the status page and the run API for the sync service.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/pcodesync/internal/config"
	"github.com/JonMunkholm/pcodesync/internal/history"
	mw "github.com/JonMunkholm/pcodesync/internal/web/middleware"
)

// RunService starts runs and exposes their history.
type RunService interface {
	Start(ctx context.Context, trigger string) (*history.Run, error)
	Running() bool
	Store() history.Store
}

// Server is the HTTP server for the sync service.
type Server struct {
	runs    RunService
	cfg     config.ServerConfig
	targets []string
	baseCtx context.Context
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a Server. Runs started over HTTP inherit ctx rather than
// the request context, so they outlive the request and stop on shutdown.
func NewServer(ctx context.Context, cfg *config.Config, runs RunService) *Server {
	s := &Server{
		runs:    runs,
		cfg:     cfg.Server,
		baseCtx: ctx,
		router:  chi.NewRouter(),
	}
	for _, t := range cfg.Targets {
		s.targets = append(s.targets, t.Name)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleStatus)
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.With(mw.APIKeyAuth(s.cfg.APIKeys)).Post("/runs", s.handleStartRun)
	})
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	slog.Info("starting server", "addr", addr)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// runContext derives the context for a run started by r. The request id is
// carried over so the run's log lines can be traced back to the request.
func (s *Server) runContext(r *http.Request) context.Context {
	return context.WithValue(s.baseCtx, middleware.RequestIDKey, middleware.GetReqID(r.Context()))
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
