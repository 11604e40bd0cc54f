package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server is the case review API. Reads are open; generation and review
// actions require an X-Analyst-ID header.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5, "application/json", "text/plain"))

	// Operational endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	// Read-only routes; the analyst header is recorded when present
	router.Group(func(r chi.Router) {
		r.Use(AnalystMiddleware(false))

		r.Get("/cases", handler.ListCases)
		r.Get("/cases/{id}", handler.GetCase)
		r.Get("/cases/{id}/audit", handler.GetAuditTrail)
		r.Get("/stats", handler.Stats)
		r.Get("/templates", handler.ListTemplates)
		r.With(BodyLimitMiddleware(cfg.MaxBodyBytes)).Post("/classify", handler.Classify)
	})

	// Mutating routes require an analyst identity
	router.Group(func(r chi.Router) {
		r.Use(AnalystMiddleware(true))
		r.Use(BodyLimitMiddleware(cfg.MaxBodyBytes))

		r.Post("/cases", handler.GenerateCase)
		r.Post("/cases/{id}/approve", handler.ApproveCase)
		r.Post("/cases/{id}/reject", handler.RejectCase)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree for in-process tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
