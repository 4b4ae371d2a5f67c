// Package web provides the JSON HTTP API for uploading workbooks and
// importing their rows.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/sheetload/internal/config"
	"github.com/JonMunkholm/sheetload/internal/core"
	"github.com/JonMunkholm/sheetload/internal/web/middleware"
)

// Server is the HTTP server for the import API.
type Server struct {
	cfg      *config.Config
	service  *core.Service
	router   *chi.Mux
	server   *http.Server
	limiters []*middleware.RateLimiter
}

// NewServer creates a Server with its middleware and routes in place.
func NewServer(service *core.Service, cfg *config.Config) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(middleware.SecurityHeaders)
	s.router.Use(chimw.Compress(5, "application/json"))
}

// setupRoutes configures all HTTP routes. Imports run without the request
// timeout; the service bounds them with UPLOAD_TIMEOUT instead.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security))
		if lim := s.rateLimit(s.cfg.Rate.RequestsPerMinute); lim != nil {
			r.Use(lim)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.requestTimeout)

			r.Get("/status", s.handleStatus)
			r.Get("/tables", s.handleListTables)
			r.Get("/tables/{table}/columns", s.handleTableColumns)
			r.Delete("/uploads/{upload}", s.handleDiscardUpload)
		})

		r.Group(func(r chi.Router) {
			if lim := s.rateLimit(s.cfg.Rate.UploadLimit); lim != nil {
				r.Use(lim)
			}

			r.With(s.requestTimeout).Post("/uploads", s.handleUpload)
			r.Post("/uploads/{upload}/import", s.handleImport)
		})
	})
}

// requestTimeout applies SERVER_REQUEST_TIMEOUT when it is set.
func (s *Server) requestTimeout(next http.Handler) http.Handler {
	if s.cfg.Server.RequestTimeout <= 0 {
		return next
	}
	return chimw.Timeout(s.cfg.Server.RequestTimeout)(next)
}

// rateLimit returns a per-minute limiter middleware, or nil when rate
// limiting is off.
func (s *Server) rateLimit(perMinute int) func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled || perMinute <= 0 {
		return nil
	}
	rl := middleware.NewRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, rl)
	return rl.Handler
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its rate limiters.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.Close()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
