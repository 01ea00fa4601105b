// Package web provides the HTTP API for dataset ingestion.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/captionset/internal/config"
	"github.com/JonMunkholm/captionset/internal/core"
	"github.com/JonMunkholm/captionset/internal/metrics"
	"github.com/JonMunkholm/captionset/internal/web/middleware"
)

// ImageReader reads stored dataset images.
type ImageReader interface {
	ListImages(ctx context.Context, datasetID string, page core.Page) ([]core.ImageRecord, error)
	CountImages(ctx context.Context, datasetID string) (int64, error)
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the ingestion API.
type Server struct {
	service *core.Service
	images  ImageReader
	cfg     *config.Config

	registry    *prometheus.Registry
	httpMetrics *metrics.HTTPMetrics
	limiters    []*rateLimiter

	router *chi.Mux
	server *http.Server
}

// NewServer creates a Server. registry may be nil, in which case no metrics
// endpoint is mounted.
func NewServer(service *core.Service, images ImageReader, cfg *config.Config, registry *prometheus.Registry) (*Server, error) {
	s := &Server{
		service:  service,
		images:   images,
		cfg:      cfg,
		registry: registry,
		router:   chi.NewRouter(),
	}

	if registry != nil && cfg.Metrics.Enabled {
		m, err := metrics.NewHTTPMetrics(registry)
		if err != nil {
			return nil, err
		}
		s.httpMetrics = m
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	if s.httpMetrics != nil {
		s.router.Use(middleware.Metrics(s.httpMetrics))
	}
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newRateLimiter(s.cfg.Rate.RequestsPerMinute).middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	if s.httpMetrics != nil {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		// Ingestion routes run under the upload timeout inside core.Service.
		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled {
				r.Use(s.newRateLimiter(s.cfg.Rate.UploadLimit).middleware)
			}
			r.Post("/datasets/{datasetID}/images", s.handleIngest)
			r.Post("/preview", s.handlePreview)
		})

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
			}
			r.Get("/datasets/{datasetID}/images", s.handleListImages)
			r.Get("/datasets/{datasetID}/images/count", s.handleCountImages)
			r.Get("/uploads/status", s.handleUploadStatus)
		})
	})
}

func (s *Server) newRateLimiter(perMinute int) *rateLimiter {
	rl := newRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, rl)
	return rl
}

// Start begins listening for HTTP requests on the configured address.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its background jobs.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.stop()
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

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			if enableCSP {
				// JSON only: nothing may be loaded or framed.
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			next.ServeHTTP(w, r)
		})
	}
}
