package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.metrics.instrument)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/config", s.handleConfig)
		r.Method(http.MethodGet, "/metrics", s.metrics.handler())

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.RequestsPerMinute,
				))
			}

			// Read endpoints.
			r.Get("/runs", s.handleListRuns)
			r.Get("/stats", s.handleStats)
			r.Get("/compare", s.handleCompare)

			r.Route("/runs/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/attempts", s.handleAttempts)
				r.Get("/export", s.handleExport)
				r.Get("/files/{file}", s.handleRunFile)
			})

			// Mutating endpoints.
			r.Group(func(r chi.Router) {
				if s.cfg.Server.BasicAuth.Enabled {
					r.Use(s.requireBasicAuth)
				}

				r.Post("/upload", s.handleUpload)

				if s.scanner != nil {
					r.Post("/scans", s.handleStartScan)
					r.Post("/scans/{runID}/cancel", s.handleCancelScan)
				}
			})

			if s.scanner != nil {
				r.Get("/scans", s.handleListScans)
				r.Get("/scans/{runID}", s.handleScanStatus)
				r.Get("/plugins/{kind}", s.handleListPlugins)
			}
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
