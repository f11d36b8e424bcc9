// Package app wires application components and startup helpers.
//
// It provides dependency injection and application bootstrap shared by
// cmd/server and cmd/worker.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/video-insight-pipeline/internal/adapter/httpserver"
	"github.com/fairyhunter13/video-insight-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/video-insight-pipeline/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input means "allow all".
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the control surface's HTTP handler with all
// middleware and routes, per spec.md §6.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// The control surface is small and non-core (spec.md §6); rate-limit it
	// independently of the Quota Ledger so operator traffic can't itself
	// become a quota-admission bottleneck for the pipeline.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/v1/channels/{id}/discover", srv.DiscoverHandler())
		wr.Post("/v1/content/{id}/analyze", srv.AnalyzeHandler())
		wr.Post("/v1/content/{id}/combination", srv.CombinationHandler())
		wr.Post("/v1/content/{id}/reset", srv.ResetHandler())
	})
	r.Get("/v1/content/{id}/combination", srv.CombinationHandler())
	r.Get("/v1/quota", srv.QuotaStatusHandler())

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return httpserver.SecurityHeaders(r)
}
