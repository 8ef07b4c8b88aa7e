// Package app wires HTTP routes and readiness probes for the server binary.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ielts-writing-coach/internal/adapter/httpserver"
	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/observability"
	"github.com/fairyhunter13/ielts-writing-coach/internal/config"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// readTimeout bounds the non-analysis routes.
const readTimeout = 30 * time.Second

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
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

// ownerOrIP keys the rate limiter by the authenticated owner when known.
func ownerOrIP(r *http.Request) (string, error) {
	if o, ok := httpserver.OwnerFromContext(r.Context()); ok {
		return "owner:" + o.ID, nil
	}
	return httprate.KeyByIP(r)
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// auth may be nil, in which case X-Owner-Id is trusted in dev only.
func BuildRouter(cfg config.Config, srv *httpserver.Server, auth domain.Authenticator) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "If-None-Match", "X-Owner-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "ETag", "Location", "Retry-After", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	limit := cfg.RateLimitPerMin
	if limit <= 0 {
		limit = 30
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(httpserver.RequireOwner(auth, cfg.IsDev()))

		// Mutating endpoints. Analysis waits on the providers, so only the
		// server write timeout bounds it.
		v1.Group(func(wr chi.Router) {
			wr.Use(httprate.Limit(limit, time.Minute,
				httprate.WithKeyFuncs(ownerOrIP),
				httprate.WithLimitHandler(httpserver.RateLimitHandler)))
			wr.Post("/analyses", srv.AnalyzeHandler())
			wr.With(httpserver.TimeoutMiddleware(readTimeout)).Group(func(wr chi.Router) {
				wr.Delete("/submissions", srv.DeleteSubmissionsHandler())
				wr.Delete("/submissions/{id}", srv.DeleteSubmissionHandler())
				wr.Post("/questions/{id}/select", srv.SelectQuestionHandler())
			})
		})

		v1.Group(func(rd chi.Router) {
			rd.Use(httpserver.TimeoutMiddleware(readTimeout))
			rd.Get("/submissions", srv.ListSubmissionsHandler())
			rd.Get("/submissions/{id}", srv.GetSubmissionHandler())
			rd.Get("/submissions/{id}/export", srv.ExportSubmissionHandler())
			rd.Get("/questions", srv.ListQuestionsHandler())
			rd.Get("/questions/{id}", srv.GetQuestionHandler())
		})
	})

	if cfg.AdminEnabled() {
		r.Group(func(ad chi.Router) {
			ad.Use(httpserver.AdminBasicAuth(cfg.AdminUsername, cfg.AdminPasswordHash))
			ad.Post("/admin/questions/reload", srv.ReloadQuestionsHandler())
		})
	}

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Handle("/metrics", promhttp.Handler())

	return httpserver.SecurityHeaders(r)
}
