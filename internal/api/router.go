package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alecgard/logdesk/internal/auth"
	"github.com/alecgard/logdesk/internal/metrics"
	"github.com/alecgard/logdesk/internal/ratelimit"
)

// Pinger reports database reachability for the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	DB          Pinger // nil reports the database as connected
	Logs        LogStore
	Collector   Recorder
	Auth        *auth.Service
	Limiter     *ratelimit.Limiter // nil disables per-user rate limiting
	Metrics     *metrics.Metrics
	PageSize    int
	SearchLimit int
	CORSOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger(m))
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.CORSOrigins))

	logs := newLogHandler(deps.Logs, deps.Collector, m, deps.PageSize, deps.SearchLimit)
	onAuthFail := func(reason string) { m.IncAuthFailure(reason) }

	// Health check.
	r.Get("/health", healthHandler(deps.DB))

	r.Handle("/metrics", m.PrometheusHandler())
	r.Handle("/metrics/summary", m.Handler())

	r.Route("/api/log", func(lr chi.Router) {
		lr.Use(auth.RequireUser(deps.Auth, onAuthFail))
		if deps.Limiter != nil {
			lr.Use(ratelimit.Middleware(deps.Limiter, m.IncRateLimitRejection))
		}

		// Any authenticated user, scoped to the caller.
		lr.Get("/self/", logs.ListSelfLogs)
		lr.Get("/self/stat", logs.SelfStat)
		lr.Get("/self/search", logs.SearchSelfLogs)

		lr.Group(func(ar chi.Router) {
			ar.Use(auth.RequireAdmin(onAuthFail))

			ar.Get("/", logs.ListLogs)
			ar.Get("/stat", logs.Stat)
			ar.Get("/search", logs.SearchLogs)
			ar.Delete("/", logs.DeleteHistory)
			ar.Post("/", logs.RecordLog)
		})
	})

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "degraded",
					"database": "unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": "connected",
		})
	}
}
