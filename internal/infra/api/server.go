package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mpesa-settlement/internal/infra/api/apiv1"
)

type RouterOptions struct {
	RequestTimeout time.Duration
	CORSOrigins    []string
	// Ready reports whether dependencies are reachable; nil means always ready.
	Ready func(r *http.Request) error
}

// NewRouter builds the public HTTP surface: the v1 API plus health and metrics.
func NewRouter(srv *apiv1.Server, opts RouterOptions, logger *zerolog.Logger) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(req); err != nil {
				logger.Warn().Err(err).Msg("health check failed")
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(
			TraceID(),
			RequestLog(logger, routePattern),
			Recover(logger),
			Timeout(opts.RequestTimeout),
		)
		apiv1.RegisterAPIV1(r, srv)
	})
	return r
}

// routePattern reports the matched chi pattern so tokens in the path stay out of the logs.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
