package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thupa-pro/lipo-sub001/internal/consent/handler"
	"github.com/thupa-pro/lipo-sub001/internal/platform/health"
	"github.com/thupa-pro/lipo-sub001/pkg/platform/middleware/auth"
	"github.com/thupa-pro/lipo-sub001/pkg/platform/middleware/request"
	"github.com/thupa-pro/lipo-sub001/pkg/platform/middleware/visitor"
)

// DefaultMaxBodyBytes caps JSON request bodies.
const DefaultMaxBodyBytes = 64 << 10

// Config holds the transport-level knobs.
type Config struct {
	Namespace      string
	SecureCookies  bool
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// Dependencies are the handlers and collaborators the router mounts.
type Dependencies struct {
	Logger    *slog.Logger
	Consent   *handler.Handler
	Users     *handler.UserHandler
	Health    *health.Handler
	Validator auth.JWTValidator
	Metrics   *request.Metrics
	Gatherer  prometheus.Gatherer
}

// NewRouter wires all public endpoints with middleware.
func NewRouter(cfg Config, deps Dependencies) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := deps.Logger

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.ClientIP)
	r.Use(request.Logger(logger))
	r.Use(request.Latency(deps.Metrics))

	deps.Health.Register(r)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	bounded := func(r chi.Router) {
		r.Use(request.Timeout(cfg.RequestTimeout))
		r.Use(request.ContentTypeJSON)
		r.Use(request.BodyLimit(cfg.MaxBodyBytes))
	}

	// Browsing-context endpoints.
	r.Group(func(r chi.Router) {
		r.Use(visitor.Middleware(cfg.Namespace, cfg.SecureCookies))
		r.Use(auth.OptionalAuth(deps.Validator, logger))

		r.Group(func(r chi.Router) {
			bounded(r)
			deps.Consent.Register(r)
		})
		// The stream hijacks the connection, which http.TimeoutHandler forbids.
		deps.Consent.RegisterStream(r)
	})

	// Server-side user consent.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(deps.Validator, logger))
		bounded(r)
		deps.Users.Register(r)
	})

	return r
}
