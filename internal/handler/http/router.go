package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thecalistalife/review-service/internal/service"
	"github.com/thecalistalife/review-service/pkg/health"
	"github.com/thecalistalife/review-service/pkg/middleware"
)

// RouterConfig holds the transport settings of the review API.
type RouterConfig struct {
	ServiceName    string
	RequestTimeout time.Duration
	CORS           middleware.CORSConfig
	PprofCIDRs     []string
	// TrustedProxyCIDRs lists the proxies whose forwarded client address
	// headers are honoured. Empty trusts none.
	TrustedProxyCIDRs []string
	// SummaryMaxAge is the Cache-Control max-age of the summary endpoint in
	// seconds. Zero disables the header.
	SummaryMaxAge int
	// TokenValidator validates bearer tokens. Nil trusts only gateway headers.
	TokenValidator middleware.TokenValidator
	// ResponderRoles may post official responses.
	ResponderRoles []string
}

// NewRouter creates a chi router with all review service routes registered.
func NewRouter(
	reviewService *service.ReviewService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if len(cfg.ResponderRoles) == 0 {
		cfg.ResponderRoles = []string{"admin"}
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	// Operational endpoints see the socket address, never forwarded headers.
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	reviewHandler := NewReviewHandler(reviewService, logger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.TrustedRealIP(cfg.TrustedProxyCIDRs, logger))
		r.Use(chimw.Timeout(cfg.RequestTimeout))
		r.Use(chimw.Compress(5))
		r.Use(middleware.OptionalAuth(cfg.TokenValidator))
		r.Use(middleware.RequestLogger(logger))

		r.Route("/api/v1/products/{productId}/reviews", func(r chi.Router) {
			r.Get("/", reviewHandler.ListReviews)
			r.Post("/", reviewHandler.CreateReview)
			r.With(middleware.CacheControl(cfg.SummaryMaxAge)).Get("/summary", reviewHandler.GetSummary)
		})

		r.Route("/api/v1/reviews/{reviewId}", func(r chi.Router) {
			r.Post("/helpful", reviewHandler.Vote)
			r.With(middleware.RequireRole(cfg.ResponderRoles...)).Post("/responses", reviewHandler.AddResponse)
		})
	})

	return r
}
