package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gitlify/gitlify/internal/config"
	"github.com/gitlify/gitlify/internal/observability"
	"github.com/gitlify/gitlify/internal/workflow"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Orchestrator *workflow.Orchestrator
	Readiness    observability.ReadinessChecks

	// Authenticate overrides the JWT middleware; used in tests.
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes — bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		jwks := NewJWKSClient(deps.Config.Identity.JWKSURL, deps.Config.Identity.JWKSCacheTTL, logger)
		auth = JWTAuthenticator(deps.Config.Identity, jwks)
	}

	// Authenticated routes — full middleware chain.
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Route("/api/runs", func(r chi.Router) {
			r.Post("/", handleRunInitialize(deps.Orchestrator))
			r.Get("/", handleRunList(deps.Orchestrator))
			r.Get("/{runId}", handleRunStatus(deps.Orchestrator))
			r.Put("/{runId}/advance", handleRunAdvance(deps.Orchestrator))
			r.Get("/{runId}/document", handleDocumentGet(deps.Orchestrator))
		})
	})

	return r
}
