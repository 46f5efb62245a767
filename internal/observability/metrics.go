package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions. Stage and LLM buckets stretch far to the
// right because a single completion can take tens of seconds.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	stageDurationBuckets   = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
	gatewayDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	tokenBuckets           = []float64{100, 250, 500, 1000, 2500, 5000, 10000}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Workflow metrics
	RunStartsTotal      *prometheus.CounterVec
	RunCompletionsTotal *prometheus.CounterVec
	StageRunsTotal      *prometheus.CounterVec
	StageDuration       *prometheus.HistogramVec
	ParseBlocksSkipped  *prometheus.CounterVec

	// LLM gateway metrics
	LLMRequestsTotal *prometheus.CounterVec
	LLMDuration      *prometheus.HistogramVec
	LLMTokensUsed    *prometheus.HistogramVec

	// Code-host gateway metrics
	GitHostRequestsTotal *prometheus.CounterVec
	GitHostDuration      *prometheus.HistogramVec

	// Content cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitlify_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gitlify_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		RunStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitlify_run_starts_total",
			Help: "Total number of workflow runs created.",
		}, []string{"llm_config"}),
		RunCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitlify_run_completions_total",
			Help: "Total number of workflow runs reaching a terminal status.",
		}, []string{"final_status"}),
		StageRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitlify_stage_runs_total",
			Help: "Total number of stage executions.",
		}, []string{"stage", "status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gitlify_stage_duration_seconds",
			Help:    "Stage execution duration in seconds.",
			Buckets: stageDurationBuckets,
		}, []string{"stage"}),
		ParseBlocksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitlify_parse_blocks_skipped_total",
			Help: "Total number of malformed LLM response blocks skipped.",
		}, []string{"stage"}),

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitlify_llm_requests_total",
			Help: "Total number of LLM completion requests.",
		}, []string{"provider", "status"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gitlify_llm_request_duration_seconds",
			Help:    "LLM completion request duration in seconds.",
			Buckets: stageDurationBuckets,
		}, []string{"provider"}),
		LLMTokensUsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gitlify_llm_tokens_used",
			Help:    "Total tokens reported per LLM completion.",
			Buckets: tokenBuckets,
		}, []string{"provider"}),

		GitHostRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitlify_githost_requests_total",
			Help: "Total number of code-host API requests.",
		}, []string{"operation", "status"}),
		GitHostDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gitlify_githost_request_duration_seconds",
			Help:    "Code-host API request duration in seconds.",
			Buckets: gatewayDurationBuckets,
		}, []string{"operation"}),

		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitlify_cache_hits_total",
			Help: "Total content cache hits.",
		}, []string{"kind"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitlify_cache_misses_total",
			Help: "Total content cache misses.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RunStartsTotal,
		m.RunCompletionsTotal,
		m.StageRunsTotal,
		m.StageDuration,
		m.ParseBlocksSkipped,
		m.LLMRequestsTotal,
		m.LLMDuration,
		m.LLMTokensUsed,
		m.GitHostRequestsTotal,
		m.GitHostDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordRunStart records a workflow run creation.
func (m *Metrics) RecordRunStart(llmConfig string) {
	m.RunStartsTotal.WithLabelValues(llmConfig).Inc()
}

// RecordRunCompletion records a run reaching a terminal status.
func (m *Metrics) RecordRunCompletion(finalStatus string) {
	m.RunCompletionsTotal.WithLabelValues(finalStatus).Inc()
}

// RecordStageRun records a stage execution and its duration.
func (m *Metrics) RecordStageRun(stage, status string, duration time.Duration) {
	m.StageRunsTotal.WithLabelValues(stage, status).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordParseSkip records a malformed response block being skipped.
func (m *Metrics) RecordParseSkip(stage string) {
	m.ParseBlocksSkipped.WithLabelValues(stage).Inc()
}

// RecordLLMRequest records an LLM completion request.
func (m *Metrics) RecordLLMRequest(provider, status string, duration time.Duration, totalTokens int) {
	m.LLMRequestsTotal.WithLabelValues(provider, status).Inc()
	m.LLMDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if totalTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider).Observe(float64(totalTokens))
	}
}

// RecordGitHostRequest records a code-host API request.
func (m *Metrics) RecordGitHostRequest(operation string, status int, duration time.Duration) {
	m.GitHostRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.GitHostDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheHit records a content cache hit.
func (m *Metrics) RecordCacheHit(kind string) {
	m.CacheHitsTotal.WithLabelValues(kind).Inc()
}

// RecordCacheMiss records a content cache miss.
func (m *Metrics) RecordCacheMiss(kind string) {
	m.CacheMissesTotal.WithLabelValues(kind).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics
// using chi's route pattern (not the actual URL path) to avoid label
// cardinality explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
