// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// AIRequestsTotal counts AI requests by provider and operation.
	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	// AIRequestDuration records durations of AI requests by provider and operation.
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "operation"},
	)

	// JobsEnqueuedTotal counts jobs enqueued by queue name.
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"queue"},
	)
	// JobsProcessing is a gauge of the number of currently processing jobs by queue name.
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"queue"},
	)
	// JobsCompletedTotal counts jobs completed by queue name.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"queue"},
	)
	// JobsDeferredTotal counts jobs deferred (rate-limit signal) by queue name and reason.
	JobsDeferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_deferred_total",
			Help: "Total number of jobs deferred by the rate-limit coordinator",
		},
		[]string{"queue", "reason"},
	)
	// JobsFailedTotal counts jobs failed by queue name and failure kind.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"queue", "kind"},
	)

	// SegmentsAnalyzedTotal counts segments reaching ANALYZED, by model.
	SegmentsAnalyzedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segments_analyzed_total",
			Help: "Total segments that reached ANALYZED, by model",
		},
		[]string{"model"},
	)
	// CombinationsTotal counts Combination jobs completed, by partial/full outcome.
	CombinationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "combinations_total",
			Help: "Total Combination jobs completed",
		},
		[]string{"outcome"},
	)
	// QuotaViolationsTotal counts parsed provider quota rejections, by model and kind.
	QuotaViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_violations_total",
			Help: "Total provider quota violations recorded, by model and kind",
		},
		[]string{"model", "kind"},
	)
	// FanInReadiness counts fan-in readiness evaluations, by resulting state.
	FanInReadiness = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanin_readiness_total",
			Help: "Total fan-in readiness evaluations, by resulting state",
		},
		[]string{"state"},
	)

	// AITokenUsage tracks AI token consumption by provider, type, and model.
	AITokenUsage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Total AI tokens used",
		},
		[]string{"provider", "type", "model"},
	)

	// ProcessingDrift tracks processing-time drift from baseline by metric, model, and prompt version.
	ProcessingDrift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "processing_time_drift_ms",
			Help: "Detected processing-time drift from baseline, in milliseconds",
		},
		[]string{"metric_type", "model", "prompt_version"},
	)

	// CircuitBreakerStatus tracks circuit breaker state.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsDeferredTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(SegmentsAnalyzedTotal)
	prometheus.MustRegister(CombinationsTotal)
	prometheus.MustRegister(QuotaViolationsTotal)
	prometheus.MustRegister(FanInReadiness)
	prometheus.MustRegister(AITokenUsage)
	prometheus.MustRegister(ProcessingDrift)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueJob increments the enqueued jobs counter for the given queue.
func EnqueueJob(queue string) {
	JobsEnqueuedTotal.WithLabelValues(queue).Inc()
}

// StartProcessingJob increments the processing gauge for the given queue.
func StartProcessingJob(queue string) {
	JobsProcessing.WithLabelValues(queue).Inc()
}

// CompleteJob marks a job complete by decrementing processing gauge and incrementing completed counter.
func CompleteJob(queue string) {
	JobsProcessing.WithLabelValues(queue).Dec()
	JobsCompletedTotal.WithLabelValues(queue).Inc()
}

// DeferJob marks a job deferred (rate-limit signal) by decrementing the processing gauge and incrementing the deferred counter.
func DeferJob(queue, reason string) {
	JobsProcessing.WithLabelValues(queue).Dec()
	JobsDeferredTotal.WithLabelValues(queue, reason).Inc()
}

// FailJob marks a job failed by decrementing processing gauge and incrementing failed counter.
func FailJob(queue, kind string) {
	JobsProcessing.WithLabelValues(queue).Dec()
	JobsFailedTotal.WithLabelValues(queue, kind).Inc()
}

// RecordSegmentAnalyzed records one segment reaching ANALYZED for model.
func RecordSegmentAnalyzed(model string) {
	SegmentsAnalyzedTotal.WithLabelValues(model).Inc()
}

// RecordCombination records one completed Combination job, tagged "full" or "partial".
func RecordCombination(outcome string) {
	CombinationsTotal.WithLabelValues(outcome).Inc()
}

// RecordQuotaViolation records one parsed provider quota rejection.
func RecordQuotaViolation(model, kind string) {
	QuotaViolationsTotal.WithLabelValues(model, kind).Inc()
}

// RecordFanInReadiness records one fan-in readiness evaluation outcome.
func RecordFanInReadiness(state string) {
	FanInReadiness.WithLabelValues(state).Inc()
}

// RecordAITokenUsage records AI token consumption.
func RecordAITokenUsage(provider, tokenType, model string, tokens int) {
	AITokenUsage.WithLabelValues(provider, tokenType, model).Add(float64(tokens))
}

// RecordProcessingDrift records processing-time drift from baseline.
func RecordProcessingDrift(metricType, model, promptVersion string, driftMs float64) {
	ProcessingDrift.WithLabelValues(metricType, model, promptVersion).Set(driftMs)
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
