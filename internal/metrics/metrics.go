// Package metrics exposes the orchestrator's Prometheus collectors,
// following the teacher's own metrics-registry pattern
// (pkg/metrics/metrics.go): a package-level Registry, labeled
// Counter/Histogram/Gauge vecs per concern, an InstrumentHandler HTTP
// middleware, and RecordXxx helper functions rather than exposing the
// raw collectors to callers.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the application-specific Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator", Subsystem: "http", Name: "inflight_requests",
		Help: "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator", Subsystem: "http", Name: "requests_total",
		Help: "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator", Subsystem: "http", Name: "request_duration_seconds",
		Help: "Duration of HTTP requests.", Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	sarIterations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator", Subsystem: "sar", Name: "iterations",
		Help: "Number of SEARCH/ASSESS/REFINE iterations a type's cycle ran before terminating.",
		Buckets: []float64{1, 2, 3, 4, 5},
	}, []string{"info_type", "terminal_phase"})

	sarConfidence = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator", Subsystem: "sar", Name: "final_confidence",
		Help: "type_confidence reached at SAR cycle termination.", Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	}, []string{"info_type", "terminal_phase"})

	providerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator", Subsystem: "provider", Name: "calls_total",
		Help: "Total provider calls grouped by provider, check type, and outcome.",
	}, []string{"provider_id", "check_type", "outcome"})

	providerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator", Subsystem: "provider", Name: "call_duration_seconds",
		Help: "Duration of provider calls.", Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"provider_id", "check_type"})

	providerCost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator", Subsystem: "provider", Name: "cost_total",
		Help: "Cumulative cost charged by provider calls, in the tenant's billing currency.",
	}, []string{"provider_id", "check_type"})

	cacheResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator", Subsystem: "cache", Name: "lookups_total",
		Help: "Cache lookups grouped by resulting state and action.",
	}, []string{"state", "action"})

	checkpointWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator", Subsystem: "checkpoint", Name: "writes_total",
		Help: "Checkpoint writes grouped by trigger.",
	}, []string{"trigger"})

	riskScores = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator", Subsystem: "risk", Name: "composite_score",
		Help: "Composite risk score at profile commit.", Buckets: prometheus.LinearBuckets(0, 10, 11),
	}, []string{"level"})

	webhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator", Subsystem: "webhook", Name: "deliveries_total",
		Help: "Outbound webhook deliveries grouped by event type and outcome.",
	}, []string{"event_type", "outcome"})

	aiFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator", Subsystem: "ai", Name: "fallbacks_total",
		Help: "Times the rule-based extractor fallback was used in place of the AI model.",
	}, []string{"operation"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		sarIterations,
		sarConfidence,
		providerCalls,
		providerDuration,
		providerCost,
		cacheResults,
		checkpointWrites,
		riskScores,
		webhookDeliveries,
		aiFallbacks,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus
// metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with HTTP request-count/duration/inflight
// metrics, skipping the metrics endpoint itself.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, r.URL.Path).Observe(duration.Seconds())
	})
}

// RecordSARTermination records a type's SAR cycle outcome (spec.md §4.F
// step 3 "REFINE").
func RecordSARTermination(infoType, terminalPhase string, iterations int, finalConfidence float64) {
	sarIterations.WithLabelValues(infoType, terminalPhase).Observe(float64(iterations))
	sarConfidence.WithLabelValues(infoType, terminalPhase).Observe(finalConfidence)
}

// RecordProviderCall records one provider invocation's outcome, latency,
// and cost.
func RecordProviderCall(providerID, checkType, outcome string, duration time.Duration, cost float64) {
	providerCalls.WithLabelValues(providerID, checkType, outcome).Inc()
	providerDuration.WithLabelValues(providerID, checkType).Observe(duration.Seconds())
	if cost > 0 {
		providerCost.WithLabelValues(providerID, checkType).Add(cost)
	}
}

// RecordCacheLookup records a cache-aside lookup's resulting state and
// chosen action (spec.md §4.D "cache state machine").
func RecordCacheLookup(state, action string) {
	cacheResults.WithLabelValues(state, action).Inc()
}

// RecordCheckpointWrite records a checkpoint save grouped by trigger.
func RecordCheckpointWrite(trigger string) {
	checkpointWrites.WithLabelValues(trigger).Inc()
}

// RecordRiskScore records a profile's composite risk score at commit.
func RecordRiskScore(level string, score float64) {
	riskScores.WithLabelValues(level).Observe(score)
}

// RecordWebhookDelivery records one outbound webhook delivery attempt's
// outcome.
func RecordWebhookDelivery(eventType, outcome string) {
	webhookDeliveries.WithLabelValues(eventType, outcome).Inc()
}

// RecordAIFallback records that the rule-based extractor was used in
// place of the AI model for the named operation (spec.md §4.H "AI
// unavailable -> rule-based fallback, always").
func RecordAIFallback(operation string) {
	aiFallbacks.WithLabelValues(operation).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
