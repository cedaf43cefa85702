package flow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine execution metrics for production
// monitoring. All metrics are namespaced "storyflow".
//
// Metrics exposed:
//
//   - runs_total (counter, labels: status): finished runs by outcome
//     (completed, suspended, failed).
//   - inflight_nodes (gauge): invocations currently executing.
//   - frontier_depth (gauge): invocations queued in the current super-step.
//   - node_latency_ms (histogram, labels: run_id, node_id, status): node
//     execution duration. Buckets cover 1ms to 10s.
//   - merge_failures_total (counter, labels: run_id, category): deltas
//     rejected during state merge.
//   - suspensions_total (counter, labels: run_id, node_id): suspension
//     records written.
//   - resumes_total (counter, labels: run_id): successful resume entries.
//   - guard_retries_total (counter, labels: run_id, node_id): guardrail
//     regeneration attempts.
//   - violations_total (counter, labels: run_id, severity): guardrail
//     findings by severity.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewPrometheusMetrics(registry)
//	eng, _ := flow.New(g, schema, flow.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// All methods are safe for concurrent use and are no-ops on a nil receiver,
// so callers need not guard against an unconfigured collector.
type PrometheusMetrics struct {
	runs          *prometheus.CounterVec
	inflightNodes prometheus.Gauge
	frontierDepth prometheus.Gauge
	nodeLatency   *prometheus.HistogramVec
	mergeFailures *prometheus.CounterVec
	suspensions   *prometheus.CounterVec
	resumes       *prometheus.CounterVec
	guardRetries  *prometheus.CounterVec
	violations    *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all engine metrics with the
// provided registry. A nil registry falls back to
// prometheus.DefaultRegisterer; a dedicated registry is recommended for
// isolation.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyflow",
		Name:      "runs_total",
		Help:      "Finished workflow runs by outcome status",
	}, []string{"status"}) // status: completed, suspended, failed

	pm.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "storyflow",
		Name:      "inflight_nodes",
		Help:      "Current number of node invocations executing concurrently",
	})

	pm.frontierDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "storyflow",
		Name:      "frontier_depth",
		Help:      "Number of invocations queued in the current super-step",
	})

	pm.nodeLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storyflow",
		Name:      "node_latency_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"run_id", "node_id", "status"}) // status: success, error, suspended

	pm.mergeFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyflow",
		Name:      "merge_failures_total",
		Help:      "State deltas rejected during policy merge",
	}, []string{"run_id", "category"})

	pm.suspensions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyflow",
		Name:      "suspensions_total",
		Help:      "Suspension records written for human or external decisions",
	}, []string{"run_id", "node_id"})

	pm.resumes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyflow",
		Name:      "resumes_total",
		Help:      "Successful resume entries into suspended runs",
	}, []string{"run_id"})

	pm.guardRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyflow",
		Name:      "guard_retries_total",
		Help:      "Guardrail regeneration attempts triggered by hard violations",
	}, []string{"run_id", "node_id"})

	pm.violations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyflow",
		Name:      "violations_total",
		Help:      "Guardrail findings by severity",
	}, []string{"run_id", "severity"}) // severity: hard, soft

	return pm
}

// RecordNodeLatency records one node execution duration in the
// node_latency_ms histogram. Status is "success", "error", or "suspended".
func (pm *PrometheusMetrics) RecordNodeLatency(runID, nodeID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.nodeLatency.WithLabelValues(runID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

// UpdateInflightNodes sets the inflight_nodes gauge.
func (pm *PrometheusMetrics) UpdateInflightNodes(count int) {
	if !pm.isEnabled() {
		return
	}
	pm.inflightNodes.Set(float64(count))
}

// UpdateFrontierDepth sets the frontier_depth gauge.
func (pm *PrometheusMetrics) UpdateFrontierDepth(depth int) {
	if !pm.isEnabled() {
		return
	}
	pm.frontierDepth.Set(float64(depth))
}

// IncrementRuns counts one finished run with the given outcome status.
func (pm *PrometheusMetrics) IncrementRuns(status string) {
	if !pm.isEnabled() {
		return
	}
	pm.runs.WithLabelValues(status).Inc()
}

// IncrementMergeFailures counts one rejected delta merge.
func (pm *PrometheusMetrics) IncrementMergeFailures(runID, category string) {
	if !pm.isEnabled() {
		return
	}
	pm.mergeFailures.WithLabelValues(runID, category).Inc()
}

// IncrementSuspensions counts one suspension record written.
func (pm *PrometheusMetrics) IncrementSuspensions(runID, nodeID string) {
	if !pm.isEnabled() {
		return
	}
	pm.suspensions.WithLabelValues(runID, nodeID).Inc()
}

// IncrementResumes counts one successful resume entry.
func (pm *PrometheusMetrics) IncrementResumes(runID string) {
	if !pm.isEnabled() {
		return
	}
	pm.resumes.WithLabelValues(runID).Inc()
}

// IncrementGuardRetries counts one guardrail regeneration attempt. Intended
// for callers running retry controllers inside node bodies.
func (pm *PrometheusMetrics) IncrementGuardRetries(runID, nodeID string) {
	if !pm.isEnabled() {
		return
	}
	pm.guardRetries.WithLabelValues(runID, nodeID).Inc()
}

// IncrementViolations counts guardrail findings by severity ("hard" or
// "soft").
func (pm *PrometheusMetrics) IncrementViolations(runID, severity string) {
	if !pm.isEnabled() {
		return
	}
	pm.violations.WithLabelValues(runID, severity).Inc()
}

// Disable suspends metric recording. Useful in tests.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the gauges. Counters and histograms are cumulative and stay
// untouched; use a fresh registry for test isolation.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.inflightNodes.Set(0)
	pm.frontierDepth.Set(0)
}

func (pm *PrometheusMetrics) isEnabled() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}
