package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runSteps    *prometheus.HistogramVec
	activeRuns  prometheus.Gauge

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	classificationTotal *prometheus.CounterVec
	cacheLookupTotal    *prometheus.CounterVec

	recoveryTotal *prometheus.CounterVec

	trackedConversations prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_runs_total",
					Help: "Total engine runs by complexity tier and completion status.",
				},
				[]string{"tier", "status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "engine_run_duration_seconds",
					Help:    "Engine run duration in seconds by complexity tier.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tier"},
			),
			runSteps: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "engine_run_steps",
					Help:    "Steps consumed per run by complexity tier.",
					Buckets: []float64{1, 2, 3, 5, 7, 10, 15, 20, 25},
				},
				[]string{"tier"},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "engine_active_runs",
					Help: "Number of currently active runs.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_tool_executions_total",
					Help: "Total tool executions by tool name and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "engine_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool name.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			classificationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_classifications_total",
					Help: "Total complexity classifications by method.",
				},
				[]string{"method"},
			),
			cacheLookupTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_classification_cache_lookups_total",
					Help: "Classification cache lookups by outcome.",
				},
				[]string{"outcome"},
			),
			recoveryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_recoveries_total",
					Help: "Recovery strategy executions by error kind and strategy.",
				},
				[]string{"kind", "strategy"},
			),
			trackedConversations: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "engine_tracked_conversations",
					Help: "Conversations currently held in the state tracker.",
				},
			),
		}

		prometheus.MustRegister(
			m.runTotal,
			m.runDuration,
			m.runSteps,
			m.activeRuns,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.classificationTotal,
			m.cacheLookupTotal,
			m.recoveryTotal,
			m.trackedConversations,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered forces metric registration. Safe to call multiple times.
func EnsureRegistered() {
	getMetrics()
}

// MetricsHandler returns an HTTP handler exposing the metrics, for hosts
// that want to scrape the engine.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordRun records a completed run.
func RecordRun(tier, status string, duration time.Duration, steps int) {
	m := getMetrics()
	m.runTotal.WithLabelValues(tier, status).Inc()
	m.runDuration.WithLabelValues(tier).Observe(duration.Seconds())
	m.runSteps.WithLabelValues(tier).Observe(float64(steps))
}

// SetActiveRuns updates the active run gauge.
func SetActiveRuns(count int) {
	getMetrics().activeRuns.Set(float64(count))
}

// RecordToolExecution records a tool dispatch.
func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "success"
	if !success {
		status = "error"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordClassification records a complexity classification by method.
func RecordClassification(method string) {
	getMetrics().classificationTotal.WithLabelValues(method).Inc()
}

// RecordCacheLookup records a classification cache hit or miss.
func RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	getMetrics().cacheLookupTotal.WithLabelValues(outcome).Inc()
}

// RecordRecovery records a recovery strategy execution.
func RecordRecovery(kind, strategy string) {
	getMetrics().recoveryTotal.WithLabelValues(kind, strategy).Inc()
}

// SetTrackedConversations updates the state tracker gauge.
func SetTrackedConversations(count int) {
	getMetrics().trackedConversations.Set(float64(count))
}
