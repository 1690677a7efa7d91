package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for quasar metrics
type PrometheusMetrics struct {
	registry *prometheus.Registry

	submissionsTotal  *prometheus.CounterVec
	exportsTotal      *prometheus.CounterVec
	resourceRequested *prometheus.CounterVec

	submitDuration *prometheus.HistogramVec
	exportDuration prometheus.Histogram

	inflightSubmits     prometheus.Gauge
	circuitBreakerState *prometheus.GaugeVec
}

// Default histogram buckets for submission latency (in milliseconds)
var defaultBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_submissions_total",
				Help:      "Total number of task submissions",
			},
			[]string{"function", "language", "status"},
		),

		exportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "function_exports_total",
				Help:      "Total number of function exports",
			},
			[]string{"status"},
		),

		resourceRequested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_requested_total",
				Help:      "Sum of resource quantities requested by submitted tasks",
			},
			[]string{"resource"},
		),

		submitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_submit_duration_milliseconds",
				Help:      "Time spent handing a task to the backend",
				Buckets:   buckets,
			},
			[]string{"function"},
		),

		exportDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "function_export_duration_milliseconds",
				Help:      "Time spent exporting a function",
				Buckets:   buckets,
			},
		),

		inflightSubmits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_submissions",
				Help:      "Submissions currently waiting on the backend",
			},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Remote backend breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"target"},
		),
	}

	registry.MustRegister(
		pm.submissionsTotal,
		pm.exportsTotal,
		pm.resourceRequested,
		pm.submitDuration,
		pm.exportDuration,
		pm.inflightSubmits,
		pm.circuitBreakerState,
	)

	promMetrics = pm
}

func recordPrometheusSubmit(function, language string, durationMs float64, resources map[string]float64, success bool) {
	if promMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.submissionsTotal.WithLabelValues(function, language, status).Inc()
	promMetrics.submitDuration.WithLabelValues(function).Observe(durationMs)
	if success {
		for name, qty := range resources {
			promMetrics.resourceRequested.WithLabelValues(name).Add(qty)
		}
	}
}

func recordPrometheusExport(durationMs float64, success bool) {
	if promMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.exportsTotal.WithLabelValues(status).Inc()
	promMetrics.exportDuration.Observe(durationMs)
}

func incInflight() {
	if promMetrics != nil {
		promMetrics.inflightSubmits.Inc()
	}
}

func decInflight() {
	if promMetrics != nil {
		promMetrics.inflightSubmits.Dec()
	}
}

// SetCircuitBreakerState sets the breaker state gauge for a remote target.
// state: 0=closed, 1=open, 2=half_open
func SetCircuitBreakerState(target string, state int) {
	if promMetrics == nil {
		return
	}
	promMetrics.circuitBreakerState.WithLabelValues(target).Set(float64(state))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
