package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors. Each instance owns its registry so
// tests can build as many as they like without duplicate registration panics.
type Metrics struct {
	registry *prometheus.Registry

	GenerationRequests  *prometheus.CounterVec
	GenerationStageErrs *prometheus.CounterVec
	EnhanceFallbacks    *prometheus.CounterVec
	UpstreamLatency     *prometheus.HistogramVec
	PollResults         *prometheus.CounterVec
	SessionWrites       *prometheus.CounterVec
}

// NewMetrics registers all collectors in a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		GenerationRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weltverbinder_generation_requests_total",
			Help: "Generation requests partitioned by outcome (video, processing, unsafe, invalid, error).",
		}, []string{"outcome"}),
		GenerationStageErrs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weltverbinder_generation_stage_errors_total",
			Help: "Upstream failures partitioned by orchestration stage.",
		}, []string{"stage"}),
		EnhanceFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weltverbinder_enhance_fallbacks_total",
			Help: "Prompt enhancement fallbacks to the original prompt, by reason.",
		}, []string{"reason"}),
		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "weltverbinder_upstream_call_seconds",
			Help:    "Latency of outbound AI provider calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"stage"}),
		PollResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weltverbinder_poll_results_total",
			Help: "Poll relay responses partitioned by normalized status.",
		}, []string{"status"}),
		SessionWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weltverbinder_session_writes_total",
			Help: "Debounced session state writes partitioned by result.",
		}, []string{"result"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry gives tests access to gathered values.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
