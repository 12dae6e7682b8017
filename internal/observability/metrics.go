package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.HistogramVec

	turns       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	aiCalls     *prometheus.HistogramVec

	storeOps       *prometheus.HistogramVec
	storeConflicts *prometheus.CounterVec
	storeRetries   *prometheus.CounterVec

	generationRuns   *prometheus.HistogramVec
	generationRolled prometheus.Counter

	autosaves *prometheus.CounterVec
	reaper    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coursebuilder_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursebuilder_turns_total",
			Help: "Conversation turns by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursebuilder_stage_transitions_total",
			Help: "Session stage transitions.",
		}, []string{"from", "to", "cause"}),
		aiCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coursebuilder_ai_call_duration_seconds",
			Help:    "AI gateway call latency by result kind.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"result"}),
		storeOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coursebuilder_store_operation_duration_seconds",
			Help:    "Session store operations by status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		storeConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursebuilder_store_conflicts_total",
			Help: "Optimistic concurrency conflicts.",
		}, []string{"op"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursebuilder_store_retries_total",
			Help: "Transient storage failures that were retried.",
		}, []string{"op"}),
		generationRuns: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coursebuilder_generation_duration_seconds",
			Help:    "Generation pipeline runs by status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		generationRolled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursebuilder_generation_rolled_back_entities_total",
			Help: "Entities removed by generation rollback.",
		}),
		autosaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursebuilder_autosave_total",
			Help: "Auto-save attempts by outcome.",
		}, []string{"outcome"}),
		reaper: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursebuilder_reaper_sessions_total",
			Help: "Sessions handled by the reaper by action.",
		}, []string{"action"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.turns, m.transitions, m.aiCalls,
		m.storeOps, m.storeConflicts, m.storeRetries,
		m.generationRuns, m.generationRolled,
		m.autosaves, m.reaper,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) IncTurn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncTransition(from, to, cause string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, cause).Inc()
}

func (m *Metrics) ObserveAICall(result string, dur time.Duration) {
	if m == nil {
		return
	}
	m.aiCalls.WithLabelValues(result).Observe(dur.Seconds())
}

func (m *Metrics) ObserveStoreOperation(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(op, status).Observe(dur.Seconds())
}

func (m *Metrics) IncStoreConflict(op string) {
	if m == nil {
		return
	}
	m.storeConflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) IncStoreRetry(op string) {
	if m == nil {
		return
	}
	m.storeRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveGeneration(status string, rolledBack int, dur time.Duration) {
	if m == nil {
		return
	}
	m.generationRuns.WithLabelValues(status).Observe(dur.Seconds())
	if rolledBack > 0 {
		m.generationRolled.Add(float64(rolledBack))
	}
}

func (m *Metrics) IncAutoSave(outcome string) {
	if m == nil {
		return
	}
	m.autosaves.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddReaper(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reaper.WithLabelValues(action).Add(float64(n))
}
