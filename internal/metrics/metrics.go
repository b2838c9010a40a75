package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fastygo/planner/domain"
)

// Metrics holds the planner collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	mutations       *prometheus.CounterVec
	inflight        *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
	rollbackFailure *prometheus.CounterVec
	jobState        *prometheus.GaugeVec
	breakerState    *prometheus.GaugeVec
	droppedChanges  prometheus.Counter
	mirrorBacklog   prometheus.Gauge
}

var breakerStates = []string{"closed", "half-open", "open"}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planner",
			Name:      "mutations_total",
			Help:      "Optimistic mutations by name and outcome.",
		}, []string{"mutation", "outcome"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "planner",
			Name:      "mutations_inflight",
			Help:      "Mutations dispatched and not yet settled.",
		}, []string{"mutation"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "planner",
			Name:      "mutation_duration_seconds",
			Help:      "Time from local apply to settlement.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"mutation"}),
		rollbackFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planner",
			Name:      "rollback_failures_total",
			Help:      "Snapshots that could not be restored.",
		}, []string{"kind"}),
		jobState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "planner",
			Name:      "reschedule_jobs",
			Help:      "Reschedule jobs by state across scopes.",
		}, []string{"state"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "planner",
			Name:      "backend_breaker_state",
			Help:      "1 for the current circuit breaker state.",
		}, []string{"state"}),
		droppedChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "planner",
			Name:      "change_signals_dropped_total",
			Help:      "Change signals dropped on slow subscribers.",
		}),
		mirrorBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "planner",
			Name:      "mirror_backlog",
			Help:      "Mirror writes waiting in the local buffer.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.mutations,
		m.inflight,
		m.latency,
		m.rollbackFailure,
		m.jobState,
		m.breakerState,
		m.droppedChanges,
		m.mirrorBacklog,
	)
	m.BreakerState("closed")
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) MutationStarted(name string) {
	m.inflight.WithLabelValues(name).Inc()
}

func (m *Metrics) MutationSettled(name, outcome string, elapsed time.Duration) {
	m.inflight.WithLabelValues(name).Dec()
	m.mutations.WithLabelValues(name, outcome).Inc()
	m.latency.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (m *Metrics) RollbackFailed(kind string) {
	m.rollbackFailure.WithLabelValues(kind).Inc()
}

// JobTransition moves one job between state gauges. from is empty for a new job.
func (m *Metrics) JobTransition(from, to domain.JobState) {
	if from == to {
		return
	}
	if from != "" {
		m.jobState.WithLabelValues(string(from)).Dec()
	}
	m.jobState.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) BreakerState(state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.breakerState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ChangeDropped() {
	m.droppedChanges.Inc()
}

func (m *Metrics) MirrorBacklog(n int) {
	m.mirrorBacklog.Set(float64(n))
}
