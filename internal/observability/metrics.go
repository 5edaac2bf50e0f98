package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for plan execution and routing.
//
// All metrics are prefixed with "stepwise_":
//   - stepwise_plan_runs_total{outcome}
//   - stepwise_steps_total{agent,outcome}
//   - stepwise_step_duration_seconds{agent}
//   - stepwise_route_decisions_total{outcome}
//   - stepwise_recorder_failures_total{op}
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	PlanRunsTotal        *prometheus.CounterVec
	StepsTotal           *prometheus.CounterVec
	StepDuration         *prometheus.HistogramVec
	RouteDecisionsTotal  *prometheus.CounterVec
	RecorderFailureTotal *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PlanRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepwise_plan_runs_total",
				Help: "Total number of plan runs by outcome",
			},
			[]string{"outcome"}, // "success", "cancelled"
		),
		StepsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepwise_steps_total",
				Help: "Total number of executed steps by agent type and outcome",
			},
			[]string{"agent", "outcome"}, // "completed", "failed", "no_executor"
		),
		StepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stepwise_step_duration_seconds",
				Help:    "Duration of worker runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"agent"},
		),
		RouteDecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepwise_route_decisions_total",
				Help: "Total number of routing decisions by outcome",
			},
			[]string{"outcome"}, // "oracle", "invalid_answer", "oracle_error"
		),
		RecorderFailureTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepwise_recorder_failures_total",
				Help: "Total number of failed recorder operations",
			},
			[]string{"op"},
		),
	}
}

func (m *Metrics) ObservePlanRun(outcome string) {
	if m == nil {
		return
	}
	m.PlanRunsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStep(agent, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(agent, outcome).Inc()
	if seconds >= 0 {
		m.StepDuration.WithLabelValues(agent).Observe(seconds)
	}
}

func (m *Metrics) ObserveRoute(outcome string) {
	if m == nil {
		return
	}
	m.RouteDecisionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRecorderFailure(op string) {
	if m == nil {
		return
	}
	m.RecorderFailureTotal.WithLabelValues(op).Inc()
}
