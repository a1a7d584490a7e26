// Package observability holds the Prometheus instruments and the in-process
// latency window of the dialogue processor.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	Turns          *prometheus.CounterVec
	Rounds         prometheus.Histogram
	Predictions    *prometheus.CounterVec
	PolicyErrors   *prometheus.CounterVec
	Actions        *prometheus.CounterVec
	TurnLatency    prometheus.Histogram
	WSMessages     *prometheus.CounterVec
}

// NewMetrics registers the instruments on reg, or on the default registry
// when reg is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently holding a turn lock.",
		}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed user messages by outcome.",
		}, []string{"outcome"}),
		Rounds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_rounds",
			Help:      "Prediction rounds per turn.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 50, 100},
		}),
		Predictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Non-empty predictions by policy.",
		}, []string{"policy"}),
		PolicyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_errors_total",
			Help:      "Policy failures by policy and severity.",
		}, []string{"policy", "severity"}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Executed actions by action and outcome.",
		}, []string{"action", "outcome"}),
		TurnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "Time from receiving a user message to the end of the turn in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
	}
}

func (m *Metrics) ObserveTurn(outcome string, rounds int, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	if rounds > 0 {
		m.Rounds.Observe(float64(rounds))
	}
	m.TurnLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveAction(action string, ok bool) {
	if m == nil {
		return
	}
	outcome := "executed"
	if !ok {
		outcome = "failed"
	}
	m.Actions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObservePrediction(policy string) {
	if m == nil {
		return
	}
	m.Predictions.WithLabelValues(policy).Inc()
}

func (m *Metrics) ObservePolicyError(policy string, fatal bool) {
	if m == nil {
		return
	}
	severity := "recoverable"
	if fatal {
		severity = "fatal"
	}
	m.PolicyErrors.WithLabelValues(policy, severity).Inc()
}

func (m *Metrics) SessionLocked(delta float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(delta)
}

func (m *Metrics) ObserveWS(direction, typ string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, typ).Inc()
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
