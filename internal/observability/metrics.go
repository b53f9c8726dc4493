package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the automation engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ModelRequests   *prometheus.CounterVec
	ModelLatency    *prometheus.HistogramVec
	ToolCalls       *prometheus.CounterVec
	SubtaskAttempts *prometheus.CounterVec
	Runs            *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ModelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automate_model_requests_total",
			Help: "Language model requests by phase and outcome.",
		}, []string{"phase", "outcome"}),
		ModelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "automate_model_request_duration_seconds",
			Help:    "Language model round trip latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"phase"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automate_tool_calls_total",
			Help: "Tool dispatches by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		SubtaskAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automate_subtask_attempts_total",
			Help: "Executor attempts by outcome.",
		}, []string{"outcome"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automate_runs_total",
			Help: "Automation runs by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.ModelRequests, m.ModelLatency, m.ToolCalls, m.SubtaskAttempts, m.Runs)
	return m
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveModelRequest records one model round trip.
func (m *Metrics) ObserveModelRequest(phase string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.ModelRequests.WithLabelValues(phase, outcomeLabel(err)).Inc()
	m.ModelLatency.WithLabelValues(phase).Observe(time.Since(started).Seconds())
}

// ObserveToolCall records one gateway dispatch.
func (m *Metrics) ObserveToolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcomeLabel(err)).Inc()
}

// ObserveAttempt records the end of one executor attempt.
func (m *Metrics) ObserveAttempt(err error) {
	if m == nil {
		return
	}
	m.SubtaskAttempts.WithLabelValues(outcomeLabel(err)).Inc()
}

// ObserveRun records the end of one orchestrator run.
func (m *Metrics) ObserveRun(err error) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcomeLabel(err)).Inc()
}

// Handler exposes the given gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
