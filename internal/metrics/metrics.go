// Package metrics defines Butler's Prometheus instruments. Every method
// is safe on a nil *Metrics so callers never need to check.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tool call outcomes used as the status label.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusBlocked = "blocked"
	StatusUnknown = "unknown"
)

// Metrics holds the collectors.
type Metrics struct {
	// ToolCalls counts tool invocations.
	// Labels: tool, status (ok|error|blocked|unknown)
	ToolCalls *prometheus.CounterVec

	// ToolDuration measures dispatch time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// Completions counts completion requests.
	// Labels: model, status (ok|error)
	Completions *prometheus.CounterVec

	// CompletionDuration measures completion latency in seconds.
	// Labels: model
	CompletionDuration *prometheus.HistogramVec

	// Tokens counts tokens reported by providers.
	// Labels: model, type (input|output)
	Tokens *prometheus.CounterVec

	// TurnIterations observes how many completions a turn needed.
	TurnIterations prometheus.Histogram

	// ActiveSessions tracks running sessions.
	// Labels: source (console|websocket)
	ActiveSessions *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "butler_tool_calls_total",
			Help: "Tool invocations by tool and outcome",
		}, []string{"tool", "status"}),

		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "butler_tool_duration_seconds",
			Help:    "Tool dispatch duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		Completions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "butler_completions_total",
			Help: "Completion requests by model and outcome",
		}, []string{"model", "status"}),

		CompletionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "butler_completion_duration_seconds",
			Help:    "Completion request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),

		Tokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "butler_tokens_total",
			Help: "Tokens reported by providers by model and direction",
		}, []string{"model", "type"}),

		TurnIterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "butler_turn_iterations",
			Help:    "Completion requests needed to resolve one turn",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10, 20},
		}),

		ActiveSessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "butler_active_sessions",
			Help: "Currently running sessions by source",
		}, []string{"source"}),
	}
}

// ToolCall records one finished tool call.
func (m *Metrics) ToolCall(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// Completion records one completion request.
func (m *Metrics) Completion(model string, err error, d time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.Completions.WithLabelValues(model, status).Inc()
	m.CompletionDuration.WithLabelValues(model).Observe(d.Seconds())
	if inputTokens > 0 {
		m.Tokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.Tokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// Turn records the number of completions one turn used.
func (m *Metrics) Turn(iterations int) {
	if m == nil {
		return
	}
	m.TurnIterations.Observe(float64(iterations))
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted(source string) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(source).Inc()
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded(source string) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(source).Dec()
}
