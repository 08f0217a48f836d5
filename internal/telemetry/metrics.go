package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scout gateway. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	RequestTotal      *prometheus.CounterVec
	RequestDurationMs *prometheus.HistogramVec
	ToolRoundsTotal   *prometheus.HistogramVec
	ToolCallTotal     *prometheus.CounterVec
	ToolDurationMs    *prometheus.HistogramVec
	DedupeTotal       *prometheus.CounterVec
	RateLimitTotal    *prometheus.CounterVec
	SynthesisTotal    *prometheus.CounterVec
	FinalizerTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on reg, or on the
// default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_request_total",
			Help: "Total number of search requests processed.",
		}, []string{"group", "model", "status"}),

		RequestDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scout_request_duration_ms",
			Help:    "Request duration in milliseconds, from admission to the last streamed event.",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		}, []string{"group", "model"}),

		ToolRoundsTotal: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scout_tool_rounds",
			Help:    "Model rounds used per request.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}, []string{"group"}),

		ToolCallTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_tool_call_total",
			Help: "Total tool invocations.",
		}, []string{"tool", "status"}),

		ToolDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scout_tool_duration_ms",
			Help:    "Tool execution time in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
		}, []string{"tool"}),

		DedupeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_dedupe_total",
			Help: "Requests by deduplication outcome (leader, shared, bypass).",
		}, []string{"outcome"}),

		RateLimitTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_rate_limit_total",
			Help: "Admission decisions.",
		}, []string{"decision"}),

		SynthesisTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_synthesis_total",
			Help: "Synthesis attempts by outcome.",
		}, []string{"outcome"}),

		FinalizerTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_finalizer_total",
			Help: "Post-completion jobs by step and outcome.",
		}, []string{"step", "outcome"}),
	}
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Group      string
	Model      string
	Status     string
	Rounds     int
	DurationMs float64
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	if m == nil {
		return
	}
	m.RequestTotal.WithLabelValues(labels.Group, labels.Model, labels.Status).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Group, labels.Model).Observe(labels.DurationMs)
	if labels.Rounds > 0 {
		m.ToolRoundsTotal.WithLabelValues(labels.Group).Observe(float64(labels.Rounds))
	}
}

// RecordToolCall records one tool execution.
func (m *Metrics) RecordToolCall(tool, status string, durationMs float64) {
	if m == nil {
		return
	}
	m.ToolCallTotal.WithLabelValues(tool, status).Inc()
	m.ToolDurationMs.WithLabelValues(tool).Observe(durationMs)
}

func (m *Metrics) RecordDedupe(outcome string) {
	if m == nil {
		return
	}
	m.DedupeTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRateLimit(decision string) {
	if m == nil {
		return
	}
	m.RateLimitTotal.WithLabelValues(decision).Inc()
}

func (m *Metrics) RecordSynthesis(outcome string) {
	if m == nil {
		return
	}
	m.SynthesisTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordFinalizer(step, outcome string) {
	if m == nil {
		return
	}
	m.FinalizerTotal.WithLabelValues(step, outcome).Inc()
}
