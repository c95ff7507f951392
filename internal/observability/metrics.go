package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Turn throughput and end status
//   - Per-stage latency across the graph
//   - LLM request performance, token usage, and tool-loop rounds
//   - Tool execution patterns and latencies
//   - Error rates categorized by kind and component
//   - Event-stream volume and overflow drops
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.TurnStarted()
//	defer metrics.RecordStage("answer", time.Since(start).Seconds(), true)
type Metrics struct {
	// TurnCounter counts turns by terminal status.
	// Labels: status (ok|error|cancelled)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures whole-turn latency in seconds.
	// Buckets: 0.1s .. 120s
	TurnDuration prometheus.Histogram

	// ActiveTurns gauges turns currently executing.
	ActiveTurns prometheus.Gauge

	// StageDuration measures per-stage latency in seconds.
	// Labels: stage (router|context_builder|...), ok (true|false)
	StageDuration *prometheus.HistogramVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM calls by provider, model, status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolRounds observes tool-loop rounds per stage invocation.
	// Labels: stage
	ToolRounds *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (ok|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool handler latency in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter counts errors by component and kind.
	ErrorCounter *prometheus.CounterVec

	// EventsEmitted counts turn events by type.
	EventsEmitted *prometheus.CounterVec

	// EventsDropped counts non-essential events dropped under
	// backpressure.
	EventsDropped prometheus.Counter

	// WorldCommits counts durable world writes by status.
	// Labels: status (ok|retried|failed)
	WorldCommits *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics with the
// default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics against a specific registry.
// Tests pass their own registry to avoid duplicate-registration panics.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thalamus_turns_total",
				Help: "Total turns by terminal status.",
			},
			[]string{"status"},
		),
		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "thalamus_turn_duration_seconds",
				Help:    "Whole-turn latency.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		ActiveTurns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "thalamus_active_turns",
				Help: "Turns currently executing.",
			},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "thalamus_stage_duration_seconds",
				Help:    "Per-stage latency.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage", "ok"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "thalamus_llm_request_duration_seconds",
				Help:    "LLM API call latency.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thalamus_llm_requests_total",
				Help: "LLM API calls by provider, model, and status.",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thalamus_llm_tokens_total",
				Help: "Token consumption by provider, model, and type.",
			},
			[]string{"provider", "model", "type"},
		),
		ToolRounds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "thalamus_tool_rounds",
				Help:    "Tool-loop rounds per stage invocation.",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8},
			},
			[]string{"stage"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thalamus_tool_executions_total",
				Help: "Tool invocations by tool and status.",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "thalamus_tool_execution_duration_seconds",
				Help:    "Tool handler latency.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
			},
			[]string{"tool"},
		),
		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thalamus_errors_total",
				Help: "Errors by component and kind.",
			},
			[]string{"component", "kind"},
		),
		EventsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thalamus_events_total",
				Help: "Turn events emitted by type.",
			},
			[]string{"type"},
		),
		EventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "thalamus_events_dropped_total",
				Help: "Non-essential events dropped under backpressure.",
			},
		),
		WorldCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thalamus_world_commits_total",
				Help: "Durable world writes by status.",
			},
			[]string{"status"},
		),
	}
}

// TurnStarted marks a turn as active.
func (m *Metrics) TurnStarted() {
	m.ActiveTurns.Inc()
}

// TurnEnded records a terminal turn status and its duration.
//
// Example:
//
//	metrics.TurnEnded("ok", time.Since(start).Seconds())
func (m *Metrics) TurnEnded(status string, durationSeconds float64) {
	m.ActiveTurns.Dec()
	m.TurnCounter.WithLabelValues(status).Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordStage records one stage invocation.
func (m *Metrics) RecordStage(stage string, durationSeconds float64, ok bool) {
	okLabel := "true"
	if !ok {
		okLabel = "false"
	}
	m.StageDuration.WithLabelValues(stage, okLabel).Observe(durationSeconds)
}

// RecordLLMRequest records a complete LLM API call.
//
// Example:
//
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet", "success", 1.2, 1500, 350)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolRounds records how many rounds a stage's tool loop ran.
func (m *Metrics) RecordToolRounds(stage string, rounds int) {
	m.ToolRounds.WithLabelValues(stage).Observe(float64(rounds))
}

// RecordToolExecution records a tool handler invocation.
//
// Example:
//
//	metrics.RecordToolExecution("memory_query", "ok", 0.25)
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordError records an error occurrence.
//
// Example:
//
//	metrics.RecordError("toolloop", "timeout")
func (m *Metrics) RecordError(component, kind string) {
	m.ErrorCounter.WithLabelValues(component, kind).Inc()
}

// RecordEvent records one emitted turn event.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordEventsDropped records non-essential events dropped under
// backpressure.
func (m *Metrics) RecordEventsDropped(n int) {
	m.EventsDropped.Add(float64(n))
}

// RecordWorldCommit records a durable world write outcome.
//
// Example:
//
//	metrics.RecordWorldCommit("ok")
//	metrics.RecordWorldCommit("retried")
//	metrics.RecordWorldCommit("failed")
func (m *Metrics) RecordWorldCommit(status string) {
	m.WorldCommits.WithLabelValues(status).Inc()
}
