package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

func TestTurnLifecycleMetrics(t *testing.T) {
	m := newTestMetrics()

	m.TurnStarted()
	if got := testutil.ToFloat64(m.ActiveTurns); got != 1 {
		t.Errorf("ActiveTurns = %v, want 1", got)
	}

	m.TurnEnded("ok", 1.5)
	if got := testutil.ToFloat64(m.ActiveTurns); got != 0 {
		t.Errorf("ActiveTurns after end = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.TurnCounter.WithLabelValues("ok")); got != 1 {
		t.Errorf("TurnCounter[ok] = %v, want 1", got)
	}
}

func TestRecordLLMRequestTracksTokens(t *testing.T) {
	m := newTestMetrics()

	m.RecordLLMRequest("anthropic", "claude-sonnet", "success", 0.8, 1200, 340)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet", "success")); got != 1 {
		t.Errorf("LLMRequestCounter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet", "prompt")); got != 1200 {
		t.Errorf("prompt tokens = %v, want 1200", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet", "completion")); got != 340 {
		t.Errorf("completion tokens = %v, want 340", got)
	}
}

func TestRecordLLMRequestSkipsZeroTokens(t *testing.T) {
	m := newTestMetrics()

	m.RecordLLMRequest("openai", "gpt", "error", 0.2, 0, 0)

	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("openai", "gpt", "prompt")); got != 0 {
		t.Errorf("prompt tokens = %v, want 0", got)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := newTestMetrics()

	m.RecordToolExecution("memory_query", "ok", 0.1)
	m.RecordToolExecution("memory_query", "error", 0.2)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("memory_query", "ok")); got != 1 {
		t.Errorf("tool ok count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("memory_query", "error")); got != 1 {
		t.Errorf("tool error count = %v, want 1", got)
	}
}

func TestRecordEventsAndDrops(t *testing.T) {
	m := newTestMetrics()

	m.RecordEvent("assistant_delta")
	m.RecordEvent("assistant_delta")
	m.RecordEventsDropped(3)

	if got := testutil.ToFloat64(m.EventsEmitted.WithLabelValues("assistant_delta")); got != 2 {
		t.Errorf("events emitted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EventsDropped); got != 3 {
		t.Errorf("events dropped = %v, want 3", got)
	}
}

func TestRecordWorldCommit(t *testing.T) {
	m := newTestMetrics()

	m.RecordWorldCommit("ok")
	m.RecordWorldCommit("retried")

	if got := testutil.ToFloat64(m.WorldCommits.WithLabelValues("ok")); got != 1 {
		t.Errorf("world commits ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WorldCommits.WithLabelValues("retried")); got != 1 {
		t.Errorf("world commits retried = %v, want 1", got)
	}
}
