package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsWithNilRegistererDoesNotPanic(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordTaskOutcome("completed", 1)
}

func TestRecordLLMRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordLLMRequest("anthropic", "claude-3-opus", "success", 1.2, 100, 40)
	m.RecordLLMRequest("anthropic", "claude-3-opus", "error", 0.3, 50, 0)

	if count := testutil.CollectAndCount(m.LLMRequestCounter); count != 2 {
		t.Fatalf("expected 2 label combinations, got %d", count)
	}
	if count := testutil.CollectAndCount(m.LLMTokensUsed); count != 2 {
		t.Fatalf("expected prompt and completion token series, got %d", count)
	}
}

func TestRecordToolExecution(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordToolExecution("shell", "success", 0.05)
	m.RecordToolExecution("shell", "error", 0.01)
	m.RecordToolExecution("web_search", "success", 0.8)

	if count := testutil.CollectAndCount(m.ToolExecutionCounter); count != 3 {
		t.Fatalf("expected 3 label combinations, got %d", count)
	}
}

func TestRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordError("agentrunner", "timeout")
	m.RecordError("agentrunner", "timeout")
	m.RecordError("toolregistry", "guardrail_denied")

	if count := testutil.CollectAndCount(m.ErrorCounter); count != 2 {
		t.Fatalf("expected 2 label combinations, got %d", count)
	}
}

func TestRecordTaskOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordTaskOutcome("completed", 1)
	m.RecordTaskOutcome("failed", 3)

	if count := testutil.CollectAndCount(m.TaskOutcomes); count != 2 {
		t.Fatalf("expected 2 outcome series, got %d", count)
	}
	if count := testutil.CollectAndCount(m.TaskAttempts); count != 1 {
		t.Fatalf("expected 1 attempts histogram series, got %d", count)
	}
}

func TestGuardrailAndApprovalDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordGuardrailDecision("allow")
	m.RecordGuardrailDecision("deny")
	m.RecordApprovalDecision("approved")

	if count := testutil.CollectAndCount(m.GuardrailDecisions); count != 2 {
		t.Fatalf("expected 2 guardrail outcome series, got %d", count)
	}
	if count := testutil.CollectAndCount(m.ApprovalDecisions); count != 1 {
		t.Fatalf("expected 1 approval outcome series, got %d", count)
	}
}

func TestActiveWorkersAndQueueDepthGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SetActiveWorkers(2)
	m.SetQueueDepth(5)

	if got := testutil.ToFloat64(m.ActiveWorkers); got != 2 {
		t.Fatalf("expected active workers gauge 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 5 {
		t.Fatalf("expected queue depth gauge 5, got %v", got)
	}
}

func TestObserveSchedulerTick(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveSchedulerTick(0.01)

	if count := testutil.CollectAndCount(m.SchedulerTickDuration); count != 1 {
		t.Fatalf("expected 1 observation series, got %d", count)
	}
}
