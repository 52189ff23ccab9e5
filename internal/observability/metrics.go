package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a centralized set of Prometheus collectors for the
// orchestrator: task/goal lifecycle counts, LLM request performance, tool
// execution latency, guardrail and approval decisions, and error rates by
// component.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordTaskOutcome("completed", 1)
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption by provider, model, and type
	// (prompt|completion).
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by tool name and status.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error kind.
	ErrorCounter *prometheus.CounterVec

	// TaskOutcomes counts terminal task statuses (completed|failed).
	TaskOutcomes *prometheus.CounterVec

	// TaskAttempts counts attempts made per task before a terminal status.
	TaskAttempts prometheus.Histogram

	// ActiveWorkers is a gauge tracking busy worker-pool slots.
	ActiveWorkers prometheus.Gauge

	// QueueDepth tracks the number of dispatchable pending tasks.
	QueueDepth prometheus.Gauge

	// GuardrailDecisions counts guardrail verdicts by outcome
	// (allow|deny|require_approval).
	GuardrailDecisions *prometheus.CounterVec

	// ApprovalDecisions counts approval resolutions by outcome
	// (approved|rejected|expired).
	ApprovalDecisions *prometheus.CounterVec

	// GoalsDecomposed counts goal decomposition attempts by status.
	GoalsDecomposed *prometheus.CounterVec

	// SchedulerTickDuration measures one scheduler tick's wall time.
	SchedulerTickDuration prometheus.Histogram
}

// NewMetrics creates every collector and, if reg is non-nil, registers
// them with it. reg may be nil to build an unregistered Metrics (tests
// construct their own prometheus.NewRegistry() to avoid colliding with
// other packages' default-registry collectors).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LLMRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskorch_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskorch_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskorch_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskorch_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskorch_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskorch_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),

		TaskOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskorch_task_outcomes_total",
				Help: "Total number of tasks reaching a terminal status",
			},
			[]string{"status"},
		),

		TaskAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskorch_task_attempts",
				Help:    "Number of attempts a task made before reaching a terminal status",
				Buckets: []float64{1, 2, 3, 4, 5, 8},
			},
		),

		ActiveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskorch_active_workers",
				Help: "Current number of busy worker-pool slots",
			},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskorch_queue_depth",
				Help: "Current number of dispatchable pending tasks",
			},
		),

		GuardrailDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskorch_guardrail_decisions_total",
				Help: "Total number of guardrail verdicts by outcome",
			},
			[]string{"outcome"},
		),

		ApprovalDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskorch_approval_decisions_total",
				Help: "Total number of approval resolutions by outcome",
			},
			[]string{"outcome"},
		),

		GoalsDecomposed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskorch_goals_decomposed_total",
				Help: "Total number of goal decomposition attempts by status",
			},
			[]string{"status"},
		),

		SchedulerTickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskorch_scheduler_tick_duration_seconds",
				Help:    "Duration of one scheduler tick",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.LLMRequestDuration, m.LLMRequestCounter, m.LLMTokensUsed,
			m.ToolExecutionCounter, m.ToolExecutionDuration, m.ErrorCounter,
			m.TaskOutcomes, m.TaskAttempts, m.ActiveWorkers, m.QueueDepth,
			m.GuardrailDecisions, m.ApprovalDecisions, m.GoalsDecomposed,
			m.SchedulerTickDuration,
		)
	}
	return m
}

// RecordLLMRequest records the outcome and latency of one LLM API call.
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

// RecordToolExecution records one tool invocation's status and latency.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a component and error kind.
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// RecordTaskOutcome records a task reaching a terminal status and how many
// attempts it took to get there.
func (m *Metrics) RecordTaskOutcome(status string, attempts int) {
	m.TaskOutcomes.WithLabelValues(status).Inc()
	if attempts > 0 {
		m.TaskAttempts.Observe(float64(attempts))
	}
}

// RecordGuardrailDecision increments the guardrail decision counter.
func (m *Metrics) RecordGuardrailDecision(outcome string) {
	m.GuardrailDecisions.WithLabelValues(outcome).Inc()
}

// RecordApprovalDecision increments the approval decision counter.
func (m *Metrics) RecordApprovalDecision(outcome string) {
	m.ApprovalDecisions.WithLabelValues(outcome).Inc()
}

// RecordGoalDecomposed increments the goal decomposition counter.
func (m *Metrics) RecordGoalDecomposed(status string) {
	m.GoalsDecomposed.WithLabelValues(status).Inc()
}

// SetActiveWorkers sets the busy-worker gauge.
func (m *Metrics) SetActiveWorkers(n int) {
	m.ActiveWorkers.Set(float64(n))
}

// SetQueueDepth sets the pending-task-queue gauge.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// ObserveSchedulerTick records how long one tick took.
func (m *Metrics) ObserveSchedulerTick(durationSeconds float64) {
	m.SchedulerTickDuration.Observe(durationSeconds)
}
