// Package domain holds the shared entity types and typed errors used across
// every orchestrator component, so C1 through C10 agree on one vocabulary
// instead of each package inventing its own copies.
package domain

import "time"

// TaskOrigin records who or what created a task.
type TaskOrigin string

const (
	OriginUser         TaskOrigin = "user"
	OriginDecomposition TaskOrigin = "decomposition"
	OriginAutonomous   TaskOrigin = "autonomous"
	OriginReflection   TaskOrigin = "reflection"
)

// TaskPriority orders dispatch within the pending set.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

// priorityRank gives a lower-is-more-urgent ordinal for sorting.
var priorityRank = map[TaskPriority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Rank returns the sort ordinal for p; unknown priorities sort last.
func (p TaskPriority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskBlocked   TaskStatus = "blocked"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether s can no longer transition.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// AttemptRecord is one execution attempt of a Task.
type AttemptRecord struct {
	Success       bool          `json:"success"`
	ElapsedMS     int64         `json:"elapsed_ms"`
	OutputPreview string        `json:"output_preview,omitempty"`
	Error         string        `json:"error,omitempty"`
	WorkerID      string        `json:"worker_id,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// Task is the unit of dispatchable work.
type Task struct {
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	Origin       TaskOrigin      `json:"origin"`
	GoalID       string          `json:"goal_id,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Priority     TaskPriority    `json:"priority"`
	Status       TaskStatus      `json:"status"`
	Attempts     []AttemptRecord `json:"attempts,omitempty"`
	Approved     bool            `json:"approved"`
	Tags         []string        `json:"tags,omitempty"`
	// PromptContext carries the learnings the scheduler attached at the
	// most recent dispatch; recomputed fresh on every dispatch rather than
	// treated as persistent state.
	PromptContext []Learning `json:"prompt_context,omitempty"`

	// Channel/ChannelID let a task created from a frontend message route its
	// result back to the origin conversation.
	Channel   string `json:"channel,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	// WorkerID is the last pool worker that owned this task.
	WorkerID string `json:"worker_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaxAttempts returns the configured retry ceiling; callers supply the
// default since the entity itself carries no policy.
func (t *Task) AttemptCount() int { return len(t.Attempts) }

// GoalStatus is the lifecycle state of a Goal.
type GoalStatus string

const (
	GoalDraft     GoalStatus = "draft"
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
)

// Goal owns a set of Tasks and completes when all of them do.
type Goal struct {
	ID               string         `json:"id"`
	Description      string         `json:"description"`
	SuccessCriteria  string         `json:"success_criteria,omitempty"`
	Status           GoalStatus     `json:"status"`
	TaskIDs          []string       `json:"task_ids,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// ApprovalType classifies what an Approval gates.
type ApprovalType string

const (
	ApprovalTaskExecution    ApprovalType = "task_execution"
	ApprovalPluginApproval   ApprovalType = "plugin_approval"
	ApprovalSelfExtension    ApprovalType = "self_extension"
	ApprovalDestructiveAction ApprovalType = "destructive_action"
)

// ApprovalLevel is how intrusive the gate is.
type ApprovalLevel string

const (
	LevelNotify  ApprovalLevel = "notify"
	LevelConfirm ApprovalLevel = "confirm"
	LevelReview  ApprovalLevel = "review"
)

// Decision is the terminal resolution of an Approval.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Approval is a pending human-in-the-loop gate.
type Approval struct {
	ID         string         `json:"id"`
	TaskID     string         `json:"task_id,omitempty"`
	Type       ApprovalType   `json:"type"`
	Level      ApprovalLevel  `json:"level"`
	Reason     string         `json:"reason,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Decision   Decision       `json:"decision,omitempty"`
	DecidedBy  string         `json:"decided_by,omitempty"`
	DecidedAt  time.Time      `json:"decided_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Resolved reports whether the approval already has a final decision.
func (a *Approval) Resolved() bool { return a.Decision != "" }

// Plugin is an installed extension awaiting or holding approval.
type Plugin struct {
	Name            string    `json:"name"`
	Version         string    `json:"version"`
	Manifest        string    `json:"manifest"`
	EntryPointBytes []byte    `json:"entry_point_bytes,omitempty"`
	Approved        bool      `json:"approved"`
	ApprovedVersion string    `json:"approved_version,omitempty"`
	Signature       string    `json:"signature,omitempty"`
	Loaded          bool      `json:"loaded"`
	SelfCreated     bool      `json:"self_created,omitempty"`
	AnalysisHash    string    `json:"analysis_hash,omitempty"`
	ApprovedAt      time.Time `json:"approved_at,omitempty"`
	ApprovedBy      string    `json:"approved_by,omitempty"`
}

// ToolMetrics is the rolling performance picture for a Tool.
type ToolMetrics struct {
	BaselineLatencyMS float64 `json:"baseline_latency_ms"`
	BaselineErrorRate float64 `json:"baseline_error_rate"`
	BaselineCount     int     `json:"baseline_count"`
	RecentLatencyMS   float64 `json:"recent_latency_ms"`
	RecentErrorRate   float64 `json:"recent_error_rate"`
	RecentCount       int     `json:"recent_count"`
}

// Tool is a host-provided (or plugin-provided) callable.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      map[string]any  `json:"schema,omitempty"`
	Allowed     bool            `json:"allowed"`
	PluginName  string          `json:"plugin_name,omitempty"`
	ErrorWindow []time.Time     `json:"-"`
	Metrics     ToolMetrics     `json:"metrics"`
}

// Actor identifies who or what caused an Event.
type Actor string

const (
	ActorUser      Actor = "user"
	ActorAssistant Actor = "assistant"
	ActorSystem    Actor = "system"
	ActorScheduler Actor = "scheduler"
	ActorSandbox   Actor = "sandbox"
)

// Event is an immutable record appended to the event log.
type Event struct {
	ID       string         `json:"id"`
	TS       time.Time      `json:"ts"`
	Actor    Actor          `json:"actor"`
	Act      string         `json:"act"`
	TraceID  string         `json:"trace_id,omitempty"`
	SpanID   string         `json:"span_id,omitempty"`
	ConvID   string         `json:"conv_id,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
}

// Learning is a decaying observation used to bias future planning.
type Learning struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Context    string    `json:"context,omitempty"`
	Observation string   `json:"observation"`
	Confidence float64   `json:"confidence"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}
