// Package scheduler implements the Scheduler (C8): the central tick loop
// that drains worker completions, resolves approvals, evaluates triggers,
// selects and dispatches the next task, and injects relevant learnings
// into newly-dispatched prompt context.
//
// Grounded on internal/tasks/scheduler.go's loop split (pollLoop/
// acquireLoop/cleanupLoop driven by independent tickers), restructured
// into the single ordered five-step tick spec.md §4.8 names and driven by
// one time.Ticker rather than github.com/robfig/cron/v3 — the teacher's
// cron parser has no caller here since the tick cadence is a fixed
// millisecond interval, not a cron expression.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nexora-run/taskorch/internal/approval"
	"github.com/nexora-run/taskorch/internal/decompose"
	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/entitystore"
	"github.com/nexora-run/taskorch/internal/eventlog"
	"github.com/nexora-run/taskorch/internal/guardrail"
	"github.com/nexora-run/taskorch/internal/learning"
	"github.com/nexora-run/taskorch/internal/observability"
	"github.com/nexora-run/taskorch/internal/workerpool"
	"go.opentelemetry.io/otel/trace"
)

// Config tunes the tick loop per spec.md §6.
type Config struct {
	Interval         time.Duration
	MaxAttempts      int
	StaleGoalDays    int
	BlockedTaskHours int
	LearningTopK     int
	MinConfidence    float64
}

// DefaultConfig mirrors spec.md §6's loop.interval_ms/triggers.*/
// learning.min_confidence defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         10 * time.Second,
		MaxAttempts:      3,
		StaleGoalDays:    3,
		BlockedTaskHours: 24,
		LearningTopK:     5,
		MinConfidence:    0.6,
	}
}

// Decomposer is the C9 surface the scheduler calls on goal activation.
type Decomposer interface {
	Decompose(ctx context.Context, goal domain.Goal) ([]decompose.TaskSpec, error)
}

// Scheduler is the Scheduler (C8). A single goroutine runs Tick at
// cfg.Interval; the tick itself is single-threaded per spec.md §5.
type Scheduler struct {
	cfg        Config
	entities   *entitystore.Store
	guard      *guardrail.Engine
	approvals  *approval.Queue
	pool       *workerpool.Pool
	learnings  *learning.Store
	log        *eventlog.Store
	decomposer Decomposer
	tracer     *observability.Tracer
	metrics    *observability.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// SetTracer attaches a tracer used to span each tick. Ticks run untraced
// until this is called; the zero value is safe to leave unset in tests.
func (s *Scheduler) SetTracer(tracer *observability.Tracer) {
	s.tracer = tracer
}

// SetMetrics attaches Prometheus collectors for tick duration and task
// outcomes. Left nil, the scheduler runs without recording metrics.
func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// New builds a Scheduler wiring together C2-C7, C9 and C10.
func New(cfg Config, entities *entitystore.Store, guard *guardrail.Engine, approvals *approval.Queue, pool *workerpool.Pool, learnings *learning.Store, log *eventlog.Store, decomposer Decomposer) *Scheduler {
	if cfg.Interval <= 0 {
		cfg = DefaultConfig()
	}
	return &Scheduler{
		cfg:        cfg,
		entities:   entities,
		guard:      guard,
		approvals:  approvals,
		pool:       pool,
		learnings:  learnings,
		log:        log,
		decomposer: decomposer,
	}
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the tick loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// Tick runs the five ordered steps from spec.md §4.8 once. It is exported
// so tests (and a manual "step" CLI command) can drive it deterministically
// instead of waiting on the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "scheduler.tick")
		defer span.End()
	}
	start := time.Now()
	s.drainCompletions(ctx)
	s.checkApprovals(ctx)
	s.evaluateTriggers(ctx)
	s.dispatchNext(ctx)
	if s.metrics != nil {
		s.metrics.ObserveSchedulerTick(time.Since(start).Seconds())
		s.metrics.SetQueueDepth(len(s.dispatchableCandidates()))
	}
}

// drainCompletions applies any outcomes the worker pool has produced since
// the last tick to task entity state, feeding the retry policy from
// spec.md §4.8: a transient failure (worker crash, timeout) halves the
// effective attempt count used for the max_attempts comparison rather than
// letting every crash consume a full retry.
func (s *Scheduler) drainCompletions(ctx context.Context) {
	for {
		select {
		case outcome := <-s.pool.Results:
			s.applyOutcome(ctx, outcome)
		default:
			return
		}
	}
}

func (s *Scheduler) applyOutcome(ctx context.Context, outcome workerpool.Outcome) {
	updated, err := s.entities.UpdateTask(ctx, outcome.Task.ID, func(t *domain.Task) {
		t.Attempts = append(t.Attempts, outcome.Attempt)
	})
	if err != nil {
		// Task already terminal (e.g. cancelled mid-flight): nothing to
		// reconcile.
		return
	}

	if outcome.Err == nil {
		s.entities.UpdateTask(ctx, updated.ID, func(t *domain.Task) {
			t.Status = domain.TaskCompleted
		})
		s.recordTaskEvent(ctx, updated, "task_completed", nil)
		s.maybeCompleteGoal(ctx, updated.GoalID)
		if s.metrics != nil {
			s.metrics.RecordTaskOutcome(string(domain.TaskCompleted), len(updated.Attempts))
		}
		return
	}

	transient := outcome.Crashed || domain.Is(outcome.Err, domain.KindWorkerCrashed) || domain.Is(outcome.Err, domain.KindTimeout) || domain.Is(outcome.Err, domain.KindSandboxCrashed)
	effectiveAttempts := len(updated.Attempts)
	if transient {
		effectiveAttempts /= 2
	}

	if effectiveAttempts < s.cfg.MaxAttempts {
		final, err := s.entities.UpdateTask(ctx, updated.ID, func(t *domain.Task) {
			t.Status = domain.TaskPending
		})
		if err == nil && outcome.Crashed {
			// bypass the next tick's FIFO-by-created_at ordering so a
			// crashed task is retried before other queued work, per
			// spec.md §4.7's "re-queued at the head" contract.
			s.pool.SubmitHead(final)
		}
		s.recordTaskEvent(ctx, updated, "task_retry_scheduled", map[string]any{"error": outcome.Err.Error()})
		return
	}

	s.entities.UpdateTask(ctx, updated.ID, func(t *domain.Task) {
		t.Status = domain.TaskFailed
	})
	s.recordTaskEvent(ctx, updated, "task_failed", map[string]any{"error": outcome.Err.Error()})
	if s.metrics != nil {
		s.metrics.RecordTaskOutcome(string(domain.TaskFailed), len(updated.Attempts))
	}
}

func (s *Scheduler) maybeCompleteGoal(ctx context.Context, goalID string) {
	if goalID == "" {
		return
	}
	goal, err := s.entities.GetGoal(goalID)
	if err != nil {
		return
	}
	for _, taskID := range goal.TaskIDs {
		t, err := s.entities.GetTask(taskID)
		if err != nil || t.Status != domain.TaskCompleted {
			return
		}
	}
	s.entities.UpdateGoal(ctx, goalID, func(g *domain.Goal) { g.Status = domain.GoalCompleted })
}

// checkApprovals implements spec.md §4.8 step 2: a resolved approval tied
// to a still-blocked task either re-queues it (approved) or cancels it
// (rejected). Implemented as an idempotent poll rather than a one-shot
// continuation so two consecutive ticks with no new decisions are a no-op,
// per the tick's idempotency requirement.
func (s *Scheduler) checkApprovals(ctx context.Context) {
	for _, a := range s.entities.ListApprovals(false) {
		if !a.Resolved() || a.TaskID == "" {
			continue
		}
		task, err := s.entities.GetTask(a.TaskID)
		if err != nil || task.Status.IsTerminal() || task.Approved {
			continue
		}
		switch a.Decision {
		case domain.DecisionApproved:
			s.entities.UpdateTask(ctx, task.ID, func(t *domain.Task) {
				t.Approved = true
				t.Status = domain.TaskPending
			})
			s.recordTaskEvent(ctx, task, "task_approved", nil)
		case domain.DecisionRejected:
			s.entities.UpdateTask(ctx, task.ID, func(t *domain.Task) {
				t.Status = domain.TaskCancelled
			})
			s.recordTaskEvent(ctx, task, "task_cancelled", map[string]any{"reason": "approval rejected"})
		}
	}
}

// evaluateTriggers implements spec.md §4.8 step 3: emits events (does not
// mutate entity state) for goals and tasks that have sat too long.
func (s *Scheduler) evaluateTriggers(ctx context.Context) {
	now := time.Now()
	staleCutoff := now.Add(-time.Duration(s.cfg.StaleGoalDays) * 24 * time.Hour)
	for _, g := range s.entities.ListGoals() {
		if g.Status == domain.GoalActive && g.UpdatedAt.Before(staleCutoff) {
			s.log.Append(ctx, domain.Event{Actor: domain.ActorScheduler, Act: "goal_stale", Payload: map[string]any{"goal_id": g.ID}})
		}
	}

	blockedCutoff := now.Add(-time.Duration(s.cfg.BlockedTaskHours) * time.Hour)
	for _, t := range s.entities.ListTasks(entitystore.Filter{Status: string(domain.TaskBlocked)}) {
		if t.UpdatedAt.Before(blockedCutoff) {
			s.log.Append(ctx, domain.Event{Actor: domain.ActorScheduler, Act: "task_blocked_too_long", Payload: map[string]any{"task_id": t.ID}})
		}
	}
}

// dispatchNext implements spec.md §4.8 step 4: pick the highest-priority,
// earliest-created dispatchable task, classify it, and either gate on
// approval, fail it, or submit it to the worker pool (with the top
// relevant learnings attached per step 5).
func (s *Scheduler) dispatchNext(ctx context.Context) {
	candidates := s.dispatchableCandidates()
	if len(candidates) == 0 {
		return
	}
	head := candidates[0]

	// A task already granted approval (checkApprovals set head.Approved and
	// requeued it as pending) dispatches unconditionally: re-classifying it
	// here would re-gate on the same destructive description forever and the
	// task would never run.
	if head.Approved {
		s.dispatch(ctx, head)
		return
	}

	verdict := s.guard.Classify(guardrail.Action{
		Description: head.Description,
		CallerID:    string(head.Origin),
	})

	switch {
	case verdict.Deny:
		s.entities.UpdateTask(ctx, head.ID, func(t *domain.Task) { t.Status = domain.TaskFailed })
		s.recordTaskEvent(ctx, head, "task_failed", map[string]any{"reason": verdict.Reason})
	case verdict.RequireApproval:
		if s.hasOpenApproval(head.ID) {
			return
		}
		appr := domain.Approval{TaskID: head.ID, Type: domain.ApprovalTaskExecution, Level: verdict.Level, Reason: verdict.Reason}
		if _, err := s.approvals.Request(ctx, appr, nil); err == nil {
			s.recordTaskEvent(ctx, head, "task_approval_requested", map[string]any{"reason": verdict.Reason})
		}
	default:
		s.dispatch(ctx, head)
	}
}

// hasOpenApproval reports whether taskID already has an unresolved approval
// pending, so dispatchNext's classify-and-request path doesn't create a new
// Approval entity on every tick while a task sits gated.
func (s *Scheduler) hasOpenApproval(taskID string) bool {
	for _, a := range s.entities.ListApprovals(true) {
		if a.TaskID == taskID {
			return true
		}
	}
	return false
}

func (s *Scheduler) dispatch(ctx context.Context, t domain.Task) {
	t.PromptContext = s.learnings.Query(t.Tags, s.cfg.MinConfidence, s.cfg.LearningTopK)

	updated, err := s.entities.UpdateTask(ctx, t.ID, func(task *domain.Task) {
		task.Status = domain.TaskActive
		task.PromptContext = t.PromptContext
	})
	if err != nil {
		return
	}
	s.pool.Submit(updated)
	s.recordTaskEvent(ctx, updated, "task_dispatched", map[string]any{"learnings_attached": len(t.PromptContext)})
}

// dispatchableCandidates returns pending tasks whose dependencies are all
// completed, sorted by priority (critical < high < medium < low) then
// created_at ascending, per spec.md §4.8 step 4.
func (s *Scheduler) dispatchableCandidates() []domain.Task {
	pending := s.entities.ListTasks(entitystore.Filter{Status: string(domain.TaskPending)})
	completed := make(map[string]bool)
	for _, t := range s.entities.ListTasks(entitystore.Filter{Status: string(domain.TaskCompleted)}) {
		completed[t.ID] = true
	}

	var out []domain.Task
	for _, t := range pending {
		ready := true
		for _, dep := range t.Dependencies {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ActivateGoal implements spec.md §4.8's goal activation: C9 proposes task
// specs with internal dependency indexes; the scheduler creates Tasks in
// C2, maps dependency indexes to the newly-created ids, and transitions
// the goal to active.
func (s *Scheduler) ActivateGoal(ctx context.Context, goalID string) error {
	goal, err := s.entities.GetGoal(goalID)
	if err != nil {
		return err
	}

	specs, err := s.decomposer.Decompose(ctx, goal)
	if err != nil {
		return err
	}

	ids := make([]string, len(specs))
	for i, spec := range specs {
		t, err := s.entities.CreateTask(ctx, domain.Task{
			Description: spec.Description,
			Origin:      domain.OriginDecomposition,
			GoalID:      goalID,
			Priority:    domain.PriorityMedium,
		})
		if err != nil {
			return err
		}
		ids[i] = t.ID
	}
	for i, spec := range specs {
		deps := make([]string, len(spec.Dependencies))
		for j, depIdx := range spec.Dependencies {
			deps[j] = ids[depIdx]
		}
		if len(deps) > 0 {
			s.entities.UpdateTask(ctx, ids[i], func(t *domain.Task) { t.Dependencies = deps })
		}
	}

	_, err = s.entities.UpdateGoal(ctx, goalID, func(g *domain.Goal) {
		g.Status = domain.GoalActive
		g.TaskIDs = ids
	})
	return err
}

// Cancel implements spec.md §4.8's cancellation: signal C7 to kill the
// worker handling an active task; the task transitions to cancelled on the
// next drain once the pool reports the outcome. If the task is still only
// pending (never dispatched), it is cancelled immediately.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	task, err := s.entities.GetTask(taskID)
	if err != nil {
		return err
	}
	if task.Status == domain.TaskActive {
		s.pool.CancelTask(taskID)
		return nil
	}
	_, err = s.entities.UpdateTask(ctx, taskID, func(t *domain.Task) { t.Status = domain.TaskCancelled })
	return err
}

func (s *Scheduler) recordTaskEvent(ctx context.Context, t domain.Task, act string, extra map[string]any) {
	payload := map[string]any{"task_id": t.ID}
	for k, v := range extra {
		payload[k] = v
	}
	s.log.Append(ctx, domain.Event{Actor: domain.ActorScheduler, Act: act, Payload: s.guard.RedactPayload(payload)})
}
