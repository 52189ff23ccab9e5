// Package orchestrator wires the event log, entity store, guardrail
// engine, approval queue, worker pool, and scheduler into a single Core
// facade exposing exactly the External Interface operations a frontend
// calls: CreateTask, CreateGoal, ActivateGoal, RunTask, Cancel, ListTasks,
// ListGoals, ListApprovals, Decide, Status.
//
// No single teacher file plays this composition-root role directly; the
// wiring sequence is grounded on cmd/nexus/main.go's service-construction
// order (event log/store first, then the engines that depend on it, then
// the pool and scheduler last).
package orchestrator

import (
	"context"

	"github.com/nexora-run/taskorch/internal/approval"
	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/entitystore"
	"github.com/nexora-run/taskorch/internal/eventlog"
	"github.com/nexora-run/taskorch/internal/guardrail"
	"github.com/nexora-run/taskorch/internal/learning"
	"github.com/nexora-run/taskorch/internal/scheduler"
	"github.com/nexora-run/taskorch/internal/workerpool"
)

// Status summarizes the running system for a frontend's status check.
type Status struct {
	Running          bool                      `json:"running"`
	PoolStatus       []workerpool.WorkerStatus `json:"pool_status"`
	QueueLength      int                       `json:"queue_length"`
	PendingApprovals int                       `json:"pending_approvals"`
}

// Core is the single facade a frontend collaborator calls into.
type Core struct {
	log       *eventlog.Store
	entities  *entitystore.Store
	guard     *guardrail.Engine
	approvals *approval.Queue
	pool      *workerpool.Pool
	learnings *learning.Store
	sched     *scheduler.Scheduler

	running bool
}

// New assembles a Core from already-constructed components. Building each
// component (picking ports, secrets, on-disk paths) is the caller's job —
// typically cmd/orchestratord's composition root.
func New(log *eventlog.Store, entities *entitystore.Store, guard *guardrail.Engine, approvals *approval.Queue, pool *workerpool.Pool, learnings *learning.Store, sched *scheduler.Scheduler) *Core {
	return &Core{
		log:       log,
		entities:  entities,
		guard:     guard,
		approvals: approvals,
		pool:      pool,
		learnings: learnings,
		sched:     sched,
	}
}

// Start brings up the worker pool and scheduler tick loop.
func (c *Core) Start(ctx context.Context) {
	c.pool.Start(ctx)
	c.sched.Start(ctx)
	c.running = true
}

// Stop halts the scheduler tick loop and drains the worker pool.
func (c *Core) Stop(grace func()) {
	c.sched.Stop()
	c.running = false
}

// CreateTask records a new task with TaskPending status, origin "user".
func (c *Core) CreateTask(ctx context.Context, description string, priority domain.TaskPriority, tags []string) (domain.Task, error) {
	if priority == "" {
		priority = domain.PriorityMedium
	}
	return c.entities.CreateTask(ctx, domain.Task{
		Description: description,
		Origin:      domain.OriginUser,
		Priority:    priority,
		Tags:        tags,
	})
}

// CreateGoal records a new goal in GoalDraft status; ActivateGoal must be
// called separately to decompose it into tasks.
func (c *Core) CreateGoal(ctx context.Context, description, successCriteria string) (domain.Goal, error) {
	return c.entities.CreateGoal(ctx, domain.Goal{
		Description:     description,
		SuccessCriteria: successCriteria,
		Status:          domain.GoalDraft,
	})
}

// ActivateGoal decomposes goalID into tasks and marks it active.
func (c *Core) ActivateGoal(ctx context.Context, goalID string) error {
	return c.sched.ActivateGoal(ctx, goalID)
}

// RunTask dispatches taskID immediately, bypassing the normal priority
// queue order, though it is still subject to guardrail classification.
func (c *Core) RunTask(ctx context.Context, taskID string) error {
	t, err := c.entities.GetTask(taskID)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return domain.New(domain.KindIllegalTransition, "task %s is already terminal (%s)", taskID, t.Status)
	}

	verdict := c.guard.Classify(guardrail.Action{Description: t.Description, CallerID: string(t.Origin)})
	switch {
	case verdict.Deny:
		_, err := c.entities.UpdateTask(ctx, taskID, func(task *domain.Task) {
			task.Status = domain.TaskFailed
		})
		return err
	case verdict.RequireApproval:
		_, err := c.approvals.Request(ctx, domain.Approval{
			TaskID: taskID,
			Type:   domain.ApprovalTaskExecution,
			Level:  verdict.Level,
			Reason: verdict.Reason,
		}, nil)
		return err
	default:
		t.PromptContext = c.learnings.Query(t.Tags, 0, 0)
		updated, err := c.entities.UpdateTask(ctx, taskID, func(task *domain.Task) {
			task.Status = domain.TaskActive
			task.PromptContext = t.PromptContext
		})
		if err != nil {
			return err
		}
		c.pool.Submit(updated)
		return nil
	}
}

// Cancel stops taskID, whether it's queued, dispatched, or blocked.
func (c *Core) Cancel(ctx context.Context, taskID string) error {
	return c.sched.Cancel(ctx, taskID)
}

// ListTasks returns tasks matching filter.
func (c *Core) ListTasks(filter entitystore.Filter) []domain.Task {
	return c.entities.ListTasks(filter)
}

// ListGoals returns every known goal.
func (c *Core) ListGoals() []domain.Goal {
	return c.entities.ListGoals()
}

// ListApprovals returns approvals; pendingOnly restricts to undecided ones.
func (c *Core) ListApprovals(pendingOnly bool) []domain.Approval {
	return c.entities.ListApprovals(pendingOnly)
}

// Decide resolves a pending approval. The scheduler's next tick picks up
// the resulting state change (redispatch or cancellation).
func (c *Core) Decide(ctx context.Context, approvalID string, decision domain.Decision, decidedBy string) (domain.Approval, error) {
	return c.approvals.Decide(ctx, approvalID, decision, decidedBy)
}

// Status reports the running system's current shape.
func (c *Core) Status() Status {
	workers, queueLen := c.pool.Status()
	return Status{
		Running:          c.running,
		PoolStatus:       workers,
		QueueLength:      queueLen,
		PendingApprovals: len(c.entities.ListApprovals(true)),
	}
}
