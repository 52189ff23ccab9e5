package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nexora-run/taskorch/internal/approval"
	"github.com/nexora-run/taskorch/internal/decompose"
	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/entitystore"
	"github.com/nexora-run/taskorch/internal/eventlog"
	"github.com/nexora-run/taskorch/internal/guardrail"
	"github.com/nexora-run/taskorch/internal/learning"
	"github.com/nexora-run/taskorch/internal/workerpool"
)

type fakeRunner struct {
	fn func(ctx context.Context, task domain.Task) (domain.AttemptRecord, error)
}

func (f fakeRunner) Run(ctx context.Context, task domain.Task) (domain.AttemptRecord, error) {
	return f.fn(ctx, task)
}

type fakeDecomposer struct {
	specs []decompose.TaskSpec
	err   error
}

func (f fakeDecomposer) Decompose(ctx context.Context, goal domain.Goal) ([]decompose.TaskSpec, error) {
	return f.specs, f.err
}

func newTestScheduler(t *testing.T, runner workerpool.Runner, decomposer Decomposer) (*Scheduler, *entitystore.Store) {
	t.Helper()
	log, err := eventlog.Open(eventlog.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	entities, err := entitystore.Open(log, t.TempDir(), 0)
	if err != nil {
		t.Fatalf("open entity store: %v", err)
	}
	t.Cleanup(func() { entities.Close() })

	guard := guardrail.New(guardrail.DefaultConfig())
	approvals := approval.New(entities)
	learnings := learning.New(learning.DefaultConfig(), entities)

	pool := workerpool.New(workerpool.Config{Workers: 1, MaxAttempts: 3}, runner, nil)
	pool.Start(context.Background())
	t.Cleanup(func() { pool.Shutdown(time.Second) })

	cfg := DefaultConfig()
	cfg.Interval = time.Hour // tests drive Tick manually
	return New(cfg, entities, guard, approvals, pool, learnings, log, decomposer), entities
}

func waitForResult(t *testing.T, pool *workerpool.Pool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		statuses, queued := pool.Status()
		idle := queued == 0
		for _, s := range statuses {
			if s.Busy {
				idle = false
			}
		}
		if idle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for worker pool to go idle")
}

func TestDispatchCompletesTaskOnSuccess(t *testing.T) {
	runner := fakeRunner{fn: func(ctx context.Context, task domain.Task) (domain.AttemptRecord, error) {
		return domain.AttemptRecord{Success: true}, nil
	}}
	sched, entities := newTestScheduler(t, runner, fakeDecomposer{})
	ctx := context.Background()

	task, err := entities.CreateTask(ctx, domain.Task{Description: "say hi", Priority: domain.PriorityMedium})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	sched.Tick(ctx) // select+dispatch
	waitForResult(t, sched.pool, time.Second)
	sched.Tick(ctx) // drain completion

	got, err := entities.GetTask(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != domain.TaskCompleted {
		t.Fatalf("expected task completed, got %s", got.Status)
	}
}

func TestDispatchRetriesOnFailureUntilMaxAttempts(t *testing.T) {
	runner := fakeRunner{fn: func(ctx context.Context, task domain.Task) (domain.AttemptRecord, error) {
		return domain.AttemptRecord{Success: false}, domain.New(domain.KindUnknownAPI, "boom")
	}}
	sched, entities := newTestScheduler(t, runner, fakeDecomposer{})
	sched.cfg.MaxAttempts = 1
	ctx := context.Background()

	task, err := entities.CreateTask(ctx, domain.Task{Description: "do thing", Priority: domain.PriorityMedium})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	sched.Tick(ctx)
	waitForResult(t, sched.pool, time.Second)
	sched.Tick(ctx)

	got, err := entities.GetTask(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != domain.TaskFailed {
		t.Fatalf("expected task failed after exhausting attempts, got %s", got.Status)
	}
}

func TestDependentTaskWaitsForDependency(t *testing.T) {
	sched, entities := newTestScheduler(t, fakeRunner{fn: func(ctx context.Context, task domain.Task) (domain.AttemptRecord, error) {
		return domain.AttemptRecord{Success: true}, nil
	}}, fakeDecomposer{})
	ctx := context.Background()

	first, _ := entities.CreateTask(ctx, domain.Task{Description: "first", Priority: domain.PriorityMedium})
	entities.CreateTask(ctx, domain.Task{Description: "second", Priority: domain.PriorityMedium, Dependencies: []string{first.ID}})

	candidates := sched.dispatchableCandidates()
	if len(candidates) != 1 || candidates[0].ID != first.ID {
		t.Fatalf("expected only the dependency-free task to be dispatchable, got %+v", candidates)
	}
}

func TestDestructiveTaskRequiresApprovalInsteadOfDispatch(t *testing.T) {
	sched, entities := newTestScheduler(t, fakeRunner{fn: func(ctx context.Context, task domain.Task) (domain.AttemptRecord, error) {
		t.Fatal("runner should not be invoked for a task awaiting approval")
		return domain.AttemptRecord{}, nil
	}}, fakeDecomposer{})
	ctx := context.Background()

	task, err := entities.CreateTask(ctx, domain.Task{Description: "rm -rf /", Priority: domain.PriorityMedium})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	sched.Tick(ctx)

	got, err := entities.GetTask(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != domain.TaskPending {
		t.Fatalf("expected task to remain pending awaiting approval, got %s", got.Status)
	}

	pending := sched.approvals.Pending()
	if len(pending) != 1 || pending[0].TaskID != task.ID {
		t.Fatalf("expected one pending approval for the task, got %+v", pending)
	}
}

func TestApprovedTaskIsRedispatched(t *testing.T) {
	sched, entities := newTestScheduler(t, fakeRunner{fn: func(ctx context.Context, task domain.Task) (domain.AttemptRecord, error) {
		return domain.AttemptRecord{Success: true}, nil
	}}, fakeDecomposer{})
	ctx := context.Background()

	task, _ := entities.CreateTask(ctx, domain.Task{Description: "rm -rf /", Priority: domain.PriorityMedium})
	sched.Tick(ctx)

	pending := sched.approvals.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected a pending approval, got %d", len(pending))
	}
	if _, err := sched.approvals.Decide(ctx, pending[0].ID, domain.DecisionApproved, "reviewer"); err != nil {
		t.Fatalf("decide: %v", err)
	}

	sched.Tick(ctx) // checkApprovals should flip the task back to pending+approved
	got, _ := entities.GetTask(task.ID)
	if !got.Approved || got.Status != domain.TaskPending {
		t.Fatalf("expected task approved and pending redispatch, got %+v", got)
	}

	sched.Tick(ctx) // dispatchNext must dispatch an approved head unconditionally
	waitForResult(t, sched.pool, time.Second)
	got, _ = entities.GetTask(task.ID)
	if got.Status != domain.TaskCompleted {
		t.Fatalf("expected the approved task to actually dispatch and complete, got %+v", got)
	}
}

func TestGatedTaskDoesNotAccrueDuplicateApprovals(t *testing.T) {
	sched, entities := newTestScheduler(t, fakeRunner{fn: func(ctx context.Context, task domain.Task) (domain.AttemptRecord, error) {
		t.Fatal("runner should not be invoked for a task awaiting approval")
		return domain.AttemptRecord{}, nil
	}}, fakeDecomposer{})
	ctx := context.Background()

	task, err := entities.CreateTask(ctx, domain.Task{Description: "rm -rf /", Priority: domain.PriorityMedium})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	sched.Tick(ctx)
	sched.Tick(ctx)
	sched.Tick(ctx)

	pending := sched.approvals.Pending()
	if len(pending) != 1 || pending[0].TaskID != task.ID {
		t.Fatalf("expected ticking repeatedly to leave exactly one pending approval, got %+v", pending)
	}
}

func TestActivateGoalCreatesDependencyMappedTasks(t *testing.T) {
	sched, entities := newTestScheduler(t, fakeRunner{fn: func(ctx context.Context, task domain.Task) (domain.AttemptRecord, error) {
		return domain.AttemptRecord{Success: true}, nil
	}}, fakeDecomposer{specs: []decompose.TaskSpec{
		{Description: "set up", Dependencies: nil, EstimatedComplexity: decompose.ComplexityLow},
		{Description: "build", Dependencies: []int{0}, EstimatedComplexity: decompose.ComplexityMedium},
	}})
	ctx := context.Background()

	goal, err := entities.CreateGoal(ctx, domain.Goal{Description: "ship it"})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}

	if err := sched.ActivateGoal(ctx, goal.ID); err != nil {
		t.Fatalf("activate goal: %v", err)
	}

	updated, err := entities.GetGoal(goal.ID)
	if err != nil {
		t.Fatalf("get goal: %v", err)
	}
	if updated.Status != domain.GoalActive || len(updated.TaskIDs) != 2 {
		t.Fatalf("expected goal active with 2 tasks, got %+v", updated)
	}

	second, err := entities.GetTask(updated.TaskIDs[1])
	if err != nil {
		t.Fatalf("get second task: %v", err)
	}
	if len(second.Dependencies) != 1 || second.Dependencies[0] != updated.TaskIDs[0] {
		t.Fatalf("expected second task to depend on first by id, got %+v", second)
	}
}
