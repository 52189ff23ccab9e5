package entitystore

import (
	"context"
	"testing"
	"time"

	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/eventlog"
)

func newTestStore(t *testing.T) (*Store, *eventlog.Store) {
	t.Helper()
	dir := t.TempDir()
	log, err := eventlog.Open(eventlog.DefaultConfig(dir + "/events"))
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	st, err := Open(log, dir+"/snapshots", 0)
	if err != nil {
		t.Fatalf("open entity store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, log
}

func TestCreateAndGetTask(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	created, err := st.CreateTask(ctx, domain.Task{Description: "echo hello", Priority: domain.PriorityMedium})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if created.Status != domain.TaskPending {
		t.Fatalf("expected pending status, got %s", created.Status)
	}

	got, err := st.GetTask(created.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Description != "echo hello" {
		t.Fatalf("unexpected description %q", got.Description)
	}
}

// P2: once a task is completed/failed/cancelled, no subsequent event
// changes its status.
func TestUpdateTerminalTaskRejected(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	tk, _ := st.CreateTask(ctx, domain.Task{Description: "d"})
	_, err := st.UpdateTask(ctx, tk.ID, func(t *domain.Task) { t.Status = domain.TaskCompleted })
	if err != nil {
		t.Fatalf("transition to completed: %v", err)
	}

	_, err = st.UpdateTask(ctx, tk.ID, func(t *domain.Task) { t.Status = domain.TaskActive })
	if !domain.Is(err, domain.KindIllegalTransition) {
		t.Fatalf("expected IllegalTransition, got %v", err)
	}
}

func TestListTasksFilter(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	st.CreateTask(ctx, domain.Task{Description: "a", GoalID: "g1"})
	st.CreateTask(ctx, domain.Task{Description: "b", GoalID: "g2"})

	out := st.ListTasks(Filter{GoalID: "g1"})
	if len(out) != 1 || out[0].Description != "a" {
		t.Fatalf("unexpected filtered list: %+v", out)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	log, err := eventlog.Open(eventlog.DefaultConfig(dir + "/events"))
	if err != nil {
		t.Fatalf("open log: %v", err)
	}

	st, err := Open(log, dir+"/snapshots", time.Hour)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	tk, _ := st.CreateTask(ctx, domain.Task{Description: "persisted"})
	if err := st.Snapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	st.Close()
	log.Close()

	log2, err := eventlog.Open(eventlog.DefaultConfig(dir + "/events"))
	if err != nil {
		t.Fatalf("reopen log: %v", err)
	}
	defer log2.Close()
	st2, err := Open(log2, dir+"/snapshots", 0)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st2.Close()

	got, err := st2.GetTask(tk.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Description != "persisted" {
		t.Fatalf("unexpected description after reload: %q", got.Description)
	}
}
