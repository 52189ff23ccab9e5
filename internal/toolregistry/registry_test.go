package toolregistry

import (
	"context"
	"testing"
	"time"

	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/eventlog"
	"github.com/nexora-run/taskorch/internal/guardrail"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	log, err := eventlog.Open(eventlog.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	guard := guardrail.New(guardrail.DefaultConfig())
	return New(DefaultConfig(), guard, log, nil, nil)
}

func TestInvokeRunsNativeToolAndValidatesSchema(t *testing.T) {
	r := newTestRegistry(t)
	schema := map[string]any{
		"type":     "object",
		"required": []any{"path"},
		"properties": map[string]any{
			"path": map[string]any{"type": "string"},
		},
	}
	called := false
	err := r.RegisterNative("read_file", "reads a file", schema, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		called = true
		return map[string]any{"content": "hello"}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := r.Invoke(context.Background(), "read_file", map[string]any{"path": "/tmp/x"}, CallerContext{CallerID: "actor-1"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !called {
		t.Fatalf("expected native func to run")
	}
	if result["content"] != "hello" {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestInvokeRejectsMissingRequiredArg(t *testing.T) {
	r := newTestRegistry(t)
	schema := map[string]any{
		"type":     "object",
		"required": []any{"path"},
	}
	_ = r.RegisterNative("read_file", "", schema, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		t.Fatalf("should not be called")
		return nil, nil
	})

	_, err := r.Invoke(context.Background(), "read_file", map[string]any{}, CallerContext{CallerID: "actor-1"})
	if !domain.Is(err, domain.KindSchemaInvalid) {
		t.Fatalf("expected SchemaInvalid, got %v", err)
	}
}

func TestInvokeUnknownToolReturnsSchemaInvalid(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Invoke(context.Background(), "nope", nil, CallerContext{})
	if !domain.Is(err, domain.KindSchemaInvalid) {
		t.Fatalf("expected SchemaInvalid for unknown tool, got %v", err)
	}
}

func TestInvokeDeniedByDestructivePatternRequiresApproval(t *testing.T) {
	r := newTestRegistry(t)
	_ = r.RegisterNative("run_command", "", nil, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		t.Fatalf("should not run without approval")
		return nil, nil
	})

	_, err := r.Invoke(context.Background(), "run_command", map[string]any{"command": "rm -rf /"}, CallerContext{CallerID: "actor-1"})
	if !domain.Is(err, domain.KindApprovalRequired) {
		t.Fatalf("expected ApprovalRequired, got %v", err)
	}
}

func TestCheckRegressionRollsBackToSignedEntry(t *testing.T) {
	r := newTestRegistry(t)
	r.regressionBaselineSize = 2
	r.regressionWindowSize = 2
	r.regressionLatencyDelta = time.Millisecond
	r.regressionErrorDelta = 0.0 // any recent error at all counts as regressed

	_ = r.RegisterNative("flaky", "", nil, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	r.SetSignedEntry("flaky", []byte("good bytes"))

	r.mu.RLock()
	tool := r.tools["flaky"]
	r.mu.RUnlock()

	// two fast baseline calls
	r.recordMetrics(tool, time.Millisecond, nil)
	r.recordMetrics(tool, time.Millisecond, nil)
	// two much slower, erroring calls fill the recent window
	r.recordMetrics(tool, 50*time.Millisecond, context.DeadlineExceeded)
	r.recordMetrics(tool, 50*time.Millisecond, context.DeadlineExceeded)

	r.checkRegression(context.Background(), "flaky", tool)

	r.mu.RLock()
	after := tool.stats
	r.mu.RUnlock()
	if len(after.baselineLatencies) != 0 {
		t.Fatalf("expected rollback to reset stats, got %+v", after)
	}
}
