// Package agentrunner implements the Agent Worker Pool's (C7) per-task
// execution logic: driving a bounded conversation with an LLM client and
// dispatching any tool calls it asks for through the Tool Registry (C6),
// producing the domain.AttemptRecord the pool reports back to the
// scheduler.
//
// Grounded on internal/agent/loop.go's AgenticLoop (stream, execute tools,
// continue-or-complete state machine; MaxIterations bound), collapsed from
// the teacher's structured tool-call/streaming provider interface to the
// single-turn llm.ChatClient this module's decomposer (internal/decompose)
// already uses, with a decompose.go-style "parse one JSON object out of the
// response text" step standing in for a typed tool-call API the simplified
// client doesn't expose.
package agentrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/llm"
	"github.com/nexora-run/taskorch/internal/observability"
	"github.com/nexora-run/taskorch/internal/toolregistry"
)

// Config bounds one task's conversation.
type Config struct {
	MaxIterations int
	MaxTokens     int
	Model         string
	Provider      string
}

// DefaultConfig caps a task at 6 model turns of 2048 tokens each, matching
// the decomposer's single-call budget scaled up for a multi-step tool loop.
func DefaultConfig() Config {
	return Config{MaxIterations: 6, MaxTokens: 2048}
}

// Runner is the C7 workerpool.Runner implementation.
type Runner struct {
	client  llm.ChatClient
	tools   *toolregistry.Registry
	cfg     Config
	metrics *observability.Metrics
}

// New builds a Runner over client and tools.
func New(client llm.ChatClient, tools *toolregistry.Registry, cfg Config) *Runner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.Provider == "" {
		cfg.Provider = "unknown"
	}
	return &Runner{client: client, tools: tools, cfg: cfg}
}

// SetMetrics attaches Prometheus collectors for LLM request and error
// recording. Left unset, Run records nothing.
func (r *Runner) SetMetrics(metrics *observability.Metrics) {
	r.metrics = metrics
}

// action is the one JSON object the model must emit each turn: either a
// tool call or a final answer, never both.
type action struct {
	Tool  string         `json:"tool"`
	Args  map[string]any `json:"args"`
	Final string         `json:"final"`
}

// Run drives task to completion or failure within cfg.MaxIterations model
// turns, satisfying workerpool.Runner.
func (r *Runner) Run(ctx context.Context, task domain.Task) (domain.AttemptRecord, error) {
	start := time.Now()
	messages := []llm.Message{{Role: "user", Content: buildPrompt(task)}}
	system := systemPrompt(r.tools.List())
	caller := toolregistry.CallerContext{CallerID: string(task.Origin), ConvID: task.ID}

	for i := 0; i < r.cfg.MaxIterations; i++ {
		turnStart := time.Now()
		resp, err := r.client.Complete(ctx, llm.Request{
			System:    system,
			Messages:  messages,
			MaxTokens: r.cfg.MaxTokens,
			Model:     r.cfg.Model,
		})
		if r.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			r.metrics.RecordLLMRequest(r.cfg.Provider, r.cfg.Model, status, time.Since(turnStart).Seconds(), 0, 0)
		}
		if err != nil {
			if r.metrics != nil {
				if kind, ok := domain.KindOf(err); ok {
					r.metrics.RecordError("agentrunner", string(kind))
				}
			}
			return finish(start, false, "", err.Error()), err
		}

		act := parseAction(resp.Text)
		if act.Tool == "" {
			return finish(start, true, act.Final, ""), nil
		}

		result, err := r.tools.Invoke(ctx, act.Tool, act.Args, caller)
		if err != nil {
			if isFatal(err) {
				if r.metrics != nil {
					if kind, ok := domain.KindOf(err); ok {
						r.metrics.RecordError("agentrunner", string(kind))
					}
				}
				return finish(start, false, "", err.Error()), err
			}
			messages = append(messages,
				llm.Message{Role: "assistant", Content: resp.Text},
				llm.Message{Role: "user", Content: fmt.Sprintf("tool %q failed: %v", act.Tool, err)},
			)
			continue
		}

		encoded, _ := json.Marshal(result)
		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Text},
			llm.Message{Role: "user", Content: fmt.Sprintf("tool %q result: %s", act.Tool, encoded)},
		)
	}

	err := domain.New(domain.KindTimeout, "task %s exceeded %d model turns without a final answer", task.ID, r.cfg.MaxIterations)
	return finish(start, false, "", err.Error()), err
}

// isFatal reports whether a tool invocation error should end the attempt
// immediately rather than letting the model try a different approach.
func isFatal(err error) bool {
	kind, ok := domain.KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case domain.KindGuardrailDenied, domain.KindApprovalRequired, domain.KindRateLimited:
		return true
	default:
		return false
	}
}

func finish(start time.Time, success bool, outputPreview, errMsg string) domain.AttemptRecord {
	elapsed := time.Since(start)
	return domain.AttemptRecord{
		Success:       success,
		ElapsedMS:     elapsed.Milliseconds(),
		OutputPreview: truncate(outputPreview, 2000),
		Error:         errMsg,
		StartedAt:     start,
		Duration:      elapsed,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func buildPrompt(task domain.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", task.Description)
	if len(task.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(task.Tags, ", "))
	}
	for _, l := range task.PromptContext {
		fmt.Fprintf(&sb, "Relevant prior learning (%s, confidence %.2f): %s\n", l.Type, l.Confidence, l.Observation)
	}
	return sb.String()
}

const systemPromptHeader = `You are an autonomous task worker. You complete the given task by calling
tools when needed and then reporting a final answer. Respond with ONLY one
JSON object per turn, no prose, no code fences:
  {"tool": "<name>", "args": {...}} to call a tool, or
  {"final": "<answer text>"} when the task is done.

Available tools:
`

func systemPrompt(tools []domain.Tool) string {
	var sb strings.Builder
	sb.WriteString(systemPromptHeader)
	if len(tools) == 0 {
		sb.WriteString("(none registered)\n")
	}
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
	}
	return sb.String()
}

// parseAction extracts the single JSON object a well-behaved model emits.
// A response that isn't a recognizable action object is treated as a plain
// final answer, the same leniency internal/decompose applies to stray
// prose around a JSON array.
func parseAction(text string) action {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return action{Final: strings.TrimSpace(text)}
	}
	var act action
	if err := json.Unmarshal([]byte(text[start:end+1]), &act); err != nil {
		return action{Final: strings.TrimSpace(text)}
	}
	if act.Tool == "" && act.Final == "" {
		return action{Final: strings.TrimSpace(text)}
	}
	return act
}
