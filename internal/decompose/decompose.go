// Package decompose implements the Goal Decomposer Adapter (C9): turning a
// Goal's description into a validated task DAG via a single structured LLM
// call.
//
// Grounded on internal/agent/providers/anthropic.go's retry/backoff shape,
// reused here through the shared llm.ChatClient interface rather than a
// second copy of the retry loop.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/llm"
)

// Complexity is the estimated_complexity field of a decomposed task spec.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// TaskSpec is one entry of the decomposer's output: a task description plus
// indexes (into the same output array) of tasks it depends on.
type TaskSpec struct {
	Description         string     `json:"description"`
	Dependencies         []int      `json:"dependencies"`
	EstimatedComplexity Complexity `json:"estimated_complexity"`
}

const systemPrompt = `You decompose a goal into an ordered list of tasks.
Respond with ONLY a JSON array, no prose, no code fences. Each element has:
  "description": non-empty string describing one task
  "dependencies": array of integer indexes into this same array, each index
    strictly less than the element's own position, naming tasks that must
    complete first
  "estimated_complexity": one of "low", "medium", "high"`

// Adapter is the Goal Decomposer Adapter (C9).
type Adapter struct {
	client llm.ChatClient
}

// New builds an Adapter over client.
func New(client llm.ChatClient) *Adapter {
	return &Adapter{client: client}
}

// Decompose calls the model and validates its response per spec.md §4.9.
// On any validation failure it returns a KindDecompositionFailed error and
// the caller (the scheduler) leaves the Goal in draft.
func (a *Adapter) Decompose(ctx context.Context, goal domain.Goal) ([]TaskSpec, error) {
	prompt := fmt.Sprintf("Goal: %s\nSuccess criteria: %s", goal.Description, goal.SuccessCriteria)
	resp, err := a.client.Complete(ctx, llm.Request{
		System:    systemPrompt,
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens: 2048,
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindDecompositionFailed, err, "decomposition model call failed")
	}

	specs, err := parseAndValidate(resp.Text)
	if err != nil {
		return nil, domain.Wrap(domain.KindDecompositionFailed, err, "decomposition response invalid")
	}
	return specs, nil
}

func parseAndValidate(text string) ([]TaskSpec, error) {
	text = extractJSONArray(text)

	var specs []TaskSpec
	if err := json.Unmarshal([]byte(text), &specs); err != nil {
		return nil, fmt.Errorf("not a valid JSON array: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("decomposition produced zero tasks")
	}

	for i, spec := range specs {
		if strings.TrimSpace(spec.Description) == "" {
			return nil, fmt.Errorf("task %d has an empty description", i)
		}
		for _, dep := range spec.Dependencies {
			if dep < 0 || dep >= i {
				return nil, fmt.Errorf("task %d depends on index %d, which is not strictly earlier", i, dep)
			}
		}
		switch spec.EstimatedComplexity {
		case ComplexityLow, ComplexityMedium, ComplexityHigh:
		default:
			return nil, fmt.Errorf("task %d has invalid estimated_complexity %q", i, spec.EstimatedComplexity)
		}
	}
	return specs, nil
}

// extractJSONArray strips any surrounding prose or code fences a model
// might add despite instructions, returning the substring from the first
// '[' to the last ']'.
func extractJSONArray(text string) string {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
