// Package llm provides the single-turn chat client the Goal Decomposer
// Adapter (C9) and the Agent Worker Pool (C7) use to talk to an external
// model, with one shared retry/backoff helper across backends.
//
// Grounded on internal/agent/providers/anthropic.go's AnthropicProvider
// (client construction, exponential-backoff retry loop, retryable-error
// classification) and internal/agent/providers/openai.go's parallel use of
// github.com/sashabaranov/go-openai, reduced from the teacher's streaming,
// multi-turn, tool-calling provider interface to the single blocking
// completion call the orchestrator's components need.
package llm

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/nexora-run/taskorch/internal/domain"
)

// Message is one turn in a chat completion request.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request is a single-turn (or short-history) completion request.
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
	Model     string
}

// Response is the model's reply text.
type Response struct {
	Text  string
	Model string
}

// ChatClient is the common surface both backends implement.
type ChatClient interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// RetryConfig configures the shared retry helper.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryConfig mirrors the teacher's AnthropicConfig defaults
// (MaxRetries: 3, RetryDelay: time.Second, exponential backoff).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Second}
}

// withRetry runs fn, retrying up to cfg.MaxRetries times with exponential
// backoff (base * 2^attempt) when isRetryable(err) reports true, mirroring
// the teacher's AnthropicProvider.isRetryableError + backoff loop.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() (Response, error)) (Response, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == cfg.MaxRetries {
			break
		}
		backoff := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Response{}, domain.Wrap(domain.KindTimeout, ctx.Err(), "llm request cancelled during backoff")
		}
	}
	return Response{}, domain.Wrap(domain.KindWorkerCrashed, lastErr, "llm request failed after retries")
}

// isRetryable classifies transient network/throttling/server failures as
// retryable, the same category list the teacher's provider uses, since
// neither backend's SDK here exposes a typed retryable flag for every
// failure mode.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504", "internal server error",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
