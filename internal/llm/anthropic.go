package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexora-run/taskorch/internal/domain"
)

// AnthropicConfig configures the Anthropic-backed ChatClient.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Retry        RetryConfig
}

// DefaultAnthropicConfig mirrors the teacher's AnthropicConfig defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:       apiKey,
		DefaultModel: "claude-sonnet-4-20250514",
		Retry:        DefaultRetryConfig(),
	}
}

// anthropicClient is the Anthropic-backed ChatClient implementation.
type anthropicClient struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropicClient builds a ChatClient over
// github.com/anthropics/anthropic-sdk-go.
func NewAnthropicClient(cfg AnthropicConfig) (ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, domain.New(domain.KindStorageUnavailable, "anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicClient{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	return withRetry(ctx, c.cfg.Retry, func() (Response, error) {
		model := req.Model
		if model == "" {
			model = c.cfg.DefaultModel
		}
		maxTokens := req.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}

		messages := make([]anthropic.MessageParam, 0, len(req.Messages))
		for _, m := range req.Messages {
			block := anthropic.NewTextBlock(m.Content)
			if m.Role == "assistant" {
				messages = append(messages, anthropic.NewAssistantMessage(block))
			} else {
				messages = append(messages, anthropic.NewUserMessage(block))
			}
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			Messages:  messages,
			MaxTokens: int64(maxTokens),
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
		}

		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return Response{}, err
		}

		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		return Response{Text: sb.String(), Model: model}, nil
	})
}
