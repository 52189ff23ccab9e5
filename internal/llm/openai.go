package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexora-run/taskorch/internal/domain"
)

// OpenAIConfig configures the OpenAI-backed ChatClient.
type OpenAIConfig struct {
	APIKey       string
	DefaultModel string
	Retry        RetryConfig
}

// DefaultOpenAIConfig mirrors the teacher's OpenAIProvider defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{APIKey: apiKey, DefaultModel: openai.GPT4o, Retry: DefaultRetryConfig()}
}

type openAIClient struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIClient builds a ChatClient over
// github.com/sashabaranov/go-openai.
func NewOpenAIClient(cfg OpenAIConfig) (ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, domain.New(domain.KindStorageUnavailable, "openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4o
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &openAIClient{client: openai.NewClient(cfg.APIKey), cfg: cfg}, nil
}

func (c *openAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	return withRetry(ctx, c.cfg.Retry, func() (Response, error) {
		model := req.Model
		if model == "" {
			model = c.cfg.DefaultModel
		}

		messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
		if req.System != "" {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: req.System,
			})
		}
		for _, m := range req.Messages {
			role := openai.ChatMessageRoleUser
			if m.Role == "assistant" {
				role = openai.ChatMessageRoleAssistant
			}
			messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
		}

		chatReq := openai.ChatCompletionRequest{
			Model:    model,
			Messages: messages,
		}
		if req.MaxTokens > 0 {
			chatReq.MaxTokens = req.MaxTokens
		}

		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return Response{}, err
		}
		if len(resp.Choices) == 0 {
			return Response{}, domain.New(domain.KindWorkerCrashed, "openai returned no choices")
		}
		return Response{Text: resp.Choices[0].Message.Content, Model: model}, nil
	})
}
