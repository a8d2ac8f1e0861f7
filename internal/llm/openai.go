package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/soyeahso/conductor/internal/logging"
)

// OpenAIClient calls the OpenAI chat completions API, or any compatible
// endpoint when a base URL is configured.
type OpenAIClient struct {
	name  string
	inner openai.Client
	log   *logging.Logger
}

// NewOpenAIClient creates a client. baseURL may be empty.
func NewOpenAIClient(apiKey, baseURL string, log *logging.Logger) (*OpenAIClient, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("openai: API key is not set (executor.apiKey or OPENAI_API_KEY)")
	}
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		name:  "openai",
		inner: openai.NewClient(opts...),
		log:   log.Sub("llm.openai"),
	}, nil
}

func (c *OpenAIClient) Name() string { return c.name }

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := c.inner.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, openaiError(c.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: c.name, Message: "no choices returned"}
	}

	choice := resp.Choices[0]
	out := &CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Model:      resp.Model,
		Provider:   c.Name(),
		Duration:   time.Since(start),
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}

	c.log.Debug().
		Str("model", out.Model).
		Int("inputTokens", out.Usage.InputTokens).
		Int("outputTokens", out.Usage.OutputTokens).
		Dur("duration", out.Duration).
		Msg("completion done")

	return out, nil
}

func openaiError(provider string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: provider, Code: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return fmt.Errorf("%s: %w", provider, err)
}
