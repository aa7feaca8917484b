// Package llmclient defines the LLM collaborator and a concrete
// implementation backed by github.com/sashabaranov/go-openai, which also
// covers OpenAI-compatible gateways via a configurable base URL.
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

// ErrTimeout is returned when the call exceeds its deadline, mapped by
// callers to the engine's transient-error path.
var ErrTimeout = errors.New("llmclient: request timed out")

// Client is the LLM collaborator used for both the game-turn generation
// call and the judge call. Both carry max_output_tokens
// and may return timeout/transport errors.
type Client interface {
	// Generate produces the contestant-facing completion for one turn.
	Generate(ctx context.Context, systemPrompt, userPrompt string, maxOutputTokens int) (string, error)
	// Judge produces the raw judge completion; callers parse its JSON
	// verdict.
	Judge(ctx context.Context, prompt string, maxOutputTokens int) (string, error)
}

// OpenAIClient implements Client over the OpenAI chat completions API.
type OpenAIClient struct {
	client  *goopenai.Client
	model   string
	timeout time.Duration
}

// Config configures OpenAIClient.
type Config struct {
	APIKey  string
	BaseURL string // optional, for OpenAI-compatible gateways
	Model   string
	Timeout time.Duration
}

// New constructs an OpenAIClient.
func New(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmclient: api key required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llmclient: model required")
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:  goopenai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, systemPrompt, userPrompt string, maxOutputTokens int) (string, error) {
	return c.chat(ctx, []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: goopenai.ChatMessageRoleUser, Content: userPrompt},
	}, maxOutputTokens)
}

func (c *OpenAIClient) Judge(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	return c.chat(ctx, []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleUser, Content: prompt},
	}, maxOutputTokens)
}

func (c *OpenAIClient) chat(ctx context.Context, messages []goopenai.ChatCompletionMessage, maxOutputTokens int) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: maxOutputTokens,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("llmclient: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llmclient: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
