package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
	"github.com/raks07/jarvis-data-injestion/internal/metrics"
)

// CompletionClient generates answers through an OpenAI-compatible chat API.
type CompletionClient struct {
	client       *openai.Client
	model        string
	temperature  float32
	maxTokens    int
	maxAttempts  int
	retryBackoff time.Duration
	logger       *zap.Logger
}

// CompletionConfig holds the chat-completion provider settings.
type CompletionConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float64
	MaxTokens    int
	MaxAttempts  int
	RetryBackoff time.Duration
	Logger       *zap.Logger
}

// NewCompletionClient creates an OpenAI-compatible chat-completion client.
func NewCompletionClient(cfg *CompletionConfig) *CompletionClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	return &CompletionClient{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		temperature:  float32(cfg.Temperature),
		maxTokens:    cfg.MaxTokens,
		maxAttempts:  attempts,
		retryBackoff: backoff,
		logger:       cfg.Logger,
	}
}

// GenerationUsage carries token accounting for one completion.
type GenerationUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Generate produces a completion for the prompt. Transient failures are
// retried with exponential backoff; an exhausted retry budget yields
// domain.ErrGenerationFailed.
func (c *CompletionClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, GenerationUsage, error) {
	if strings.TrimSpace(userPrompt) == "" {
		return "", GenerationUsage{}, fmt.Errorf("empty prompt: %w", domain.ErrInvalidInput)
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	var lastErr error
	backoff := c.retryBackoff

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		start := time.Now()
		resp, err := c.client.CreateChatCompletion(ctx, req)
		duration := time.Since(start)

		if err == nil {
			if len(resp.Choices) == 0 {
				metrics.GenerationRequestsTotal.WithLabelValues(c.model, "error").Inc()
				return "", GenerationUsage{}, fmt.Errorf(
					"completion response has no choices: %w", domain.ErrGenerationFailed)
			}
			metrics.GenerationRequestsTotal.WithLabelValues(c.model, "success").Inc()
			metrics.GenerationRequestDuration.WithLabelValues(c.model).Observe(duration.Seconds())
			usage := GenerationUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
			return resp.Choices[0].Message.Content, usage, nil
		}

		metrics.GenerationRequestsTotal.WithLabelValues(c.model, "error").Inc()
		lastErr = err

		if !retryable(err) || attempt == c.maxAttempts {
			break
		}
		metrics.GenerationRetriesTotal.Inc()
		if c.logger != nil {
			c.logger.Warn("Completion request failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return "", GenerationUsage{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return "", GenerationUsage{}, fmt.Errorf("completion after %d attempts: %v: %w",
		c.maxAttempts, lastErr, domain.ErrGenerationFailed)
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (c *CompletionClient) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
