// Package openai talks to OpenAI-compatible embedding and chat-completion
// APIs (OpenAI itself, Nebius, vLLM gateways).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
	"github.com/raks07/jarvis-data-injestion/internal/metrics"
)

// Embedder is an embedding provider using the OpenAI-compatible API.
type Embedder struct {
	client        *openai.Client
	model         openai.EmbeddingModel
	dimensions    int
	maxInputChars int
	user          string
	provider      string
	maxAttempts   int
	retryBackoff  time.Duration
	logger        *zap.Logger
}

// EmbedderConfig holds the embedding provider settings.
type EmbedderConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	Dimensions    int
	MaxInputChars int
	User          string
	Provider      string
	MaxAttempts   int
	RetryBackoff  time.Duration
	Logger        *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *EmbedderConfig) *Embedder {
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
		backoff = 200 * time.Millisecond
	}

	return &Embedder{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         openai.EmbeddingModel(cfg.Model),
		dimensions:    cfg.Dimensions,
		maxInputChars: cfg.MaxInputChars,
		user:          cfg.User,
		provider:      cfg.Provider,
		maxAttempts:   attempts,
		retryBackoff:  backoff,
		logger:        cfg.Logger,
	}
}

// ModelID reports the embedding model identity stamped on every vector.
func (e *Embedder) ModelID() string { return string(e.model) }

// Embed implements domain.Embedder. Returns the vector and usage with transport-level metrics.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	batch, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    batch.Embeddings[0],
		ModelID:      batch.ModelID,
		PromptTokens: batch.PromptTokens,
		TotalTokens:  batch.TotalTokens,
	}, nil
}

// BatchEmbed implements domain.BatchEmbedder with a single API call for all
// texts. Inputs longer than the model limit are rejected; a truncated input
// would store an embedding that no longer matches the chunk text.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{ModelID: string(e.model)}, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return domain.BatchEmbeddingResult{}, fmt.Errorf(
				"empty text at position %d: %w", i, domain.ErrInvalidInput)
		}
		if e.maxInputChars > 0 && utf8.RuneCountInString(text) > e.maxInputChars {
			return domain.BatchEmbeddingResult{}, fmt.Errorf(
				"text at position %d exceeds %d characters: %w",
				i, e.maxInputChars, domain.ErrInvalidInput)
		}
	}

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	resp, err := e.createWithRetry(ctx, req)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}

	if len(resp.Data) != len(texts) {
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, string(e.model), "short_response").Inc()
		return domain.BatchEmbeddingResult{}, fmt.Errorf(
			"embedding response has %d vectors for %d inputs: %w",
			len(resp.Data), len(texts), domain.ErrEmbeddingUnavailable)
	}

	embeddings := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return domain.BatchEmbeddingResult{}, fmt.Errorf(
				"embedding response index %d out of range: %w", d.Index, domain.ErrEmbeddingUnavailable)
		}
		embeddings[d.Index] = d.Embedding
	}

	totalTokens := resp.Usage.TotalTokens
	promptTokens := resp.Usage.PromptTokens
	if totalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, string(e.model), "prompt").Add(float64(promptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, string(e.model), "total").Add(float64(totalTokens))
	}

	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		ModelID:      string(e.model),
		PromptTokens: promptTokens,
		TotalTokens:  totalTokens,
	}, nil
}

// createWithRetry retries transient failures with exponential backoff.
// Client errors other than 429 fail immediately.
func (e *Embedder) createWithRetry(
	ctx context.Context, req openai.EmbeddingRequest,
) (openai.EmbeddingResponse, error) {
	var lastErr error
	backoff := e.retryBackoff

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		start := time.Now()
		resp, err := e.client.CreateEmbeddings(ctx, req)
		duration := time.Since(start)

		if err == nil {
			if len(resp.Data) == 0 {
				metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, string(e.model), "error").Inc()
				metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, string(e.model), "empty_response").Inc()
				return openai.EmbeddingResponse{}, fmt.Errorf(
					"empty embedding response: %w", domain.ErrEmbeddingUnavailable)
			}
			metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, string(e.model), "success").Inc()
			metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, string(e.model)).Observe(duration.Seconds())
			return resp, nil
		}

		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, string(e.model), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, string(e.model), errorType(err)).Inc()
		lastErr = err

		if !retryable(err) || attempt == e.maxAttempts {
			break
		}
		if e.logger != nil {
			e.logger.Warn("Embedding request failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return openai.EmbeddingResponse{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return openai.EmbeddingResponse{}, parseAPIError(lastErr)
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// retryable reports whether the request may succeed on another attempt.
func retryable(err error) bool {
	status := httpStatus(err)
	if status == 0 {
		// network-level failure
		return true
	}
	return status == 429 || status >= 500
}

func httpStatus(err error) int {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	return 0
}

func errorType(err error) string {
	switch status := httpStatus(err); {
	case status == 429:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return "network_error"
	}
}

// parseAPIError extracts a human-readable error from the API response.
// Rate limiting maps to the quota sentinel, everything else to unavailability.
func parseAPIError(err error) error {
	wrap := domain.ErrEmbeddingUnavailable
	if httpStatus(err) == 429 {
		wrap = domain.ErrEmbeddingQuotaExceeded
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail != "" {
			return fmt.Errorf("embedding API error %d: %s: %w",
				reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("embedding API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("embedding request failed: %w", wrap)
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
