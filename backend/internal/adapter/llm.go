package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"nexus/backend/internal/ratelimit"
	apperrors "nexus/backend/pkg/errors"
	"nexus/backend/pkg/logger"
)

// LLMAdapter produces profile summaries through an OpenAI-compatible chat
// endpoint (LiteLLM, OpenRouter or OpenAI itself).
type LLMAdapter struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewLLMAdapter creates a new LLM adapter
func NewLLMAdapter(baseURL, apiKey, modelID string) *LLMAdapter {
	// For LiteLLM, we can use a dummy API key if not provided
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"

	log := logger.Named("llm")
	return &LLMAdapter{
		client:     openai.NewClientWithConfig(config),
		model:      modelID,
		maxRetries: 3,
		retryDelay: time.Second,
		breaker:    newBreaker("summarizer", log),
		logger:     log,
	}
}

// Model returns the chat model in use
func (a *LLMAdapter) Model() string {
	return a.model
}

// Summarize sends one system+user exchange and returns the reply text.
// Calls are refused while the breaker is open so a failing provider is not
// hammered by every profile in a batch.
func (a *LLMAdapter) Summarize(ctx context.Context, systemPrompt, prompt string) (string, error) {
	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.generate(ctx, systemPrompt, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", apperrors.NewProviderUnavailable("summarizer", err)
		}
		return "", err
	}
	return out.(string), nil
}

func (a *LLMAdapter) generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.3,
		MaxTokens:   400,
	}

	// Retry logic with linear backoff
	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * a.retryDelay
			a.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			if sleepErr := ratelimit.Sleep(ctx, backoff); sleepErr != nil {
				return "", apperrors.NewContextCancelled("summarize", sleepErr)
			}
		}

		resp, err = a.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}

		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", a.model),
		)
		if ctx.Err() != nil {
			break
		}
	}

	if err != nil {
		return "", apperrors.NewProviderUnavailable("summarizer", fmt.Errorf("failed after %d attempts: %w", a.maxRetries, err))
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.NewProviderUnavailable("summarizer", fmt.Errorf("no choices in LLM response"))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", apperrors.NewProviderUnavailable("summarizer", fmt.Errorf("empty completion"))
	}
	return content, nil
}
