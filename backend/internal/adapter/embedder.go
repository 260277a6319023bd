package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "nexus/backend/pkg/errors"
	"nexus/backend/pkg/logger"
)

// EmbeddingAdapter turns text into fixed-size vectors
type EmbeddingAdapter struct {
	client     *openai.Client
	model      string
	dimensions int
	logger     *zap.Logger
}

// NewEmbeddingAdapter creates an embedder against the same OpenAI-compatible gateway
func NewEmbeddingAdapter(baseURL, apiKey, model string, dimensions int) *EmbeddingAdapter {
	if apiKey == "" {
		apiKey = "dummy-key"
	}
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"

	return &EmbeddingAdapter{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: dimensions,
		logger:     logger.Named("embedder"),
	}
}

// Dimensions returns the vector size every Embed call produces
func (e *EmbeddingAdapter) Dimensions() int {
	return e.dimensions
}

// Embed returns the vector for text. Provider failures are not retried here;
// the enrichment pipeline counts them and moves on.
func (e *EmbeddingAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidation("text", "must not be empty")
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		e.logger.Error("Embedding request failed", zap.Error(err), zap.String("model", e.model))
		return nil, apperrors.NewProviderUnavailable("embedder", err)
	}
	if len(resp.Data) == 0 {
		return nil, apperrors.NewProviderUnavailable("embedder", fmt.Errorf("no embedding in response"))
	}

	vec := resp.Data[0].Embedding
	if len(vec) != e.dimensions {
		return nil, apperrors.NewProviderUnavailable("embedder",
			fmt.Errorf("expected %d dimensions, got %d", e.dimensions, len(vec)))
	}
	return vec, nil
}
