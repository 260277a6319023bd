package enrichment

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"nexus/backend/internal/constants"
	"nexus/backend/internal/graph"
	"nexus/backend/internal/metrics"
	"nexus/backend/internal/staleness"
	apperrors "nexus/backend/pkg/errors"
	"nexus/backend/pkg/logger"
)

// Summarizer turns a prompt into prose
type Summarizer interface {
	Summarize(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// Embedder turns text into a fixed-size vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchResult summarises one or more batches
type BatchResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Total     int `json:"total"`
	Fallbacks int `json:"fallbacks"`
	Expired   int `json:"expired"`
	Batches   int `json:"batches"`
}

func (r *BatchResult) add(o *BatchResult) {
	if o == nil {
		return
	}
	r.Processed += o.Processed
	r.Errors += o.Errors
	r.Total += o.Total
	r.Fallbacks += o.Fallbacks
	r.Batches += o.Batches
}

// Pipeline summarises and embeds profiles that lack a vector
type Pipeline struct {
	store      graph.Store
	summarizer Summarizer
	embedder   Embedder
	pacer      *rate.Limiter
	metrics    *metrics.Collector
	logger     *zap.Logger
	now        func() time.Time
}

// NewPipeline creates a pipeline. delay spaces consecutive provider calls;
// it is a courtesy to the LLM gateway and independent of the platform budget.
func NewPipeline(store graph.Store, summarizer Summarizer, embedder Embedder, delay time.Duration, m *metrics.Collector) *Pipeline {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Pipeline{
		store:      store,
		summarizer: summarizer,
		embedder:   embedder,
		pacer:      rate.NewLimiter(limit, 1),
		metrics:    m,
		logger:     logger.Named("enrichment"),
		now:        time.Now,
	}
}

// Summarize asks the summarizer for a keyword-dense description. Any
// provider failure falls back to deterministic text, reported by the bool.
func (p *Pipeline) Summarize(ctx context.Context, profile *graph.Profile, posts []string) (string, bool) {
	if err := p.pacer.Wait(ctx); err == nil {
		summary, err := p.summarizer.Summarize(ctx, systemPrompt, buildPrompt(profile, posts))
		if err == nil && strings.TrimSpace(summary) != "" {
			return strings.TrimSpace(summary), false
		}
		p.logger.Warn("Summarizer failed, using fallback text",
			zap.String("profile_id", profile.ID),
			zap.Error(err),
		)
	}
	return FallbackText(profile, posts), true
}

// Embed delegates to the embedder; errors propagate
func (p *Pipeline) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return nil, apperrors.NewContextCancelled("embed", err)
	}
	return p.embedder.Embed(ctx, text)
}

// ProcessBatch expires stale embeddings, then enriches up to batchSize
// profiles lacking one, restricted to ids when given. One profile's failure
// is counted and skipped.
func (p *Pipeline) ProcessBatch(ctx context.Context, ids []string, batchSize int) (*BatchResult, error) {
	if batchSize <= 0 {
		return nil, apperrors.NewValidation("batch_size", "must be positive")
	}

	expired, err := p.ExpireStale(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to expire embeddings: %w", err)
	}

	result, err := p.processBatch(ctx, ids, batchSize, nil)
	if result != nil {
		result.Expired = expired
	}
	return result, err
}

// processBatch selects up to batchSize profiles missing an embedding, skipping
// ids in failed, and records new failures there when failed is non-nil.
func (p *Pipeline) processBatch(ctx context.Context, ids []string, batchSize int, failed map[string]bool) (*BatchResult, error) {
	candidates, err := p.store.FindProfilesMissingEmbedding(ctx, ids, batchSize+len(failed))
	if err != nil {
		return nil, fmt.Errorf("failed to select profiles: %w", err)
	}

	profiles := make([]*graph.Profile, 0, batchSize)
	for _, profile := range candidates {
		if len(profiles) == batchSize {
			break
		}
		if !failed[profile.ID] {
			profiles = append(profiles, profile)
		}
	}
	return p.run(ctx, profiles, failed)
}

func (p *Pipeline) run(ctx context.Context, profiles []*graph.Profile, failed map[string]bool) (*BatchResult, error) {
	result := &BatchResult{Total: len(profiles)}
	if len(profiles) > 0 {
		result.Batches = 1
	}
	for _, profile := range profiles {
		if err := ctx.Err(); err != nil {
			return result, apperrors.NewContextCancelled("process batch", err)
		}

		fallback, err := p.processOne(ctx, profile)
		if err != nil {
			result.Errors++
			if failed != nil {
				failed[profile.ID] = true
			}
			p.metrics.EnrichmentResult("error")
			p.logger.Error("Failed to enrich profile",
				zap.String("profile_id", profile.ID),
				zap.Error(err),
			)
			continue
		}
		result.Processed++
		if fallback {
			result.Fallbacks++
			p.metrics.EnrichmentResult("fallback")
		} else {
			p.metrics.EnrichmentResult("embedded")
		}
	}

	p.logger.Info("Embedding batch complete",
		zap.Int("processed", result.Processed),
		zap.Int("errors", result.Errors),
		zap.Int("total", result.Total),
	)
	return result, nil
}

func (p *Pipeline) processOne(ctx context.Context, profile *graph.Profile) (bool, error) {
	var posts []string
	rec, err := p.store.GetPosts(ctx, profile.ID)
	switch {
	case err == nil:
		posts = rec.Posts
	case !apperrors.IsNotFound(err):
		return false, err
	}

	summary, fallback := p.Summarize(ctx, profile, posts)

	vec, err := p.Embed(ctx, summary)
	if err != nil {
		return fallback, err
	}

	if err := p.store.UpdateProfileSummaryEmbedding(ctx, profile.ID, summary, vec, p.now()); err != nil {
		return fallback, err
	}
	return fallback, nil
}

// ProcessAll expires stale embeddings across the store, then repeats
// batches until one comes back short. A profile that fails is not selected
// again in the same run, so every full batch shrinks the remaining work.
func (p *Pipeline) ProcessAll(ctx context.Context, batchSize int) (*BatchResult, error) {
	if batchSize <= 0 {
		return nil, apperrors.NewValidation("batch_size", "must be positive")
	}

	expired, err := p.ExpireStale(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to expire embeddings: %w", err)
	}

	total := &BatchResult{Expired: expired}
	failed := make(map[string]bool)
	for {
		res, err := p.processBatch(ctx, nil, batchSize, failed)
		total.add(res)
		if err != nil {
			return total, err
		}
		if res.Total < batchSize {
			break
		}
	}
	if len(failed) > 0 {
		p.logger.Warn("Embedding run left profiles unembedded",
			zap.Int("failed", len(failed)),
		)
	}
	return total, nil
}

// ProcessIDs enriches every profile among ids lacking an embedding, in
// batches of batchSize. Stale embeddings among ids are expired first.
func (p *Pipeline) ProcessIDs(ctx context.Context, ids []string, batchSize int) (*BatchResult, error) {
	if batchSize <= 0 {
		return nil, apperrors.NewValidation("batch_size", "must be positive")
	}
	if len(ids) == 0 {
		return &BatchResult{}, nil
	}

	expired, err := p.ExpireStale(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to expire embeddings: %w", err)
	}

	pending, err := p.store.FindProfilesMissingEmbedding(ctx, ids, len(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to select profiles: %w", err)
	}

	total := &BatchResult{Expired: expired}
	for chunk := range slices.Chunk(pending, batchSize) {
		res, err := p.run(ctx, chunk, nil)
		total.add(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Invalidate clears summary and embedding together
func (p *Pipeline) Invalidate(ctx context.Context, id string) error {
	return p.store.ClearSummaryEmbedding(ctx, id)
}

// ExpireStale invalidates embeddings older than the embeddings TTL and
// returns how many were cleared. It is restricted to ids when given and
// covers the whole store otherwise.
func (p *Pipeline) ExpireStale(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return p.store.ClearEmbeddingsBefore(ctx, staleness.Cutoff(constants.EmbeddingsTTL, p.now()))
	}

	profiles, err := p.store.GetProfiles(ctx, ids)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, profile := range profiles {
		if !profile.HasEmbedding() || !staleness.IsStaleAt(profile.EmbeddedAt, constants.EmbeddingsTTL, p.now()) {
			continue
		}
		if err := p.Invalidate(ctx, profile.ID); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}
