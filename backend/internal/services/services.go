package services

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"nexus/backend/internal/adapter"
	"nexus/backend/internal/api"
	"nexus/backend/internal/crawler"
	"nexus/backend/internal/enrichment"
	"nexus/backend/internal/graph"
	"nexus/backend/internal/metrics"
	"nexus/backend/internal/pathways"
	"nexus/backend/internal/platform"
	"nexus/backend/internal/ratelimit"
	"nexus/backend/internal/search"
	"nexus/backend/pkg/config"
	"nexus/backend/pkg/logger"
)

// Services holds every long-lived component of the process. The server and
// the CLI build exactly one and share the same rate budget across it.
type Services struct {
	Store    graph.Store
	Limiter  *ratelimit.TokenBucket
	Platform *platform.Client
	Crawler  *crawler.Crawler
	Pipeline *enrichment.Pipeline
	Ranker   *pathways.Ranker
	Search   *search.Service
	Metrics  *metrics.Collector

	closers []func(context.Context) error
	logger  *zap.Logger
}

// OpenGraph connects to Neo4j, verifies the connection and applies the schema
func OpenGraph(ctx context.Context, cfg *config.Config) (*graph.Repository, func(context.Context) error, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	repo := graph.NewRepository(driver)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, nil, err
	}
	return repo, driver.Close, nil
}

// New wires the platform client, enrichment and query services on top of
// store. m may be nil.
func New(cfg *config.Config, store graph.Store, m *metrics.Collector) (*Services, error) {
	bucket, err := ratelimit.New(ratelimit.Options{
		Capacity:     cfg.RateCapacity,
		RefillPerSec: cfg.RateRefillPerSec,
		JitterMin:    cfg.RateJitterMin,
		JitterMax:    cfg.RateJitterMax,
		OnWait:       m.ObserveRateWait,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build rate limiter: %w", err)
	}
	m.TrackBudget("nexus", bucket.Remaining)

	client := platform.NewClient(bucket, platform.Options{
		BaseURL:     cfg.PlatformBaseURL,
		BearerToken: cfg.PlatformBearerToken,
		MaxRetries:  cfg.PlatformMaxRetries,
		Cooldown:    cfg.PlatformCooldown,
		OnRequest:   m.ObservePlatformRequest,
	})

	llm := adapter.NewLLMAdapter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.SummaryModel)
	embedder := adapter.NewEmbeddingAdapter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)

	s := &Services{
		Store:    store,
		Limiter:  bucket,
		Platform: client,
		Crawler: crawler.New(client, store, crawler.Options{
			MaxSecondDegree:    cfg.MaxSecondDegree,
			BatchSize:          cfg.CrawlBatchSize,
			PostsFollowerFloor: cfg.PostsFollowerFloor,
			MaxPosts:           cfg.MaxPosts,
		}, m),
		Pipeline: enrichment.NewPipeline(store, llm, embedder, cfg.EmbeddingDelay, m),
		Ranker:   pathways.NewRanker(store, m),
		Search:   search.NewService(store, embedder),
		Metrics:  m,
		logger:   logger.Named("services"),
	}

	s.logger.Info("Services initialized",
		zap.String("platform", cfg.PlatformBaseURL),
		zap.String("summary_model", cfg.SummaryModel),
		zap.String("embedding_model", cfg.EmbeddingModel),
		zap.Int("rate_capacity", bucket.Capacity()),
	)
	return s, nil
}

// OnClose registers a cleanup to run on Close, in reverse order
func (s *Services) OnClose(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Deps exposes the services to the HTTP layer
func (s *Services) Deps() api.Deps {
	return api.Deps{
		Store:    s.Store,
		Crawler:  s.Crawler,
		Pipeline: s.Pipeline,
		Ranker:   s.Ranker,
		Search:   s.Search,
		Metrics:  s.Metrics,
	}
}

// Close runs every registered cleanup and returns the first error
func (s *Services) Close(ctx context.Context) error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Error("Cleanup failed", zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	s.closers = nil
	return first
}
