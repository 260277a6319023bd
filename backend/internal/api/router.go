package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nexus/backend/internal/crawler"
	"nexus/backend/internal/enrichment"
	"nexus/backend/internal/graph"
	"nexus/backend/internal/metrics"
	"nexus/backend/internal/pathways"
	"nexus/backend/internal/search"
	"nexus/backend/pkg/logger"
)

const (
	// DefaultEmbedBatchSize is used when a request gives no batch size
	DefaultEmbedBatchSize = 50
	// DefaultProfilePage is the page size of the profile listing
	DefaultProfilePage = 100
	// MaxProfilePage caps the page size a caller may ask for
	MaxProfilePage = 1000
)

// Deps are the services the HTTP layer exposes
type Deps struct {
	Store    graph.Store
	Crawler  *crawler.Crawler
	Pipeline *enrichment.Pipeline
	Ranker   *pathways.Ranker
	Search   *search.Service
	Metrics  *metrics.Collector
}

type handler struct {
	Deps
	log *zap.Logger
}

// NewRouter builds the gin engine with middleware and every route
func NewRouter(deps Deps) *gin.Engine {
	log := logger.Named("api")
	h := &handler{Deps: deps, log: log}

	router := gin.New()
	router.Use(requestID())
	router.Use(ginLogger(log))
	router.Use(observe(deps.Metrics))
	router.Use(gin.Recovery())
	router.Use(cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	api := router.Group("/api")
	{
		api.POST("/crawl/:user_id", h.crawl)
		api.POST("/following/:username", h.crawlHandle)
		api.POST("/posts/:user_id/refresh", h.refreshPosts)
		api.GET("/posts/:user_id", h.getPosts)

		api.GET("/profiles", h.listProfiles)
		api.GET("/profiles/:user_id", h.getProfile)

		api.POST("/embeddings/process", h.processEmbeddings)
		api.GET("/embeddings/status", h.embeddingStatus)
		api.POST("/embeddings/regenerate/:user_id", h.regenerateEmbedding)
		api.POST("/embeddings/network/:user_id", h.embedNetwork)

		api.POST("/pathways/analyze", h.analyzePathways)
		api.GET("/pathways/quick-score/:bridge_id/:target_id", h.quickScore)

		api.GET("/network/:user_id/first-degree", h.firstDegree)
		api.GET("/network/:user_id/second-degree", h.secondDegree)
		api.GET("/network/:user_id/stats", h.networkStats)
		api.GET("/network/bridge/:source_id/:target_id", h.bridge)

		api.POST("/search/natural-language", h.naturalLanguageSearch)
		api.POST("/topics/cluster", h.clusterTopics)
		api.GET("/topics/colors", h.topicColors)
	}

	return router
}
