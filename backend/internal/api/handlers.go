package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nexus/backend/internal/crawler"
	"nexus/backend/internal/enrichment"
	"nexus/backend/internal/topics"
	apperrors "nexus/backend/pkg/errors"
)

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case apperrors.ErrorTypeNetwork, apperrors.ErrorTypeProvider, apperrors.ErrorTypePlatform:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *handler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed",
			zap.String("operation", op),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func queryBool(c *gin.Context, key string, def bool) bool {
	if v, err := strconv.ParseBool(c.Query(key)); err == nil {
		return v
	}
	return def
}

// queryInt reads an integer query parameter, def when absent
func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidation(key, "must be an integer")
	}
	return v, nil
}

func (h *handler) crawl(c *gin.Context) {
	opts := crawler.CrawlOptions{
		SkipSecondDegree: !queryBool(c, "second_degree", true),
		WithPosts:        queryBool(c, "posts", false),
		Force:            queryBool(c, "force", false),
	}

	result, err := h.Crawler.Crawl(c.Request.Context(), c.Param("user_id"), opts)
	if err != nil {
		h.fail(c, "crawl", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) crawlHandle(c *gin.Context) {
	opts := crawler.CrawlOptions{
		SkipSecondDegree: !queryBool(c, "second_degree", true),
		WithPosts:        queryBool(c, "posts", false),
		Force:            queryBool(c, "force", false),
	}

	result, err := h.Crawler.Crawl(c.Request.Context(), "@"+strings.TrimPrefix(c.Param("username"), "@"), opts)
	if err != nil {
		h.fail(c, "crawl handle", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) refreshPosts(c *gin.Context) {
	counts, err := h.Crawler.RefreshPosts(c.Request.Context(), []string{c.Param("user_id")})
	if err != nil {
		h.fail(c, "refresh posts", err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *handler) getPosts(c *gin.Context) {
	rec, err := h.Store.GetPosts(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, "get posts", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handler) getProfile(c *gin.Context) {
	profile, err := h.Store.GetProfile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, "get profile", err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *handler) listProfiles(c *gin.Context) {
	limit, err := queryInt(c, "limit", DefaultProfilePage)
	if err == nil && (limit < 1 || limit > MaxProfilePage) {
		err = apperrors.NewValidation("limit", fmt.Sprintf("must be between 1 and %d", MaxProfilePage))
	}
	offset := 0
	if err == nil {
		offset, err = queryInt(c, "offset", 0)
	}
	if err == nil && offset < 0 {
		err = apperrors.NewValidation("offset", "must not be negative")
	}
	if err != nil {
		h.fail(c, "list profiles", err)
		return
	}

	profiles, err := h.Store.ListProfiles(c.Request.Context(), limit, offset)
	if err != nil {
		h.fail(c, "list profiles", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profiles": profiles,
		"count":    len(profiles),
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *handler) processEmbeddings(c *gin.Context) {
	var req struct {
		UserIDs   []string `json:"user_ids"`
		BatchSize int      `json:"batch_size"`
		All       bool     `json:"all"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.BatchSize == 0 {
		req.BatchSize = DefaultEmbedBatchSize
	}

	var (
		result *enrichment.BatchResult
		err    error
	)
	if req.All {
		result, err = h.Pipeline.ProcessAll(c.Request.Context(), req.BatchSize)
	} else {
		result, err = h.Pipeline.ProcessBatch(c.Request.Context(), req.UserIDs, req.BatchSize)
	}
	if err != nil {
		h.fail(c, "process embeddings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (h *handler) embeddingStatus(c *gin.Context) {
	stats, err := h.Store.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, "embedding status", err)
		return
	}

	missing := stats.Profiles - stats.Embedded
	progress := 0.0
	if stats.Profiles > 0 {
		progress = math.Round(float64(stats.Embedded)/float64(stats.Profiles)*1000) / 10
	}
	status := "incomplete"
	if missing == 0 {
		status = "complete"
	}

	c.JSON(http.StatusOK, gin.H{
		"total_profiles":              stats.Profiles,
		"profiles_with_embeddings":    stats.Embedded,
		"profiles_needing_embeddings": missing,
		"progress_percentage":         progress,
		"status":                      status,
	})
}

func (h *handler) regenerateEmbedding(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("user_id")

	if _, err := h.Store.GetProfile(ctx, id); err != nil {
		h.fail(c, "regenerate embedding", err)
		return
	}
	if err := h.Pipeline.Invalidate(ctx, id); err != nil {
		h.fail(c, "regenerate embedding", err)
		return
	}
	result, err := h.Pipeline.ProcessBatch(ctx, []string{id}, 1)
	if err != nil {
		h.fail(c, "regenerate embedding", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": result.Processed == 1, "user_id": id, "result": result})
}

// embedNetwork embeds the user's first and second degree, skipping profiles
// that already carry a fresh vector. The user is not part of the network.
func (h *handler) embedNetwork(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("user_id")

	batchSize, err := queryInt(c, "batch_size", DefaultEmbedBatchSize)
	if err == nil && batchSize < 1 {
		err = apperrors.NewValidation("batch_size", "must be positive")
	}
	if err != nil {
		h.fail(c, "embed network", err)
		return
	}

	network, err := h.Search.Network(ctx, id)
	if err != nil {
		h.fail(c, "embed network", err)
		return
	}
	result, err := h.Pipeline.ProcessIDs(ctx, network.All(), batchSize)
	if err != nil {
		h.fail(c, "embed network", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       result.Errors == 0,
		"user_id":       id,
		"network_size":  len(network.All()),
		"first_degree":  len(network.FirstDegree),
		"second_degree": len(network.SecondDegree),
		"result":        result,
	})
}

func (h *handler) analyzePathways(c *gin.Context) {
	var req struct {
		SourceID string `json:"x_user_id" binding:"required"`
		TargetID string `json:"target_user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	analysis, err := h.Ranker.Analyze(c.Request.Context(), req.SourceID, req.TargetID)
	if err != nil {
		h.fail(c, "analyze pathways", err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (h *handler) quickScore(c *gin.Context) {
	score, err := h.Ranker.QuickScore(c.Request.Context(), c.Param("bridge_id"), c.Param("target_id"))
	if err != nil {
		h.fail(c, "quick score", err)
		return
	}
	c.JSON(http.StatusOK, score)
}

func (h *handler) bridge(c *gin.Context) {
	profile, err := h.Ranker.Bridge(c.Request.Context(), c.Param("source_id"), c.Param("target_id"))
	if err != nil {
		h.fail(c, "bridge", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bridge": profile})
}

func (h *handler) firstDegree(c *gin.Context) {
	profiles, err := h.Search.FirstDegree(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, "first degree", err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

func (h *handler) secondDegree(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	profiles, err := h.Search.SecondDegree(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		h.fail(c, "second degree", err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

func (h *handler) networkStats(c *gin.Context) {
	stats, err := h.Search.Stats(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, "network stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handler) naturalLanguageSearch(c *gin.Context) {
	var req struct {
		UserID string `json:"x_user_id" binding:"required"`
		Query  string `json:"query" binding:"required"`
		Limit  int    `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := h.Search.NaturalLanguage(c.Request.Context(), req.UserID, req.Query, req.Limit)
	if err != nil {
		h.fail(c, "natural language search", err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *handler) clusterTopics(c *gin.Context) {
	var req struct {
		UserID string `json:"x_user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	assignments, err := h.Search.ClusterTopics(c.Request.Context(), req.UserID)
	if err != nil {
		h.fail(c, "cluster topics", err)
		return
	}
	c.JSON(http.StatusOK, assignments)
}

func (h *handler) topicColors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"topics": topics.Names(),
		"colors": topics.Colors(),
	})
}
