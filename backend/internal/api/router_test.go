package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/backend/internal/crawler"
	"nexus/backend/internal/enrichment"
	"nexus/backend/internal/graph"
	"nexus/backend/internal/metrics"
	"nexus/backend/internal/pathways"
	"nexus/backend/internal/search"
	apperrors "nexus/backend/pkg/errors"
)

type fakeFetcher struct {
	profiles map[string]*graph.Profile
	mutuals  map[string][]string
}

func (f *fakeFetcher) FetchProfile(ctx context.Context, id string) (*graph.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, apperrors.NewNotFound("profile", id)
	}
	return p.Clone(), nil
}

func (f *fakeFetcher) list(id string) []*graph.Profile {
	var out []*graph.Profile
	for _, m := range f.mutuals[id] {
		out = append(out, f.profiles[m].Clone())
	}
	return out
}

func (f *fakeFetcher) FetchProfileByHandle(ctx context.Context, handle string) (*graph.Profile, error) {
	for _, p := range f.profiles {
		if p.Handle == handle {
			return p.Clone(), nil
		}
	}
	return nil, apperrors.NewNotFound("profile", handle)
}

func (f *fakeFetcher) FetchUsers(ctx context.Context, ids []string) ([]*graph.Profile, error) {
	out := make([]*graph.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (f *fakeFetcher) FetchAllFollowing(ctx context.Context, id string, maxResults int) ([]*graph.Profile, error) {
	return f.list(id), nil
}

func (f *fakeFetcher) FetchAllFollowers(ctx context.Context, id string, maxResults int) ([]*graph.Profile, error) {
	return f.list(id), nil
}

func (f *fakeFetcher) FetchRecentPosts(ctx context.Context, id string, count int) ([]string, error) {
	return []string{"shipping a graph crawler"}, nil
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(ctx context.Context, systemPrompt, prompt string) (string, error) {
	return "Engineer building developer tools. Keywords: software, go", nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.5, 0.5}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *graph.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fetcher := &fakeFetcher{
		profiles: map[string]*graph.Profile{
			"alice": {ID: "alice", Handle: "alice", DisplayName: "Alice"},
			"bob":   {ID: "bob", Handle: "bob", DisplayName: "Bob", FollowersCount: 2000, FollowingCount: 1000, PostCount: 990},
			"carol": {ID: "carol", Handle: "carol", DisplayName: "Carol", Bio: "Crypto and DeFi trader"},
			"dave":  {ID: "dave", Handle: "dave", DisplayName: "Dave"},
		},
		mutuals: map[string][]string{
			"alice": {"bob", "carol"},
			"bob":   {"alice", "dave"},
			"carol": {"alice"},
		},
	}

	store := graph.NewMemoryStore()
	m := metrics.NewCollector("nexus_test")
	router := NewRouter(Deps{
		Store:    store,
		Crawler:  crawler.New(fetcher, store, crawler.Options{}, m),
		Pipeline: enrichment.NewPipeline(store, stubSummarizer{}, stubEmbedder{}, 0, m),
		Ranker:   pathways.NewRanker(store, m),
		Search:   search.NewService(store, stubEmbedder{}),
		Metrics:  m,
	})
	return router, store
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	router, _ := newTestRouter(t)

	req, _ := http.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestCrawlThenAnalyze(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, "POST", "/api/crawl/alice?posts=true", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var crawl struct {
		RunID       string           `json:"run_id"`
		FirstDegree []map[string]any `json:"first_degree"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &crawl))
	assert.NotEmpty(t, crawl.RunID)
	assert.Len(t, crawl.FirstDegree, 2)

	w = do(router, "POST", "/api/pathways/analyze", `{"x_user_id":"alice","target_user_id":"dave"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var analysis pathways.Analysis
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &analysis))
	require.Len(t, analysis.Bridges, 1)
	assert.Equal(t, "bob", analysis.Bridges[0].BridgeID)
	assert.Greater(t, analysis.Bridges[0].Influence, 0.0)
}

func TestAnalyzePathways_Errors(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, "POST", "/api/pathways/analyze", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, "POST", "/api/pathways/analyze", `{"x_user_id":"nobody","target_user_id":"dave"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCrawl_UnknownUser(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, "POST", "/api/crawl/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEmbeddingsProcessAndStatus(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertProfile(ctx, &graph.Profile{ID: "x", Handle: "x"}))
	require.NoError(t, store.UpsertProfile(ctx, &graph.Profile{ID: "y", Handle: "y"}))

	w := do(router, "GET", "/api/embeddings/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"incomplete"`)

	w = do(router, "POST", "/api/embeddings/process", `{"all":true,"batch_size":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"processed":2`)

	w = do(router, "GET", "/api/embeddings/status", "")
	assert.Contains(t, w.Body.String(), `"status":"complete"`)
	assert.Contains(t, w.Body.String(), `"progress_percentage":100`)

	w = do(router, "POST", "/api/embeddings/process", `{"batch_size":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegenerateEmbedding(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertProfile(ctx, &graph.Profile{ID: "x", Handle: "x"}))
	require.NoError(t, store.UpdateProfileSummaryEmbedding(ctx, "x", "old", []float32{1, 0}, time.Now()))

	w := do(router, "POST", "/api/embeddings/regenerate/x", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	p, err := store.GetProfile(ctx, "x")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.Summary, "Engineer"))

	w = do(router, "POST", "/api/embeddings/regenerate/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNetworkAndSearchRoutes(t *testing.T) {
	router, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(router, "POST", "/api/crawl/alice", "").Code)

	w := do(router, "GET", "/api/network/alice/first-degree", "")
	require.Equal(t, http.StatusOK, w.Code)
	var first []graph.Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Len(t, first, 2)

	w = do(router, "GET", "/api/network/alice/second-degree?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"dave"`)

	w = do(router, "GET", "/api/network/alice/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"first_degree_count":2`)

	w = do(router, "POST", "/api/topics/cluster", `{"x_user_id":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Crypto \\u0026 Web3")

	w = do(router, "POST", "/api/search/natural-language", `{"x_user_id":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, "GET", "/api/topics/colors", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "General Tech")
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	do(router, "GET", "/health", "")

	w := do(router, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nexus_test_http_requests_total")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(apperrors.NewValidation("f", "bad")))
	assert.Equal(t, http.StatusNotFound, statusFor(apperrors.NewNotFound("profile", "1")))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(apperrors.NewRateLimitExceeded("/users", 3, nil)))
	assert.Equal(t, http.StatusBadGateway, statusFor(apperrors.NewTransientNetwork("/users", 3, nil)))
	assert.Equal(t, http.StatusBadGateway, statusFor(apperrors.NewProviderUnavailable("llm", nil)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestCrawlByHandle(t *testing.T) {
	router, store := newTestRouter(t)

	w := do(router, "POST", "/api/following/alice?second_degree=false", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"root_id":"alice"`)

	_, err := store.GetConnectionSet(context.Background(), "alice")
	assert.NoError(t, err)

	w = do(router, "POST", "/api/following/nobody", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProfileAndPostsReads(t *testing.T) {
	router, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(router, "POST", "/api/crawl/alice?posts=true&second_degree=false", "").Code)

	w := do(router, "GET", "/api/profiles/bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	var bob graph.Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bob))
	assert.Equal(t, "Bob", bob.DisplayName)

	w = do(router, "GET", "/api/profiles/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, "GET", "/api/profiles?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Profiles []graph.Profile `json:"profiles"`
		Count    int             `json:"count"`
		Offset   int             `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, "alice", page.Profiles[0].ID)
	assert.Equal(t, "bob", page.Profiles[1].ID)

	w = do(router, "GET", "/api/profiles?limit=2&offset=2", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Count)
	assert.Equal(t, "carol", page.Profiles[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(router, "GET", "/api/profiles?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(router, "GET", "/api/profiles?offset=abc", "").Code)

	w = do(router, "GET", "/api/posts/bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec graph.PostsRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, []string{"shipping a graph crawler"}, rec.Posts)

	w = do(router, "GET", "/api/posts/carol", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "carol is under the posts follower floor")

	w = do(router, "GET", "/api/posts/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBridgeLookup(t *testing.T) {
	router, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(router, "POST", "/api/crawl/alice", "").Code)

	w := do(router, "GET", "/api/network/bridge/alice/dave", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var found struct {
		Bridge *graph.Profile `json:"bridge"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &found))
	require.NotNil(t, found.Bridge)
	assert.Equal(t, "bob", found.Bridge.ID)

	for _, path := range []string{"/api/network/bridge/alice/ghost", "/api/network/bridge/nobody/dave"} {
		w = do(router, "GET", path, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"bridge":null}`, w.Body.String(), path)
	}

	w = do(router, "GET", "/api/network/alice/stats", "")
	assert.Equal(t, http.StatusOK, w.Code, "bridge route does not shadow per-user routes")
}

func TestEmbedNetwork(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	require.Equal(t, http.StatusOK, do(router, "POST", "/api/crawl/alice", "").Code)

	w := do(router, "POST", "/api/embeddings/network/alice?batch_size=2", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success     bool                   `json:"success"`
		NetworkSize int                    `json:"network_size"`
		Result      enrichment.BatchResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.NetworkSize)
	assert.Equal(t, 3, resp.Result.Processed)
	assert.Equal(t, 2, resp.Result.Batches)

	for _, id := range []string{"bob", "carol", "dave"} {
		p, err := store.GetProfile(ctx, id)
		require.NoError(t, err)
		assert.True(t, p.HasEmbedding(), id)
	}
	alice, err := store.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, alice.HasEmbedding(), "the user is outside their own network")

	w = do(router, "POST", "/api/embeddings/network/alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Result.Processed, "embedded profiles are skipped")

	assert.Equal(t, http.StatusBadRequest, do(router, "POST", "/api/embeddings/network/alice?batch_size=0", "").Code)
}
