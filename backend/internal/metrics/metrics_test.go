package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_RecordsCounters(t *testing.T) {
	c := NewCollector("nexus_test")

	c.ObservePlatformRequest("user", "ok")
	c.ObservePlatformRequest("user", "ok")
	c.ObservePlatformRequest("user", "rate_limited")
	c.CrawlProfile("second_degree", "failed")
	c.EnrichmentResult("embedded")
	c.PathwayResult("found")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.PlatformRequests.WithLabelValues("user", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PlatformRequests.WithLabelValues("user", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CrawlProfiles.WithLabelValues("second_degree", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.EnrichmentResults.WithLabelValues("embedded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PathwayResults.WithLabelValues("found")))
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObservePlatformRequest("user", "ok")
		c.ObserveRateWait(1, time.Second)
		c.CrawlProfile("root", "fetched")
		c.ObserveCrawl(time.Second)
		c.EnrichmentResult("error")
		c.PathwayResult("not_found")
		c.ObserveHTTP("GET", "/health", 200, time.Millisecond)
		c.TrackBudget("x", func() float64 { return 1 })
	})
}

func TestCollector_HandlerExposesBudget(t *testing.T) {
	c := NewCollector("nexus_test")
	c.TrackBudget("nexus_test", func() float64 { return 42 })
	c.ObserveHTTP("GET", "/health", 200, time.Millisecond)

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nexus_test_rate_limit_tokens 42")
	assert.Contains(t, w.Body.String(), "nexus_test_http_requests_total")
}
