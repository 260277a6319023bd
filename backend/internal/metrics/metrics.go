package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application. A nil
// *Collector is valid and records nothing, so components can be built
// without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Platform metrics
	PlatformRequests *prometheus.CounterVec
	RateLimitWait    prometheus.Histogram

	// Crawl metrics
	CrawlProfiles *prometheus.CounterVec
	CrawlDuration prometheus.Histogram

	// Enrichment and ranking
	EnrichmentResults *prometheus.CounterVec
	PathwayResults    *prometheus.CounterVec
}

// NewCollector creates and registers every metric on a fresh registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		PlatformRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_requests_total",
				Help:      "Physical requests sent to the social platform, by outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		RateLimitWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rate_limit_wait_seconds",
				Help:      "Time spent waiting for the request budget",
				Buckets:   []float64{0, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
		),
		CrawlProfiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "crawl_profiles_total",
				Help:      "Profiles handled by the crawler, by phase and result",
			},
			[]string{"phase", "result"},
		),
		CrawlDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "crawl_duration_seconds",
				Help:      "Wall time of a full crawl",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		EnrichmentResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_profiles_total",
				Help:      "Profiles processed by the embedding pipeline, by result",
			},
			[]string{"result"},
		),
		PathwayResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pathway_requests_total",
				Help:      "Pathway analyses, by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.PlatformRequests,
		c.RateLimitWait,
		c.CrawlProfiles,
		c.CrawlDuration,
		c.EnrichmentResults,
		c.PathwayResults,
	)
	return c
}

// TrackBudget exports the limiter's remaining tokens as a gauge
func (c *Collector) TrackBudget(namespace string, remaining func() float64) {
	if c == nil {
		return
	}
	c.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_tokens",
			Help:      "Tokens currently available in the request budget",
		},
		remaining,
	))
}

func (c *Collector) ObservePlatformRequest(endpoint, outcome string) {
	if c == nil {
		return
	}
	c.PlatformRequests.WithLabelValues(endpoint, outcome).Inc()
}

func (c *Collector) ObserveRateWait(_ int, waited time.Duration) {
	if c == nil {
		return
	}
	c.RateLimitWait.Observe(waited.Seconds())
}

// CrawlProfile counts one profile for a crawl phase (root, first_degree,
// mutual_refresh, second_degree, posts) with result fetched, skipped or failed.
func (c *Collector) CrawlProfile(phase, result string) {
	if c == nil {
		return
	}
	c.CrawlProfiles.WithLabelValues(phase, result).Inc()
}

func (c *Collector) ObserveCrawl(d time.Duration) {
	if c == nil {
		return
	}
	c.CrawlDuration.Observe(d.Seconds())
}

func (c *Collector) EnrichmentResult(result string) {
	if c == nil {
		return
	}
	c.EnrichmentResults.WithLabelValues(result).Inc()
}

func (c *Collector) PathwayResult(result string) {
	if c == nil {
		return
	}
	c.PathwayResults.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry for this collector
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
