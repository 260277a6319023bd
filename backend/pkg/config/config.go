package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// Social platform
	PlatformBaseURL     string
	PlatformBearerToken string
	PlatformMaxRetries  int
	PlatformCooldown    time.Duration // used when the provider sends no reset header

	// Rate budget
	RateCapacity     int
	RateRefillPerSec float64
	RateJitterMin    time.Duration
	RateJitterMax    time.Duration

	// LLM (OpenAI-compatible endpoint: LiteLLM, OpenRouter, OpenAI)
	LLMBaseURL          string
	LLMAPIKey           string
	SummaryModel        string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingDelay      time.Duration

	// Crawl tuning
	MaxSecondDegree    int
	CrawlBatchSize     int
	PostsFollowerFloor int
	MaxPosts           int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", ""),

		Neo4jURI:      getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:     getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", "password"),

		PlatformBaseURL:     getEnv("PLATFORM_BASE_URL", "https://api.twitter.com/2"),
		PlatformBearerToken: getEnv("PLATFORM_BEARER_TOKEN", ""),
		PlatformMaxRetries:  getEnvInt("PLATFORM_MAX_RETRIES", 3),
		PlatformCooldown:    getEnvDuration("PLATFORM_COOLDOWN", 900*time.Second),

		// ~1500 requests per 15 minutes, kept at 93% to leave headroom
		RateCapacity:     getEnvInt("RATE_CAPACITY", 1400),
		RateRefillPerSec: getEnvFloat("RATE_REFILL_PER_SEC", 1400.0/900.0),
		RateJitterMin:    getEnvDuration("RATE_JITTER_MIN", 100*time.Millisecond),
		RateJitterMax:    getEnvDuration("RATE_JITTER_MAX", 500*time.Millisecond),

		LLMBaseURL:          getEnv("LITELLM_URL", "http://localhost:4000"),
		LLMAPIKey:           getEnv("OPENROUTER_API_KEY", ""),
		SummaryModel:        getEnv("SUMMARY_MODEL", "openrouter/anthropic/claude-3.5-sonnet"),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 768),
		EmbeddingDelay:      getEnvDuration("EMBEDDING_DELAY", 500*time.Millisecond),

		MaxSecondDegree:    getEnvInt("MAX_SECOND_DEGREE", 100),
		CrawlBatchSize:     getEnvInt("CRAWL_BATCH_SIZE", 5),
		PostsFollowerFloor: getEnvInt("POSTS_FOLLOWER_FLOOR", 50),
		MaxPosts:           getEnvInt("MAX_POSTS", 50),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.Neo4jURI == "" {
		return fmt.Errorf("NEO4J_URI is required")
	}
	if c.Neo4jUser == "" {
		return fmt.Errorf("NEO4J_USER is required")
	}
	if c.PlatformBaseURL == "" {
		return fmt.Errorf("PLATFORM_BASE_URL is required")
	}
	if c.RateCapacity <= 0 {
		return fmt.Errorf("RATE_CAPACITY must be positive")
	}
	if c.RateRefillPerSec <= 0 {
		return fmt.Errorf("RATE_REFILL_PER_SEC must be positive")
	}
	if c.RateJitterMax < c.RateJitterMin {
		return fmt.Errorf("RATE_JITTER_MAX must not be below RATE_JITTER_MIN")
	}
	if c.PlatformMaxRetries < 1 {
		return fmt.Errorf("PLATFORM_MAX_RETRIES must be at least 1")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}
	if c.CrawlBatchSize <= 0 {
		return fmt.Errorf("CRAWL_BATCH_SIZE must be positive")
	}
	// The bearer token and LLM key are optional so the API can serve stored data offline
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
