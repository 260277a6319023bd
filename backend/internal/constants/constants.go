package constants

import "time"

// Staleness TTLs
const (
	ProfileTTL     = 24 * time.Hour
	ConnectionsTTL = 168 * time.Hour
	PostsTTL       = 24 * time.Hour
	EmbeddingsTTL  = 168 * time.Hour
)

// Platform limits
const (
	// MaxBatchLookup is the largest id list the batch user endpoint accepts
	MaxBatchLookup = 100
	// MaxFollowPageSize is the provider ceiling for following/followers pages
	MaxFollowPageSize = 1000
	// MinPostsPageSize and MaxPostsPageSize bound the timeline endpoint
	MinPostsPageSize = 5
	MaxPostsPageSize = 100
	// HTTPTimeout applies to every outbound platform call
	HTTPTimeout = 30 * time.Second
)

// Crawl constants
const (
	// MaxSecondDegree caps how many 1st-degree mutuals are expanded
	MaxSecondDegree = 100
	// SecondDegreeBatchSize is the number of concurrent sub-crawls per batch
	SecondDegreeBatchSize = 5
	// PostsFollowerFloor skips post fetching for very small accounts
	PostsFollowerFloor = 50
	// MaxPosts bounds a stored PostsRecord
	MaxPosts = 50
)

// Enrichment constants
const (
	// SummaryPostCount is how many recent posts feed the summary prompt
	SummaryPostCount = 10
	// DefaultEmbeddingDimensions matches the vector index
	DefaultEmbeddingDimensions = 768
	// InfluentialFollowerCount marks an account as influential in fallback text
	InfluentialFollowerCount = 10000
)

// Pathway scoring
const (
	// BridgeScanLimit bounds the fallback membership scan when the target has no ConnectionSet
	BridgeScanLimit = 100

	WeightTopicAlignment     = 0.30
	WeightBridgeRelationship = 0.25
	WeightInfluence          = 0.20
	WeightEngagement         = 0.15
	WeightYourRelationship   = 0.10

	// NeutralTopicScore is used when either embedding is missing
	NeutralTopicScore = 50.0
	// VerifiedInfluenceMultiplier boosts verified accounts before capping at 100
	VerifiedInfluenceMultiplier = 1.2
	// MaxSuccessProbability caps the reported success probability
	MaxSuccessProbability = 95.0

	// ReasonSeparator joins pathway reasons
	ReasonSeparator = " • "
	DefaultReason   = "Mutual connection available"
)

// Search thresholds
const (
	SemanticMatchThreshold = 0.3
	KeywordMatchThreshold  = 0.1
	KeywordBoost           = 1.5
)
