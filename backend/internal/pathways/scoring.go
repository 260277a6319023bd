package pathways

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"nexus/backend/internal/constants"
	"nexus/backend/internal/graph"
)

// Components are the per-bridge sub-scores, each in [0,100]
type Components struct {
	TopicAlignment     float64 `json:"topic_alignment"`
	BridgeRelationship float64 `json:"relationship_strength_their_side"`
	Influence          float64 `json:"influence_score"`
	EngagementQuality  float64 `json:"engagement_quality"`
	YourRelationship   float64 `json:"relationship_strength_your_side"`
}

// Overall is the weighted sum of the components
func (c Components) Overall() float64 {
	return c.TopicAlignment*constants.WeightTopicAlignment +
		c.BridgeRelationship*constants.WeightBridgeRelationship +
		c.Influence*constants.WeightInfluence +
		c.EngagementQuality*constants.WeightEngagement +
		c.YourRelationship*constants.WeightYourRelationship
}

// SuccessProbability maps an overall score to a capped percentage
func SuccessProbability(overall float64) float64 {
	return min(constants.MaxSuccessProbability, overall*0.85)
}

// Cosine returns the cosine similarity of a and b. Empty, zero or
// mismatched vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TopicAlignment scores embedding similarity on [0,100], neutral when
// either side has no vector.
func TopicAlignment(bridge, target *graph.Profile) float64 {
	if !bridge.HasEmbedding() || !target.HasEmbedding() {
		return constants.NeutralTopicScore
	}
	return clamp(Cosine(bridge.Embedding, target.Embedding) * 100)
}

// YourRelationship is a follower-count proxy for how reachable the bridge is
func YourRelationship(bridge *graph.Profile) float64 {
	return min(100, float64(bridge.FollowersCount)/1000*10)
}

// Influence is log-scaled reach with a bonus for verified accounts
func Influence(p *graph.Profile) float64 {
	score := min(100, math.Log10(float64(p.FollowersCount)+10)/6*100)
	if p.Verified {
		score = min(100, score*constants.VerifiedInfluenceMultiplier)
	}
	return score
}

// EngagementQuality estimates how likely an account is to help. Protected
// accounts score 0.
func EngagementQuality(p *graph.Profile) float64 {
	if p.Protected {
		return 0
	}

	ratioScore := 50.0
	if p.FollowersCount > 0 {
		ratio := float64(p.FollowingCount) / float64(p.FollowersCount)
		if ratio < 2 {
			ratioScore = 100 * (1 - math.Abs(ratio-1))
		} else {
			ratioScore = 30
		}
	}
	activity := min(100, math.Log10(float64(p.PostCount)+10)/5*100)

	return ratioScore*0.4 + activity*0.6
}

// Score computes every component for one bridge
func Score(bridge, target *graph.Profile) Components {
	ta := TopicAlignment(bridge, target)
	return Components{
		TopicAlignment:     ta,
		BridgeRelationship: ta,
		Influence:          Influence(bridge),
		EngagementQuality:  EngagementQuality(bridge),
		YourRelationship:   YourRelationship(bridge),
	}
}

// Reason explains the strongest components in plain words
func Reason(c Components, bridge *graph.Profile) string {
	var reasons []string
	if c.TopicAlignment > 70 {
		reasons = append(reasons, fmt.Sprintf("Strong topic alignment (%.0f/100)", c.TopicAlignment))
	}
	if c.Influence > 80 {
		reasons = append(reasons, fmt.Sprintf("Highly influential (%s followers)", groupThousands(bridge.FollowersCount)))
	}
	if c.EngagementQuality > 70 {
		reasons = append(reasons, "Active and engaged on the platform")
	}
	if len(reasons) == 0 {
		return constants.DefaultReason
	}
	return strings.Join(reasons, constants.ReasonSeparator)
}

// IntroductionMessage drafts a request to the bridge. sharedTopic may be empty.
func IntroductionMessage(bridgeName, targetName, sharedTopic string) string {
	if sharedTopic != "" {
		return fmt.Sprintf("Hi %s, noticed you both work in %s. I'm exploring [your project] and would love to connect with %s about [specific aspect]. Would you be open to an intro?",
			bridgeName, sharedTopic, targetName)
	}
	return fmt.Sprintf("Hi %s, saw you're connected with %s. I'd love to connect about [topic of mutual interest]. Would you be open to making an introduction?",
		bridgeName, targetName)
}

func clamp(v float64) float64 {
	return max(0, min(100, v))
}

func groupThousands(n int) string {
	if n < 0 {
		return "-" + groupThousands(-n)
	}
	s := strconv.Itoa(n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
