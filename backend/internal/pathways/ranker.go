package pathways

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"nexus/backend/internal/constants"
	"nexus/backend/internal/graph"
	"nexus/backend/internal/metrics"
	"nexus/backend/internal/topics"
	apperrors "nexus/backend/pkg/errors"
	"nexus/backend/pkg/logger"
)

// BridgeScore ranks one mutual connection as an introduction route
type BridgeScore struct {
	BridgeID           string  `json:"bridge_user_id"`
	BridgeHandle       string  `json:"bridge_username"`
	BridgeName         string  `json:"bridge_name"`
	BridgeAvatarURL    string  `json:"bridge_profile_image"`
	OverallScore       float64 `json:"overall_score"`
	SuccessProbability float64 `json:"success_probability"`
	Components
	Reason            string `json:"reason"`
	SuggestedApproach string `json:"suggested_approach"`
}

// Analysis is the ranked set of bridges from a source to a target
type Analysis struct {
	TargetID     string        `json:"target_user_id"`
	TargetHandle string        `json:"target_username"`
	TargetName   string        `json:"target_name"`
	TargetBio    string        `json:"target_bio"`
	Bridges      []BridgeScore `json:"bridges"`
	TotalBridges int           `json:"total_bridges_found"`
}

// QuickScore is a lighter bridge/target score that needs no connection data
type QuickScore struct {
	BridgeID       string  `json:"bridge_id"`
	TargetID       string  `json:"target_id"`
	Score          float64 `json:"score"`
	TopicAlignment float64 `json:"topic_alignment"`
	Influence      float64 `json:"influence"`
	Engagement     float64 `json:"engagement"`
}

// Ranker finds and ranks bridges from stored graph data only
type Ranker struct {
	store   graph.Store
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewRanker creates a ranker over store
func NewRanker(store graph.Store, m *metrics.Collector) *Ranker {
	return &Ranker{
		store:   store,
		metrics: m,
		logger:  logger.Named("pathways"),
	}
}

// Analyze ranks every bridge between sourceID and targetID by overall score
func (r *Ranker) Analyze(ctx context.Context, sourceID, targetID string) (*Analysis, error) {
	if sourceID == "" || targetID == "" {
		return nil, apperrors.NewValidation("user_id", "source and target are required")
	}

	bridgeIDs, err := r.findBridges(ctx, sourceID, targetID)
	if err != nil {
		r.metrics.PathwayResult(resultLabel(err))
		return nil, err
	}
	r.logger.Info("Found bridge candidates",
		zap.String("source_id", sourceID),
		zap.String("target_id", targetID),
		zap.Int("bridges", len(bridgeIDs)),
	)

	profiles, err := r.store.GetProfiles(ctx, append(slices.Clone(bridgeIDs), sourceID, targetID))
	if err != nil {
		r.metrics.PathwayResult("error")
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	target, ok := profiles[targetID]
	if !ok {
		r.metrics.PathwayResult("not_found")
		return nil, apperrors.NewNotFound("target profile", targetID)
	}
	targetTopic := topicOf(target)

	bridges := make([]BridgeScore, 0, len(bridgeIDs))
	for _, id := range bridgeIDs {
		bridge, ok := profiles[id]
		if !ok {
			r.logger.Debug("Skipping bridge without profile", zap.String("bridge_id", id))
			continue
		}

		comps := Score(bridge, target)
		overall := comps.Overall()

		shared := ""
		if t := topicOf(bridge); t != "" && t == targetTopic {
			shared = t
		}

		bridges = append(bridges, BridgeScore{
			BridgeID:           bridge.ID,
			BridgeHandle:       bridge.Handle,
			BridgeName:         bridge.DisplayName,
			BridgeAvatarURL:    bridge.AvatarURL,
			OverallScore:       overall,
			SuccessProbability: SuccessProbability(overall),
			Components:         comps,
			Reason:             Reason(comps, bridge),
			SuggestedApproach:  IntroductionMessage(bridge.DisplayName, target.DisplayName, shared),
		})
	}

	slices.SortStableFunc(bridges, func(a, b BridgeScore) int {
		if c := cmp.Compare(b.OverallScore, a.OverallScore); c != 0 {
			return c
		}
		return cmp.Compare(a.BridgeID, b.BridgeID)
	})

	r.metrics.PathwayResult("ok")
	return &Analysis{
		TargetID:     target.ID,
		TargetHandle: target.Handle,
		TargetName:   target.DisplayName,
		TargetBio:    target.Bio,
		Bridges:      bridges,
		TotalBridges: len(bridges),
	}, nil
}

// Bridge returns the first stored mutual of sourceID that also knows
// targetID, or nil when no such profile exists.
func (r *Ranker) Bridge(ctx context.Context, sourceID, targetID string) (*graph.Profile, error) {
	if sourceID == "" || targetID == "" {
		return nil, apperrors.NewValidation("user_id", "source and target are required")
	}

	bridgeIDs, err := r.findBridges(ctx, sourceID, targetID)
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	profiles, err := r.store.GetProfiles(ctx, bridgeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load bridge profiles: %w", err)
	}
	for _, id := range bridgeIDs {
		if p, ok := profiles[id]; ok {
			return p, nil
		}
	}
	return nil, nil
}

// findBridges intersects the two mutual sets. Without a target set it scans
// a bounded sample of the source's mutuals for membership of the target.
func (r *Ranker) findBridges(ctx context.Context, sourceID, targetID string) ([]string, error) {
	source, err := r.store.GetConnectionSet(ctx, sourceID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFound("connections for user", sourceID)
		}
		return nil, fmt.Errorf("failed to load source connections: %w", err)
	}

	var bridges []string
	target, err := r.store.GetConnectionSet(ctx, targetID)
	switch {
	case err == nil:
		for _, id := range source.MutualIDs {
			if target.Contains(id) {
				bridges = append(bridges, id)
			}
		}
	case apperrors.IsNotFound(err):
		bridges, err = r.scanMutualSets(ctx, source.MutualIDs, targetID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to load target connections: %w", err)
	}

	if len(bridges) == 0 {
		return nil, apperrors.NewNotFound("path to target", targetID)
	}
	return bridges, nil
}

func (r *Ranker) scanMutualSets(ctx context.Context, sourceMutuals []string, targetID string) ([]string, error) {
	sample := sourceMutuals[:min(len(sourceMutuals), constants.BridgeScanLimit)]
	r.logger.Debug("Target has no connection set, scanning source mutuals",
		zap.String("target_id", targetID),
		zap.Int("sample", len(sample)),
	)

	sets, err := r.store.GetConnectionSets(ctx, sample)
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection sets: %w", err)
	}
	var bridges []string
	for _, id := range sample {
		if set, ok := sets[id]; ok && set.Contains(targetID) {
			bridges = append(bridges, id)
		}
	}
	return bridges, nil
}

// QuickScore weighs topic alignment, influence and engagement for one pair.
// Topic alignment is 0 rather than neutral when a vector is missing.
func (r *Ranker) QuickScore(ctx context.Context, bridgeID, targetID string) (*QuickScore, error) {
	profiles, err := r.store.GetProfiles(ctx, []string{bridgeID, targetID})
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	bridge, ok := profiles[bridgeID]
	if !ok {
		return nil, apperrors.NewNotFound("profile", bridgeID)
	}
	target, ok := profiles[targetID]
	if !ok {
		return nil, apperrors.NewNotFound("profile", targetID)
	}

	ta := 0.0
	if bridge.HasEmbedding() && target.HasEmbedding() {
		ta = clamp(Cosine(bridge.Embedding, target.Embedding) * 100)
	}
	influence := Influence(bridge)
	engagement := EngagementQuality(bridge)

	return &QuickScore{
		BridgeID:       bridgeID,
		TargetID:       targetID,
		Score:          ta*0.4 + influence*0.3 + engagement*0.3,
		TopicAlignment: ta,
		Influence:      influence,
		Engagement:     engagement,
	}, nil
}

// topicOf returns the profile's classified topic, or "" for the catch-all
func topicOf(p *graph.Profile) string {
	topic, _ := topics.Classify(p.Bio, p.Summary)
	if topic == topics.DefaultTopic {
		return ""
	}
	return topic
}

func resultLabel(err error) string {
	if apperrors.IsNotFound(err) {
		return "not_found"
	}
	return "error"
}
