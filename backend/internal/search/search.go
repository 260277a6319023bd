package search

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"nexus/backend/internal/constants"
	"nexus/backend/internal/graph"
	"nexus/backend/internal/pathways"
	"nexus/backend/internal/topics"
	apperrors "nexus/backend/pkg/errors"
	"nexus/backend/pkg/logger"
)

const (
	// DefaultLimit bounds result lists when the caller gives no limit
	DefaultLimit = 50
	// DefaultSecondDegreeLimit matches the network listing default
	DefaultSecondDegreeLimit = 100

	reasonLength = 100
)

// Search modes
const (
	ModeSemantic = "semantic"
	ModeKeyword  = "keyword"
)

// Embedder turns the query into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Network lists the ids reachable from a user through stored ConnectionSets
type Network struct {
	FirstDegree  []string `json:"first_degree"`
	SecondDegree []string `json:"second_degree"`
}

// All returns first then second degree ids
func (n *Network) All() []string {
	return append(slices.Clone(n.FirstDegree), n.SecondDegree...)
}

// NetworkStats summarises a user's indexed network
type NetworkStats struct {
	FirstDegreeCount  int `json:"first_degree_count"`
	SecondDegreeCount int `json:"second_degree_count"`
	ProfilesIndexed   int `json:"profiles_indexed"`
	ProfilesEmbedded  int `json:"profiles_embedded"`
	PostsIndexed      int `json:"posts_indexed"`
}

// Match is one natural-language search hit
type Match struct {
	UserID    string  `json:"user_id"`
	Handle    string  `json:"username"`
	Name      string  `json:"name"`
	Relevance float64 `json:"relevance_score"`
	Reason    string  `json:"reason"`
}

// Results carries the hits and the mode that produced them
type Results struct {
	Mode    string  `json:"mode"`
	Matches []Match `json:"matches"`
}

// TopicAssignment places one profile in a topic bucket
type TopicAssignment struct {
	UserID     string  `json:"user_id"`
	Handle     string  `json:"username"`
	Name       string  `json:"name"`
	Topic      string  `json:"topic"`
	Confidence float64 `json:"topic_confidence"`
}

// Service answers read-only questions about a user's stored network
type Service struct {
	store    graph.Store
	embedder Embedder
	logger   *zap.Logger
}

// NewService creates a search service. A nil embedder forces keyword search.
func NewService(store graph.Store, embedder Embedder) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		logger:   logger.Named("search"),
	}
}

// Network resolves first degree (the user's mutuals) and second degree
// (mutuals of mutuals minus the user and the first degree). A user without
// a ConnectionSet has an empty network.
func (s *Service) Network(ctx context.Context, userID string) (*Network, error) {
	if userID == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	net := &Network{FirstDegree: []string{}, SecondDegree: []string{}}

	root, err := s.store.GetConnectionSet(ctx, userID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return net, nil
		}
		return nil, fmt.Errorf("failed to load connections: %w", err)
	}
	net.FirstDegree = slices.Clone(root.MutualIDs)

	sets, err := s.store.GetConnectionSets(ctx, root.MutualIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load second degree: %w", err)
	}

	seen := make(map[string]struct{}, len(root.MutualIDs)+1)
	seen[userID] = struct{}{}
	for _, id := range root.MutualIDs {
		seen[id] = struct{}{}
	}
	for _, first := range root.MutualIDs {
		set, ok := sets[first]
		if !ok {
			continue
		}
		for _, id := range set.MutualIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			net.SecondDegree = append(net.SecondDegree, id)
		}
	}
	return net, nil
}

// FirstDegree returns the stored profiles of the user's mutuals
func (s *Service) FirstDegree(ctx context.Context, userID string) ([]*graph.Profile, error) {
	net, err := s.Network(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.profiles(ctx, net.FirstDegree)
}

// SecondDegree returns up to limit stored second-degree profiles
func (s *Service) SecondDegree(ctx context.Context, userID string, limit int) ([]*graph.Profile, error) {
	if limit <= 0 {
		limit = DefaultSecondDegreeLimit
	}
	net, err := s.Network(ctx, userID)
	if err != nil {
		return nil, err
	}
	profiles, err := s.profiles(ctx, net.SecondDegree)
	if err != nil {
		return nil, err
	}
	if len(profiles) > limit {
		profiles = profiles[:limit]
	}
	return profiles, nil
}

// Stats counts the user's network alongside global index totals
func (s *Service) Stats(ctx context.Context, userID string) (*NetworkStats, error) {
	net, err := s.Network(ctx, userID)
	if err != nil {
		return nil, err
	}
	totals, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load store stats: %w", err)
	}
	return &NetworkStats{
		FirstDegreeCount:  len(net.FirstDegree),
		SecondDegreeCount: len(net.SecondDegree),
		ProfilesIndexed:   totals.Profiles,
		ProfilesEmbedded:  totals.Embedded,
		PostsIndexed:      totals.PostsRecords,
	}, nil
}

// NaturalLanguage ranks the user's network against a free-text query.
// Semantic scoring needs the embedder; when it fails every profile is
// scored by keyword overlap instead.
func (s *Service) NaturalLanguage(ctx context.Context, userID, query string, limit int) (*Results, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, apperrors.NewValidation("query", "must not be empty")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	net, err := s.Network(ctx, userID)
	if err != nil {
		return nil, err
	}
	profiles, err := s.profiles(ctx, net.All())
	if err != nil {
		return nil, err
	}

	var queryVec []float32
	mode := ModeKeyword
	if s.embedder != nil {
		queryVec, err = s.embedder.Embed(ctx, query)
		if err == nil {
			mode = ModeSemantic
		} else {
			s.logger.Warn("Query embedding failed, falling back to keyword search", zap.Error(err))
		}
	}

	words := strings.Fields(query)
	matches := make([]Match, 0)
	for _, p := range profiles {
		text := searchText(p)

		var score, threshold float64
		if mode == ModeSemantic {
			if !p.HasEmbedding() {
				continue
			}
			score = SemanticScore(queryVec, p.Embedding, words, text)
			threshold = constants.SemanticMatchThreshold
		} else {
			score = KeywordScore(words, text)
			threshold = constants.KeywordMatchThreshold
		}
		if score <= threshold {
			continue
		}
		matches = append(matches, Match{
			UserID:    p.ID,
			Handle:    p.Handle,
			Name:      p.DisplayName,
			Relevance: score,
			Reason:    reason(p),
		})
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Relevance, a.Relevance); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	s.logger.Info("Natural language search complete",
		zap.String("user_id", userID),
		zap.String("mode", mode),
		zap.Int("candidates", len(profiles)),
		zap.Int("matches", len(matches)),
	)
	return &Results{Mode: mode, Matches: matches}, nil
}

// ClusterTopics assigns every profile in the user's network to a topic
func (s *Service) ClusterTopics(ctx context.Context, userID string) ([]TopicAssignment, error) {
	net, err := s.Network(ctx, userID)
	if err != nil {
		return nil, err
	}
	profiles, err := s.profiles(ctx, net.All())
	if err != nil {
		return nil, err
	}

	out := make([]TopicAssignment, 0, len(profiles))
	for _, p := range profiles {
		topic, confidence := topics.Classify(p.Bio, p.Summary)
		out = append(out, TopicAssignment{
			UserID:     p.ID,
			Handle:     p.Handle,
			Name:       p.DisplayName,
			Topic:      topic,
			Confidence: confidence,
		})
	}
	return out, nil
}

// SemanticScore is the cosine similarity, boosted when any query word
// occurs in the profile text.
func SemanticScore(queryVec, profileVec []float32, words []string, text string) float64 {
	score := pathways.Cosine(queryVec, profileVec)
	for _, w := range words {
		if strings.Contains(text, w) {
			return score * constants.KeywordBoost
		}
	}
	return score
}

// KeywordScore is the share of query words found in the profile text
func KeywordScore(words []string, text string) float64 {
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

func searchText(p *graph.Profile) string {
	return strings.ToLower(strings.Join([]string{p.Bio, p.Summary, p.DisplayName, p.Handle}, " "))
}

func reason(p *graph.Profile) string {
	switch {
	case p.Summary != "":
		return truncateRunes(p.Summary, reasonLength)
	case p.Bio != "":
		return truncateRunes(p.Bio, reasonLength)
	}
	return fmt.Sprintf("%s (@%s)", p.DisplayName, p.Handle)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// profiles loads ids in lookup-sized chunks, preserving order and dropping
// ids without a stored profile.
func (s *Service) profiles(ctx context.Context, ids []string) ([]*graph.Profile, error) {
	out := make([]*graph.Profile, 0, len(ids))
	for chunk := range slices.Chunk(ids, constants.MaxBatchLookup) {
		found, err := s.store.GetProfiles(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to load profiles: %w", err)
		}
		for _, id := range chunk {
			if p, ok := found[id]; ok {
				out = append(out, p)
			}
		}
	}
	return out, nil
}
