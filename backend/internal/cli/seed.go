package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"nexus/backend/internal/graph"
	"nexus/backend/internal/services"
)

// sampleProfiles is a small network for trying the API without platform credentials
var sampleProfiles = []*graph.Profile{
	{ID: "1001", Handle: "alice", DisplayName: "Alice", Bio: "Founder building developer tools", FollowersCount: 1200, FollowingCount: 300, PostCount: 800},
	{ID: "1002", Handle: "bob", DisplayName: "Bob", Bio: "AI engineer, machine learning and LLM infra", FollowersCount: 8400, FollowingCount: 900, PostCount: 5100, Verified: true},
	{ID: "1003", Handle: "carol", DisplayName: "Carol", Bio: "Crypto and DeFi researcher", FollowersCount: 3100, FollowingCount: 700, PostCount: 2200},
	{ID: "1004", Handle: "dave", DisplayName: "Dave", Bio: "Investor, seed stage startups", FollowersCount: 25000, FollowingCount: 1100, PostCount: 9000},
	{ID: "1005", Handle: "erin", DisplayName: "Erin", Bio: "Product designer, UX and design systems", FollowersCount: 640, FollowingCount: 410, PostCount: 300},
	{ID: "1006", Handle: "frank", DisplayName: "Frank", Bio: "Kubernetes and cloud infrastructure", FollowersCount: 150, FollowingCount: 200, PostCount: 90, Protected: true},
}

// sampleMutuals maps each seeded user to its mutual connections
var sampleMutuals = map[string][]string{
	"1001": {"1002", "1003", "1005"},
	"1002": {"1001", "1004", "1006"},
	"1003": {"1001", "1004"},
	"1005": {"1001"},
}

// SeedResult counts what the seed wrote
type SeedResult struct {
	Profiles       int `json:"profiles"`
	ConnectionSets int `json:"connection_sets"`
}

// Seed writes the sample network into store. Every write is an upsert, so
// running it twice leaves the same graph.
func Seed(ctx context.Context, store graph.Store, at time.Time) (*SeedResult, error) {
	byID := make(map[string]*graph.Profile, len(sampleProfiles))
	for _, p := range sampleProfiles {
		seeded := p.Clone()
		seeded.LastRefreshedAt = &at
		if err := store.UpsertProfile(ctx, seeded); err != nil {
			return nil, err
		}
		byID[p.ID] = seeded
	}

	for _, p := range sampleProfiles {
		ids, ok := sampleMutuals[p.ID]
		if !ok {
			continue
		}
		mutuals := make([]*graph.Profile, 0, len(ids))
		for _, id := range ids {
			mutuals = append(mutuals, byID[id].Clone())
		}
		if err := store.SaveMutuals(ctx, p.ID, mutuals, at); err != nil {
			return nil, err
		}
	}

	return &SeedResult{Profiles: len(sampleProfiles), ConnectionSets: len(sampleMutuals)}, nil
}

func newSeedCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load a small sample network into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
				return Seed(ctx, svc.Store, time.Now())
			})
		},
	}
}
