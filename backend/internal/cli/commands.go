package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"nexus/backend/internal/crawler"
	"nexus/backend/internal/enrichment"
	"nexus/backend/internal/services"
	apperrors "nexus/backend/pkg/errors"
)

func newCrawlCmd(r *runner) *cobra.Command {
	var (
		noSecondDegree bool
		opts           crawler.CrawlOptions
	)

	cmd := &cobra.Command{
		Use:   "crawl <user_id|@handle>",
		Short: "Crawl a user's mutual connections and their second degree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.SkipSecondDegree = noSecondDegree
			return r.run(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
				return svc.Crawler.Crawl(ctx, args[0], opts)
			})
		},
	}

	cmd.Flags().BoolVar(&noSecondDegree, "no-second-degree", false, "stop after the first degree")
	cmd.Flags().BoolVar(&opts.WithPosts, "posts", false, "refresh recent posts for eligible profiles")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "refetch even when stored data is fresh")
	return cmd
}

func newPostsCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "posts <user_id>...",
		Short: "Refresh recent posts for stored profiles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
				return svc.Crawler.RefreshPosts(ctx, args)
			})
		},
	}
}

// NetworkEmbedding reports an embedding run over one user's network
type NetworkEmbedding struct {
	UserID       string                  `json:"user_id"`
	FirstDegree  int                     `json:"first_degree"`
	SecondDegree int                     `json:"second_degree"`
	Result       *enrichment.BatchResult `json:"result"`
}

func newEmbedCmd(r *runner) *cobra.Command {
	var (
		all       bool
		user      string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "embed [user_id...]",
		Short: "Summarize and embed profiles that have no vector yet",
		Long: "Embed the given profiles, every profile with --all, or the first and\n" +
			"second degree network of one user with --user.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && user == "" && len(args) == 0 {
				return apperrors.NewValidation("user_id", "pass ids, --user or --all")
			}
			if user != "" && len(args) > 0 {
				return apperrors.NewValidation("user_id", "ids and --user cannot be combined")
			}
			return r.run(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
				switch {
				case all:
					return svc.Pipeline.ProcessAll(ctx, batchSize)
				case user != "":
					network, err := svc.Search.Network(ctx, user)
					if err != nil {
						return nil, err
					}
					result, err := svc.Pipeline.ProcessIDs(ctx, network.All(), batchSize)
					if err != nil {
						return nil, err
					}
					return &NetworkEmbedding{
						UserID:       user,
						FirstDegree:  len(network.FirstDegree),
						SecondDegree: len(network.SecondDegree),
						Result:       result,
					}, nil
				}
				return svc.Pipeline.ProcessBatch(ctx, args, batchSize)
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "process every profile missing an embedding")
	cmd.Flags().StringVar(&user, "user", "", "process the first and second degree of this user")
	cmd.Flags().IntVar(&batchSize, "batch-size", 50, "profiles per batch")
	cmd.MarkFlagsMutuallyExclusive("all", "user")
	return cmd
}

func newPathwaysCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "pathways <source_id> <target_id>",
		Short: "Rank bridges from source to target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
				return svc.Ranker.Analyze(ctx, args[0], args[1])
			})
		},
	}
}

func newBridgeCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "bridge <source_id> <target_id>",
		Short: "Find one mutual of source who also knows target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
				bridge, err := svc.Ranker.Bridge(ctx, args[0], args[1])
				if err != nil {
					return nil, err
				}
				return map[string]any{"bridge": bridge}, nil
			})
		},
	}
}

func newSearchCmd(r *runner) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <user_id> <query>...",
		Short: "Search a user's network in natural language",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args[1:], " ")
			return r.run(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
				return svc.Search.NaturalLanguage(ctx, args[0], query, limit)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum matches (0 uses the default)")
	return cmd
}

func newStatsCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <user_id>",
		Short: "Show network size and index coverage for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
				return svc.Search.Stats(ctx, args[0])
			})
		},
	}
}
