package cli

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"nexus/backend/internal/graph"
	"nexus/backend/internal/services"
	"nexus/backend/pkg/config"
	"nexus/backend/pkg/logger"
)

// Options are the persistent flags shared by every subcommand
type Options struct {
	Memory  bool
	Verbose bool
}

// Opener builds the services a command runs against
type Opener func(ctx context.Context, opts Options) (*services.Services, error)

// NewRootCmd returns the root command for nexusctl
func NewRootCmd() *cobra.Command {
	return newRootCmd(openServices)
}

func newRootCmd(open Opener) *cobra.Command {
	r := &runner{open: open}

	rootCmd := &cobra.Command{
		Use:           "nexusctl",
		Short:         "Crawl a social graph and rank introduction pathways",
		Long:          "nexusctl drives the crawler, enrichment pipeline and pathway ranker from the command line. Results are printed as JSON.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&r.opts.Memory, "memory", false, "use an in-process store instead of Neo4j (data is lost on exit)")
	rootCmd.PersistentFlags().BoolVarP(&r.opts.Verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newCrawlCmd(r))
	rootCmd.AddCommand(newPostsCmd(r))
	rootCmd.AddCommand(newEmbedCmd(r))
	rootCmd.AddCommand(newPathwaysCmd(r))
	rootCmd.AddCommand(newBridgeCmd(r))
	rootCmd.AddCommand(newSearchCmd(r))
	rootCmd.AddCommand(newStatsCmd(r))
	rootCmd.AddCommand(newSeedCmd(r))

	return rootCmd
}

type runner struct {
	open Opener
	opts Options
}

// run opens the services, calls fn and prints its result as indented JSON
func (r *runner) run(cmd *cobra.Command, fn func(ctx context.Context, svc *services.Services) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	svc, err := r.open(ctx, r.opts)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	out, err := fn(ctx, svc)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func openServices(ctx context.Context, opts Options) (*services.Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	} else if level == "" {
		level = "warn"
	}
	if err := logger.Init(cfg.Env, level); err != nil {
		return nil, err
	}

	if opts.Memory {
		return services.New(cfg, graph.NewMemoryStore(), nil)
	}

	repo, closeGraph, err := services.OpenGraph(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := services.New(cfg, repo, nil)
	if err != nil {
		_ = closeGraph(ctx)
		return nil, err
	}
	svc.OnClose(closeGraph)
	return svc, nil
}
