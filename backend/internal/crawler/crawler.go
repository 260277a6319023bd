package crawler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nexus/backend/internal/constants"
	"nexus/backend/internal/graph"
	"nexus/backend/internal/metrics"
	"nexus/backend/internal/staleness"
	apperrors "nexus/backend/pkg/errors"
	"nexus/backend/pkg/logger"
)

// Fetcher is the subset of the platform client the crawler needs
type Fetcher interface {
	FetchProfile(ctx context.Context, id string) (*graph.Profile, error)
	FetchProfileByHandle(ctx context.Context, handle string) (*graph.Profile, error)
	FetchUsers(ctx context.Context, ids []string) ([]*graph.Profile, error)
	FetchAllFollowing(ctx context.Context, id string, maxResults int) ([]*graph.Profile, error)
	FetchAllFollowers(ctx context.Context, id string, maxResults int) ([]*graph.Profile, error)
	FetchRecentPosts(ctx context.Context, id string, count int) ([]string, error)
}

// Options tunes fan-out and post fetching
type Options struct {
	MaxSecondDegree    int
	BatchSize          int
	PostsFollowerFloor int
	MaxPosts           int
}

// CrawlOptions selects the phases of a single crawl
type CrawlOptions struct {
	SkipSecondDegree bool
	WithPosts        bool
	// Force ignores staleness and refetches everything
	Force bool
}

// Counts tallies profiles per outcome
type Counts struct {
	Fetched int `json:"fetched"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Discovery is the outcome of one connection discovery
type Discovery struct {
	UserID  string           `json:"user_id"`
	Mutuals []*graph.Profile `json:"mutuals"`
	Skipped bool             `json:"skipped"`
}

// Result summarises a crawl. ProfilesRefreshed counts stored mutual profiles
// re-fetched because they aged past the profile TTL while their set stayed fresh.
type Result struct {
	RunID             string           `json:"run_id"`
	RootID            string           `json:"root_id"`
	Root              *graph.Profile   `json:"root,omitempty"`
	FirstDegree       []*graph.Profile `json:"first_degree"`
	SecondDegree      []*graph.Profile `json:"second_degree"`
	Connections       Counts           `json:"connections"`
	ProfilesRefreshed int              `json:"profiles_refreshed"`
	Posts             *Counts          `json:"posts,omitempty"`
	Duration          time.Duration    `json:"duration"`
}

// Crawler expands a user's mutual-connection neighbourhood into the store
type Crawler struct {
	fetcher Fetcher
	store   graph.Store
	opts    Options
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a crawler. Zero option fields take the package defaults.
func New(fetcher Fetcher, store graph.Store, opts Options, m *metrics.Collector) *Crawler {
	if opts.MaxSecondDegree <= 0 {
		opts.MaxSecondDegree = constants.MaxSecondDegree
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = constants.SecondDegreeBatchSize
	}
	if opts.PostsFollowerFloor <= 0 {
		opts.PostsFollowerFloor = constants.PostsFollowerFloor
	}
	if opts.MaxPosts <= 0 {
		opts.MaxPosts = constants.MaxPosts
	}
	return &Crawler{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		metrics: m,
		logger:  logger.Named("crawler"),
		now:     time.Now,
	}
}

// DiscoverConnections stores userID's mutual connections, skipping the
// network when the stored set is still fresh. Excluded ids never enter the set.
func (c *Crawler) DiscoverConnections(ctx context.Context, userID string, exclude ...string) (*Discovery, error) {
	return c.discover(ctx, userID, false, exclude)
}

func (c *Crawler) discover(ctx context.Context, userID string, force bool, exclude []string) (*Discovery, error) {
	if userID == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}

	if !force {
		set, err := c.store.GetConnectionSet(ctx, userID)
		switch {
		case err == nil && !staleness.IsStaleAt(&set.DiscoveredAt, constants.ConnectionsTTL, c.now()):
			mutuals, err := c.loadMutuals(ctx, set, exclude)
			if err != nil {
				return nil, err
			}
			c.logger.Debug("Connections fresh, skipping fetch",
				zap.String("user_id", userID),
				zap.Int("mutuals", len(mutuals)),
			)
			return &Discovery{UserID: userID, Mutuals: mutuals, Skipped: true}, nil
		case err != nil && !apperrors.IsNotFound(err):
			return nil, fmt.Errorf("failed to load connection set: %w", err)
		}
	}

	following, err := c.fetcher.FetchAllFollowing(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch following of %s: %w", userID, err)
	}
	followers, err := c.fetcher.FetchAllFollowers(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch followers of %s: %w", userID, err)
	}

	mutuals := Mutuals(following, followers, exclude...)
	if err := c.store.SaveMutuals(ctx, userID, mutuals, c.now()); err != nil {
		return nil, fmt.Errorf("failed to save mutuals of %s: %w", userID, err)
	}

	c.logger.Info("Discovered connections",
		zap.String("user_id", userID),
		zap.Int("following", len(following)),
		zap.Int("followers", len(followers)),
		zap.Int("mutuals", len(mutuals)),
	)
	return &Discovery{UserID: userID, Mutuals: mutuals}, nil
}

func (c *Crawler) loadMutuals(ctx context.Context, set *graph.ConnectionSet, exclude []string) ([]*graph.Profile, error) {
	profiles, err := c.store.GetProfiles(ctx, set.MutualIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load mutual profiles: %w", err)
	}
	mutuals := make([]*graph.Profile, 0, len(set.MutualIDs))
	for _, id := range set.MutualIDs {
		if p, ok := profiles[id]; ok && !slices.Contains(exclude, id) {
			mutuals = append(mutuals, p)
		}
	}
	return mutuals, nil
}

// Mutuals returns the accounts present in both lists, in following order,
// without duplicates or excluded ids.
func Mutuals(following, followers []*graph.Profile, exclude ...string) []*graph.Profile {
	followerIDs := make(map[string]struct{}, len(followers))
	for _, p := range followers {
		followerIDs[p.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		seen[id] = struct{}{}
	}

	mutuals := make([]*graph.Profile, 0)
	for _, p := range following {
		if _, ok := followerIDs[p.ID]; !ok {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		mutuals = append(mutuals, p)
	}
	return mutuals
}

// ResolveUser turns a crawl reference into a user id. "@handle" is looked
// up on the platform and the profile stored; anything else is already an id.
func (c *Crawler) ResolveUser(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	handle, isHandle := strings.CutPrefix(ref, "@")
	if ref == "" || (isHandle && handle == "") {
		return "", apperrors.NewValidation("user", "must be a user id or @handle")
	}
	if !isHandle {
		return ref, nil
	}

	profile, err := c.fetcher.FetchProfileByHandle(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	if err := c.store.UpsertProfile(ctx, profile); err != nil {
		return "", fmt.Errorf("failed to store %s: %w", ref, err)
	}
	c.logger.Debug("Resolved handle",
		zap.String("handle", handle),
		zap.String("user_id", profile.ID),
	)
	return profile.ID, nil
}

// Crawl refreshes the root, discovers its mutuals and, unless disabled,
// expands a bounded second degree in concurrent batches. ref is a user id
// or an @handle.
func (c *Crawler) Crawl(ctx context.Context, ref string, opts CrawlOptions) (*Result, error) {
	start := time.Now()
	result := &Result{
		RunID:        uuid.NewString(),
		RootID:       ref,
		FirstDegree:  []*graph.Profile{},
		SecondDegree: []*graph.Profile{},
	}
	defer func() {
		result.Duration = time.Since(start)
		c.metrics.ObserveCrawl(result.Duration)
	}()

	userID, err := c.ResolveUser(ctx, ref)
	if err != nil {
		return result, err
	}
	result.RootID = userID

	log := c.logger.With(zap.String("run_id", result.RunID), zap.String("user_id", userID))
	log.Info("Starting crawl",
		zap.Bool("second_degree", !opts.SkipSecondDegree),
		zap.Bool("with_posts", opts.WithPosts),
	)

	root, err := c.refreshRoot(ctx, userID, opts.Force)
	if err != nil {
		return result, err
	}
	result.Root = root

	first, err := c.discover(ctx, userID, opts.Force, nil)
	if err != nil {
		c.metrics.CrawlProfile("first_degree", "failed")
		return result, err
	}
	c.countDiscovery("first_degree", first, &result.Connections)
	if first.Skipped {
		result.ProfilesRefreshed = c.refreshStaleProfiles(ctx, first.Mutuals, log)
	}
	result.FirstDegree = first.Mutuals

	if !opts.SkipSecondDegree {
		second, err := c.expand(ctx, userID, first.Mutuals, opts.Force, &result.Connections, log)
		result.SecondDegree = second
		if err != nil {
			return result, err
		}
	}

	if opts.WithPosts {
		ids := make([]string, len(first.Mutuals))
		for i, p := range first.Mutuals {
			ids[i] = p.ID
		}
		posts, err := c.refreshPosts(ctx, ids, opts.Force)
		result.Posts = posts
		if err != nil {
			return result, err
		}
	}

	log.Info("Crawl complete",
		zap.Int("first_degree", len(result.FirstDegree)),
		zap.Int("second_degree", len(result.SecondDegree)),
		zap.Int("fetched", result.Connections.Fetched),
		zap.Int("skipped", result.Connections.Skipped),
		zap.Int("failed", result.Connections.Failed),
	)
	return result, nil
}

// refreshStaleProfiles re-fetches profiles older than the profile TTL through
// batched lookups and swaps the fresh copies into profiles in place. A failed
// lookup keeps the stored copies.
func (c *Crawler) refreshStaleProfiles(ctx context.Context, profiles []*graph.Profile, log *zap.Logger) int {
	index := make(map[string]int)
	var stale []string
	for i, p := range profiles {
		if staleness.IsStaleAt(p.LastRefreshedAt, constants.ProfileTTL, c.now()) {
			index[p.ID] = i
			stale = append(stale, p.ID)
		}
	}

	refreshed := 0
	for chunk := range slices.Chunk(stale, constants.MaxBatchLookup) {
		if ctx.Err() != nil {
			break
		}
		fresh, err := c.fetcher.FetchUsers(ctx, chunk)
		if err != nil {
			c.metrics.CrawlProfile("mutual_refresh", "failed")
			log.Warn("Mutual profile refresh failed, keeping stored profiles",
				zap.Int("profiles", len(chunk)),
				zap.Error(err),
			)
			continue
		}
		for _, p := range fresh {
			i, ok := index[p.ID]
			if !ok {
				continue
			}
			if err := c.store.UpsertProfile(ctx, p); err != nil {
				log.Warn("Failed to store refreshed profile",
					zap.String("mutual_id", p.ID),
					zap.Error(err),
				)
				continue
			}
			profiles[i] = p
			refreshed++
			c.metrics.CrawlProfile("mutual_refresh", "fetched")
		}
	}

	if refreshed > 0 {
		log.Debug("Refreshed stale mutual profiles",
			zap.Int("stale", len(stale)),
			zap.Int("refreshed", refreshed),
		)
	}
	return refreshed
}

func (c *Crawler) refreshRoot(ctx context.Context, userID string, force bool) (*graph.Profile, error) {
	stored, err := c.store.GetProfile(ctx, userID)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load root profile: %w", err)
	}
	if stored != nil && !force && !staleness.IsStaleAt(stored.LastRefreshedAt, constants.ProfileTTL, c.now()) {
		c.metrics.CrawlProfile("root", "skipped")
		return stored, nil
	}

	fresh, err := c.fetcher.FetchProfile(ctx, userID)
	if err != nil {
		c.metrics.CrawlProfile("root", "failed")
		if stored != nil && !apperrors.IsErrorType(err, apperrors.ErrorTypeContext) {
			c.logger.Warn("Root refresh failed, using stored profile",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			return stored, nil
		}
		return nil, fmt.Errorf("failed to fetch root profile: %w", err)
	}
	if err := c.store.UpsertProfile(ctx, fresh); err != nil {
		return nil, fmt.Errorf("failed to store root profile: %w", err)
	}
	c.metrics.CrawlProfile("root", "fetched")
	return fresh, nil
}

// expand runs discovery for the top mutuals in sequential batches whose
// members run concurrently. A failing member contributes nothing.
func (c *Crawler) expand(ctx context.Context, rootID string, firstDegree []*graph.Profile, force bool, counts *Counts, log *zap.Logger) ([]*graph.Profile, error) {
	candidates := SecondDegreeCandidates(firstDegree, c.opts.MaxSecondDegree)

	seen := make(map[string]struct{}, len(firstDegree)+1)
	seen[rootID] = struct{}{}
	for _, p := range firstDegree {
		seen[p.ID] = struct{}{}
	}
	second := make([]*graph.Profile, 0)

	for start := 0; start < len(candidates); start += c.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return second, apperrors.NewContextCancelled("second degree expansion", err)
		}
		batch := candidates[start:min(start+c.opts.BatchSize, len(candidates))]
		discoveries := make([]*Discovery, len(batch))

		var mu sync.Mutex
		var g errgroup.Group
		for i, mutual := range batch {
			g.Go(func() error {
				d, err := c.discover(ctx, mutual.ID, force, []string{rootID})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					counts.Failed++
					c.metrics.CrawlProfile("second_degree", "failed")
					log.Warn("Second-degree discovery failed",
						zap.String("mutual_id", mutual.ID),
						zap.String("error_type", string(apperrors.TypeOf(err))),
						zap.Error(err),
					)
					return nil
				}
				discoveries[i] = d
				c.countDiscovery("second_degree", d, counts)
				return nil
			})
		}
		_ = g.Wait()

		for _, d := range discoveries {
			if d == nil {
				continue
			}
			for _, p := range d.Mutuals {
				if _, dup := seen[p.ID]; dup {
					continue
				}
				seen[p.ID] = struct{}{}
				second = append(second, p)
			}
		}

		log.Debug("Second-degree batch complete",
			zap.Int("batch_start", start),
			zap.Int("batch_size", len(batch)),
			zap.Int("aggregated", len(second)),
		)
	}
	return second, nil
}

// SecondDegreeCandidates picks up to limit non-protected mutuals by
// descending follower count.
func SecondDegreeCandidates(mutuals []*graph.Profile, limit int) []*graph.Profile {
	candidates := make([]*graph.Profile, 0, len(mutuals))
	for _, p := range mutuals {
		if !p.Protected {
			candidates = append(candidates, p)
		}
	}
	slices.SortStableFunc(candidates, func(a, b *graph.Profile) int {
		return b.FollowersCount - a.FollowersCount
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

func (c *Crawler) countDiscovery(phase string, d *Discovery, counts *Counts) {
	if d.Skipped {
		counts.Skipped++
		c.metrics.CrawlProfile(phase, "skipped")
		return
	}
	counts.Fetched++
	c.metrics.CrawlProfile(phase, "fetched")
}

// RefreshPosts replaces the stored posts of each eligible profile. Protected
// accounts, accounts under the follower floor and fresh records are skipped
// without a request. One profile's failure writes nothing for it.
func (c *Crawler) RefreshPosts(ctx context.Context, ids []string) (*Counts, error) {
	return c.refreshPosts(ctx, ids, false)
}

func (c *Crawler) refreshPosts(ctx context.Context, ids []string, force bool) (*Counts, error) {
	counts := &Counts{}
	profiles, err := c.store.GetProfiles(ctx, ids)
	if err != nil {
		return counts, fmt.Errorf("failed to load profiles: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return counts, apperrors.NewContextCancelled("refresh posts", err)
		}

		profile, ok := profiles[id]
		if !ok || !c.postsEligible(ctx, profile, force) {
			counts.Skipped++
			c.metrics.CrawlProfile("posts", "skipped")
			continue
		}

		posts, err := c.fetcher.FetchRecentPosts(ctx, id, c.opts.MaxPosts)
		if err == nil {
			err = c.store.UpsertPosts(ctx, &graph.PostsRecord{UserID: id, Posts: posts, DiscoveredAt: c.now()})
		}
		if err != nil {
			counts.Failed++
			c.metrics.CrawlProfile("posts", "failed")
			c.logger.Warn("Failed to refresh posts",
				zap.String("user_id", id),
				zap.Error(err),
			)
			continue
		}
		counts.Fetched++
		c.metrics.CrawlProfile("posts", "fetched")
	}

	c.logger.Info("Posts refresh complete",
		zap.Int("fetched", counts.Fetched),
		zap.Int("skipped", counts.Skipped),
		zap.Int("failed", counts.Failed),
	)
	return counts, nil
}

func (c *Crawler) postsEligible(ctx context.Context, p *graph.Profile, force bool) bool {
	if p.Protected || p.FollowersCount < c.opts.PostsFollowerFloor {
		return false
	}
	if force {
		return true
	}
	rec, err := c.store.GetPosts(ctx, p.ID)
	if err != nil {
		return true
	}
	return staleness.IsStaleAt(&rec.DiscoveredAt, constants.PostsTTL, c.now())
}
