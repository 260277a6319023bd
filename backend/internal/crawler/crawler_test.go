package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/backend/internal/graph"
	apperrors "nexus/backend/pkg/errors"
)

type fakeFetcher struct {
	mu        sync.Mutex
	profiles  map[string]*graph.Profile
	following map[string][]string
	followers map[string][]string
	posts     map[string][]string
	failFor   map[string]bool
	calls     map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		profiles:  map[string]*graph.Profile{},
		following: map[string][]string{},
		followers: map[string][]string{},
		posts:     map[string][]string{},
		failFor:   map[string]bool{},
		calls:     map[string]int{},
	}
}

func (f *fakeFetcher) addProfile(id string, followers int) *graph.Profile {
	now := time.Now()
	p := &graph.Profile{ID: id, Handle: id, FollowersCount: followers, LastRefreshedAt: &now}
	f.profiles[id] = p
	return p
}

// mutual makes a and b follow each other
func (f *fakeFetcher) mutual(a, b string) {
	f.following[a] = append(f.following[a], b)
	f.followers[a] = append(f.followers[a], b)
	f.following[b] = append(f.following[b], a)
	f.followers[b] = append(f.followers[b], a)
}

func (f *fakeFetcher) record(op, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op+":"+id]++
	if f.failFor[id] {
		return apperrors.NewTransientNetwork("/users/"+id, 3, errors.New("boom"))
	}
	return nil
}

func (f *fakeFetcher) callCount(op, id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op+":"+id]
}

func (f *fakeFetcher) lookup(ids []string) []*graph.Profile {
	out := make([]*graph.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out = append(out, p.Clone())
		} else {
			out = append(out, &graph.Profile{ID: id, Handle: id})
		}
	}
	return out
}

func (f *fakeFetcher) FetchProfile(ctx context.Context, id string) (*graph.Profile, error) {
	if err := f.record("profile", id); err != nil {
		return nil, err
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, apperrors.NewNotFound("profile", id)
	}
	return p.Clone(), nil
}

func (f *fakeFetcher) FetchProfileByHandle(ctx context.Context, handle string) (*graph.Profile, error) {
	if err := f.record("handle", handle); err != nil {
		return nil, err
	}
	for _, p := range f.profiles {
		if p.Handle == handle {
			return p.Clone(), nil
		}
	}
	return nil, apperrors.NewNotFound("profile", handle)
}

func (f *fakeFetcher) FetchUsers(ctx context.Context, ids []string) ([]*graph.Profile, error) {
	if err := f.record("users", strings.Join(ids, ",")); err != nil {
		return nil, err
	}
	out := make([]*graph.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (f *fakeFetcher) FetchAllFollowing(ctx context.Context, id string, maxResults int) ([]*graph.Profile, error) {
	if err := f.record("following", id); err != nil {
		return nil, err
	}
	return f.lookup(f.following[id]), nil
}

func (f *fakeFetcher) FetchAllFollowers(ctx context.Context, id string, maxResults int) ([]*graph.Profile, error) {
	if err := f.record("followers", id); err != nil {
		return nil, err
	}
	return f.lookup(f.followers[id]), nil
}

func (f *fakeFetcher) FetchRecentPosts(ctx context.Context, id string, count int) ([]string, error) {
	if err := f.record("posts", id); err != nil {
		return nil, err
	}
	posts := f.posts[id]
	if len(posts) > count {
		posts = posts[:count]
	}
	return posts, nil
}

func ids(profiles []*graph.Profile) []string {
	out := make([]string, len(profiles))
	for i, p := range profiles {
		out[i] = p.ID
	}
	return out
}

func sortedIDs(profiles []*graph.Profile) []string {
	out := ids(profiles)
	sort.Strings(out)
	return out
}

func TestMutuals(t *testing.T) {
	p := func(ids ...string) []*graph.Profile {
		out := make([]*graph.Profile, len(ids))
		for i, id := range ids {
			out[i] = &graph.Profile{ID: id}
		}
		return out
	}

	tests := []struct {
		name      string
		following []*graph.Profile
		followers []*graph.Profile
		exclude   []string
		want      []string
	}{
		{"intersection in following order", p("A", "B", "C"), p("C", "B", "D"), nil, []string{"B", "C"}},
		{"disjoint", p("A", "B"), p("C", "D"), nil, []string{}},
		{"identical", p("A", "B"), p("B", "A"), nil, []string{"A", "B"}},
		{"excluded ids dropped", p("A", "U", "B"), p("U", "B", "A"), []string{"U"}, []string{"A", "B"}},
		{"duplicates collapse", p("A", "A"), p("A"), nil, []string{"A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Mutuals(tt.following, tt.followers, tt.exclude...)))
		})
	}
}

func TestDiscoverConnections_StoresMutualsAndProfiles(t *testing.T) {
	f := newFakeFetcher()
	f.addProfile("A", 10)
	f.following["U"] = []string{"A", "B", "C"}
	f.followers["U"] = []string{"A", "C", "D"}

	store := graph.NewMemoryStore()
	c := New(f, store, Options{}, nil)

	d, err := c.DiscoverConnections(context.Background(), "U")
	require.NoError(t, err)
	assert.False(t, d.Skipped)
	assert.Equal(t, []string{"A", "C"}, ids(d.Mutuals))

	set, err := store.GetConnectionSet(context.Background(), "U")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "C"}, set.MutualIDs)

	a, err := store.GetProfile(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 10, a.FollowersCount)
}

func TestDiscoverConnections_ReplacesPreviousSet(t *testing.T) {
	f := newFakeFetcher()
	f.following["U"] = []string{"A", "B", "C"}
	f.followers["U"] = []string{"A", "B", "C"}

	store := graph.NewMemoryStore()
	c := New(f, store, Options{}, nil)
	ctx := context.Background()

	_, err := c.DiscoverConnections(ctx, "U")
	require.NoError(t, err)

	f.following["U"] = []string{"A", "B"}
	f.followers["U"] = []string{"A", "B"}
	c.now = func() time.Time { return time.Now().Add(200 * time.Hour) }

	_, err = c.DiscoverConnections(ctx, "U")
	require.NoError(t, err)

	set, err := store.GetConnectionSet(ctx, "U")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, set.MutualIDs, "the set is replaced, not merged")
}

func TestDiscoverConnections_FreshSetSkipsNetwork(t *testing.T) {
	f := newFakeFetcher()
	f.mutual("U", "A")

	store := graph.NewMemoryStore()
	c := New(f, store, Options{}, nil)
	ctx := context.Background()

	_, err := c.DiscoverConnections(ctx, "U")
	require.NoError(t, err)

	d, err := c.DiscoverConnections(ctx, "U")
	require.NoError(t, err)
	assert.True(t, d.Skipped)
	assert.Equal(t, []string{"A"}, ids(d.Mutuals))
	assert.Equal(t, 1, f.callCount("following", "U"))
}

func TestDiscoverConnections_FailureWritesNothing(t *testing.T) {
	f := newFakeFetcher()
	f.mutual("U", "A")
	f.failFor["U"] = true

	store := graph.NewMemoryStore()
	c := New(f, store, Options{}, nil)

	_, err := c.DiscoverConnections(context.Background(), "U")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeNetwork))

	_, err = store.GetConnectionSet(context.Background(), "U")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCrawl_FirstAndSecondDegree(t *testing.T) {
	f := newFakeFetcher()
	f.addProfile("U", 100)
	f.addProfile("A", 500)
	f.addProfile("B", 300)
	f.mutual("U", "A")
	f.mutual("U", "B")
	f.mutual("A", "B") // B is first degree, must not appear in second
	f.mutual("A", "X")
	f.mutual("B", "X") // X reached twice, counted once
	f.mutual("B", "Y")

	store := graph.NewMemoryStore()
	c := New(f, store, Options{BatchSize: 2}, nil)

	res, err := c.Crawl(context.Background(), "U", CrawlOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	require.NotNil(t, res.Root)
	assert.Equal(t, []string{"A", "B"}, sortedIDs(res.FirstDegree))
	assert.Equal(t, []string{"X", "Y"}, sortedIDs(res.SecondDegree))
	assert.Equal(t, 3, res.Connections.Fetched)
	assert.Zero(t, res.Connections.Failed)

	setA, err := store.GetConnectionSet(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, setA.Contains("U"), "the root is excluded from sub-crawls")
	assert.ElementsMatch(t, []string{"B", "X"}, setA.MutualIDs)
}

func TestCrawl_SecondDegreeFailureIsolated(t *testing.T) {
	f := newFakeFetcher()
	f.addProfile("U", 100)
	for _, id := range []string{"A", "B", "C"} {
		f.addProfile(id, 10)
		f.mutual("U", id)
	}
	f.mutual("A", "X")
	f.mutual("C", "Z")
	f.failFor["B"] = true

	c := New(f, graph.NewMemoryStore(), Options{}, nil)
	res, err := c.Crawl(context.Background(), "U", CrawlOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Connections.Failed)
	assert.Equal(t, []string{"X", "Z"}, sortedIDs(res.SecondDegree))
}

func TestCrawl_SkipSecondDegree(t *testing.T) {
	f := newFakeFetcher()
	f.addProfile("U", 100)
	f.mutual("U", "A")
	f.mutual("A", "X")

	c := New(f, graph.NewMemoryStore(), Options{}, nil)
	res, err := c.Crawl(context.Background(), "U", CrawlOptions{SkipSecondDegree: true})
	require.NoError(t, err)

	assert.Empty(t, res.SecondDegree)
	assert.Zero(t, f.callCount("following", "A"))
}

func TestCrawl_RootFetchFailurePropagates(t *testing.T) {
	f := newFakeFetcher()
	c := New(f, graph.NewMemoryStore(), Options{}, nil)

	_, err := c.Crawl(context.Background(), "ghost", CrawlOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCrawl_FreshRootNotRefetched(t *testing.T) {
	f := newFakeFetcher()
	f.addProfile("U", 100)
	store := graph.NewMemoryStore()
	now := time.Now()
	require.NoError(t, store.UpsertProfile(context.Background(), &graph.Profile{ID: "U", Handle: "u", LastRefreshedAt: &now}))

	c := New(f, store, Options{}, nil)
	_, err := c.Crawl(context.Background(), "U", CrawlOptions{SkipSecondDegree: true})
	require.NoError(t, err)
	assert.Zero(t, f.callCount("profile", "U"))
}

func TestSecondDegreeCandidates(t *testing.T) {
	mutuals := []*graph.Profile{
		{ID: "small", FollowersCount: 1},
		{ID: "locked", FollowersCount: 1000, Protected: true},
		{ID: "big", FollowersCount: 900},
		{ID: "mid", FollowersCount: 50},
	}
	assert.Equal(t, []string{"big", "mid"}, ids(SecondDegreeCandidates(mutuals, 2)))
}

func TestRefreshPosts_SkipsAndIsolates(t *testing.T) {
	f := newFakeFetcher()
	f.posts["ok"] = []string{"newest", "older"}
	f.failFor["broken"] = true

	store := graph.NewMemoryStore()
	ctx := context.Background()
	for _, p := range []*graph.Profile{
		{ID: "ok", Handle: "ok", FollowersCount: 100},
		{ID: "locked", Handle: "locked", FollowersCount: 100, Protected: true},
		{ID: "tiny", Handle: "tiny", FollowersCount: 10},
		{ID: "broken", Handle: "broken", FollowersCount: 100},
		{ID: "fresh", Handle: "fresh", FollowersCount: 100},
	} {
		require.NoError(t, store.UpsertProfile(ctx, p))
	}
	require.NoError(t, store.UpsertPosts(ctx, &graph.PostsRecord{UserID: "fresh", Posts: []string{"x"}, DiscoveredAt: time.Now()}))

	c := New(f, store, Options{}, nil)
	counts, err := c.RefreshPosts(ctx, []string{"ok", "locked", "tiny", "broken", "fresh", "unknown"})
	require.NoError(t, err)

	assert.Equal(t, 1, counts.Fetched)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 4, counts.Skipped)

	assert.Zero(t, f.callCount("posts", "locked"), "protected accounts are skipped before any request")
	assert.Zero(t, f.callCount("posts", "tiny"))
	assert.Zero(t, f.callCount("posts", "fresh"))

	rec, err := store.GetPosts(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "older"}, rec.Posts)

	_, err = store.GetPosts(ctx, "broken")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRefreshPosts_ClearsDerivedDataOnChange(t *testing.T) {
	f := newFakeFetcher()
	f.posts["A"] = []string{"brand new"}

	store := graph.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertProfile(ctx, &graph.Profile{ID: "A", Handle: "a", FollowersCount: 100}))
	require.NoError(t, store.UpsertPosts(ctx, &graph.PostsRecord{UserID: "A", Posts: []string{"old"}, DiscoveredAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, store.UpdateProfileSummaryEmbedding(ctx, "A", "summary", []float32{1, 2}, time.Now()))

	c := New(f, store, Options{}, nil)
	_, err := c.RefreshPosts(ctx, []string{"A"})
	require.NoError(t, err)

	a, err := store.GetProfile(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, a.Summary)
	assert.False(t, a.HasEmbedding())
}

// spanFetcher slows following lookups down and records when each one runs,
// so tests can observe how second-degree discovery overlaps.
type spanFetcher struct {
	*fakeFetcher
	seq      atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64

	mu    sync.Mutex
	spans map[string][2]int64
}

func (f *spanFetcher) FetchAllFollowing(ctx context.Context, id string, maxResults int) ([]*graph.Profile, error) {
	start := f.seq.Add(1)
	n := f.inFlight.Add(1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	time.Sleep(30 * time.Millisecond)
	f.inFlight.Add(-1)
	end := f.seq.Add(1)

	f.mu.Lock()
	f.spans[id] = [2]int64{start, end}
	f.mu.Unlock()
	return f.fakeFetcher.FetchAllFollowing(ctx, id, maxResults)
}

func TestCrawl_SecondDegreeBatchesRunInTurn(t *testing.T) {
	base := newFakeFetcher()
	base.addProfile("U", 1)
	var mutuals []string
	for i := range 12 {
		id := fmt.Sprintf("m%02d", i)
		base.addProfile(id, 1200-i*100)
		base.mutual("U", id)
		mutuals = append(mutuals, id)
	}
	f := &spanFetcher{fakeFetcher: base, spans: map[string][2]int64{}}

	c := New(f, graph.NewMemoryStore(), Options{BatchSize: 5}, nil)
	res, err := c.Crawl(context.Background(), "U", CrawlOptions{})
	require.NoError(t, err)
	assert.Equal(t, 13, res.Connections.Fetched)

	assert.LessOrEqual(t, f.peak.Load(), int64(5), "no more than one batch in flight")
	assert.Greater(t, f.peak.Load(), int64(1), "members of a batch overlap")

	// candidates are taken by descending follower count, so m00..m04 form
	// the first batch, m05..m09 the second and m10..m11 the last
	batches := [][]string{mutuals[0:5], mutuals[5:10], mutuals[10:12]}
	for k := 0; k+1 < len(batches); k++ {
		var lastEnd int64
		for _, id := range batches[k] {
			lastEnd = max(lastEnd, f.spans[id][1])
		}
		for _, id := range batches[k+1] {
			assert.Greater(t, f.spans[id][0], lastEnd, "%s started before batch %d finished", id, k)
		}
	}
}

func TestCrawl_ResolvesHandle(t *testing.T) {
	f := newFakeFetcher()
	root := f.addProfile("100", 10)
	root.Handle = "ada"
	f.mutual("100", "A")

	store := graph.NewMemoryStore()
	c := New(f, store, Options{}, nil)
	res, err := c.Crawl(context.Background(), "@ada", CrawlOptions{SkipSecondDegree: true})
	require.NoError(t, err)

	assert.Equal(t, "100", res.RootID)
	assert.Equal(t, []string{"A"}, ids(res.FirstDegree))
	assert.Equal(t, 1, f.callCount("handle", "ada"))
	assert.Zero(t, f.callCount("profile", "100"), "the resolved profile is already fresh")

	set, err := store.GetConnectionSet(context.Background(), "100")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, set.MutualIDs)
}

func TestResolveUser(t *testing.T) {
	f := newFakeFetcher()
	c := New(f, graph.NewMemoryStore(), Options{}, nil)
	ctx := context.Background()

	id, err := c.ResolveUser(ctx, " 42 ")
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	for _, ref := range []string{"", "@", "  "} {
		_, err := c.ResolveUser(ctx, ref)
		assert.True(t, apperrors.IsValidation(err), "ref %q", ref)
	}

	_, err = c.ResolveUser(ctx, "@nobody")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCrawl_RefreshesStaleMutualsInBatch(t *testing.T) {
	f := newFakeFetcher()
	f.addProfile("U", 10)
	f.addProfile("A", 5)
	f.addProfile("B", 5)
	f.mutual("U", "A")
	f.mutual("U", "B")

	store := graph.NewMemoryStore()
	c := New(f, store, Options{}, nil)
	ctx := context.Background()

	first, err := c.Crawl(ctx, "U", CrawlOptions{SkipSecondDegree: true})
	require.NoError(t, err)
	assert.Zero(t, first.ProfilesRefreshed)

	f.profiles["A"].Bio = "updated"
	later := time.Now().Add(48 * time.Hour)
	c.now = func() time.Time { return later }

	second, err := c.Crawl(ctx, "U", CrawlOptions{SkipSecondDegree: true})
	require.NoError(t, err)

	assert.Equal(t, 1, second.Connections.Skipped, "the connection set is still fresh")
	assert.Equal(t, 2, second.ProfilesRefreshed)
	assert.Equal(t, 1, f.callCount("users", "A,B"), "stale mutuals share one lookup")
	assert.Equal(t, 1, f.callCount("following", "U"))

	a, err := store.GetProfile(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "updated", a.Bio)
	assert.Contains(t, ids(second.FirstDegree), "A")
}

func TestCrawl_StaleMutualLookupFailureKeepsStoredProfiles(t *testing.T) {
	f := newFakeFetcher()
	f.addProfile("U", 10)
	f.addProfile("A", 5)
	f.mutual("U", "A")

	store := graph.NewMemoryStore()
	c := New(f, store, Options{}, nil)
	ctx := context.Background()

	_, err := c.Crawl(ctx, "U", CrawlOptions{SkipSecondDegree: true})
	require.NoError(t, err)

	f.failFor["A"] = true
	c.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	res, err := c.Crawl(ctx, "U", CrawlOptions{SkipSecondDegree: true})
	require.NoError(t, err)
	assert.Zero(t, res.ProfilesRefreshed)
	assert.Equal(t, []string{"A"}, ids(res.FirstDegree))
}
