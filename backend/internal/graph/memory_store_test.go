package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "nexus/backend/pkg/errors"
)

func embedded(t *testing.T, s Store, id string) *Profile {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertProfile(ctx, &Profile{ID: id, Handle: id, DisplayName: "Name " + id, Bio: "bio"}))
	require.NoError(t, s.UpdateProfileSummaryEmbedding(ctx, id, "summary", []float32{1, 0, 0}, time.Now()))
	p, err := s.GetProfile(ctx, id)
	require.NoError(t, err)
	require.True(t, p.HasEmbedding())
	return p
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetProfile(ctx, "nope")
	assert.True(t, apperrors.IsNotFound(err))
	_, err = s.GetConnectionSet(ctx, "nope")
	assert.True(t, apperrors.IsNotFound(err))
	_, err = s.GetPosts(ctx, "nope")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMemoryStore_SaveMutualsReplacesSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	abc := []*Profile{{ID: "A"}, {ID: "B"}, {ID: "C"}}
	require.NoError(t, s.SaveMutuals(ctx, "U", abc, now))

	set, err := s.GetConnectionSet(ctx, "U")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, set.MutualIDs)

	require.NoError(t, s.SaveMutuals(ctx, "U", abc[:2], now.Add(time.Hour)))
	set, err = s.GetConnectionSet(ctx, "U")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, set.MutualIDs)
	assert.Equal(t, now.Add(time.Hour), set.DiscoveredAt)

	// profiles persist even when they drop out of the set
	_, err = s.GetProfile(ctx, "C")
	assert.NoError(t, err)
}

func TestMemoryStore_ProfileTextChangeClearsEmbedding(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	p := embedded(t, s, "P")

	// follower counts alone do not touch derived data
	p.FollowersCount = 999
	require.NoError(t, s.UpsertProfile(ctx, p))
	got, err := s.GetProfile(ctx, "P")
	require.NoError(t, err)
	assert.True(t, got.HasEmbedding())
	assert.Equal(t, "summary", got.Summary)

	p.Bio = "new bio"
	require.NoError(t, s.UpsertProfile(ctx, p))
	got, err = s.GetProfile(ctx, "P")
	require.NoError(t, err)
	assert.False(t, got.HasEmbedding())
	assert.Empty(t, got.Summary)
	assert.Nil(t, got.EmbeddedAt)
}

func TestMemoryStore_PostsChangeClearsEmbedding(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	embedded(t, s, "P")

	require.NoError(t, s.UpsertPosts(ctx, &PostsRecord{UserID: "P", Posts: []string{"one"}, DiscoveredAt: time.Now()}))
	got, _ := s.GetProfile(ctx, "P")
	assert.False(t, got.HasEmbedding())

	require.NoError(t, s.UpdateProfileSummaryEmbedding(ctx, "P", "again", []float32{0, 1}, time.Now()))

	// identical texts keep derived data
	require.NoError(t, s.UpsertPosts(ctx, &PostsRecord{UserID: "P", Posts: []string{"one"}, DiscoveredAt: time.Now()}))
	got, _ = s.GetProfile(ctx, "P")
	assert.True(t, got.HasEmbedding())
	assert.Equal(t, "again", got.Summary)

	rec, err := s.GetPosts(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, rec.Posts)
}

func TestMemoryStore_EmbeddingImpliesSummary(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	embedded(t, s, "P")

	require.NoError(t, s.ClearSummaryEmbedding(ctx, "P"))
	got, _ := s.GetProfile(ctx, "P")
	assert.Empty(t, got.Summary)
	assert.Empty(t, got.Embedding)
}

func TestMemoryStore_FindProfilesMissingEmbedding(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertProfile(ctx, &Profile{ID: "small", FollowersCount: 10}))
	require.NoError(t, s.UpsertProfile(ctx, &Profile{ID: "big", FollowersCount: 5000}))
	embedded(t, s, "done")

	all, err := s.FindProfilesMissingEmbedding(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "big", all[0].ID)

	limited, err := s.FindProfilesMissingEmbedding(ctx, nil, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	scoped, err := s.FindProfilesMissingEmbedding(ctx, []string{"small", "done"}, 10)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "small", scoped[0].ID)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertConnectionSet(ctx, &ConnectionSet{UserID: "U", MutualIDs: []string{"A"}}))

	set, _ := s.GetConnectionSet(ctx, "U")
	set.MutualIDs[0] = "mutated"

	again, _ := s.GetConnectionSet(ctx, "U")
	assert.Equal(t, []string{"A"}, again.MutualIDs)
}

func TestMemoryStore_BatchLookupsOmitMissing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveMutuals(ctx, "U", []*Profile{{ID: "A"}}, time.Now()))

	profiles, err := s.GetProfiles(ctx, []string{"A", "missing"})
	require.NoError(t, err)
	assert.Len(t, profiles, 1)

	sets, err := s.GetConnectionSets(ctx, []string{"U", "A"})
	require.NoError(t, err)
	assert.Len(t, sets, 1)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Profiles)
	assert.Equal(t, 1, stats.ConnectionSets)
}

func TestTextChanged(t *testing.T) {
	a := &Profile{ID: "1", DisplayName: "A", Handle: "a", Bio: "x", Location: "here"}
	b := a.Clone()
	assert.False(t, TextChanged(a, b))

	b.FollowersCount = 10
	assert.False(t, TextChanged(a, b))

	b.Location = "there"
	assert.True(t, TextChanged(a, b))
	assert.True(t, TextChanged(nil, b))
}

func TestMemoryStore_ListProfilesPagesByID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "d", "b"} {
		require.NoError(t, s.UpsertProfile(ctx, &Profile{ID: id, Handle: id}))
	}

	first, err := s.ListProfiles(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{first[0].ID, first[1].ID, first[2].ID})

	rest, err := s.ListProfiles(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "d", rest[0].ID)

	past, err := s.ListProfiles(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestMemoryStore_ClearEmbeddingsBefore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"old", "new", "none"} {
		require.NoError(t, s.UpsertProfile(ctx, &Profile{ID: id, Handle: id}))
	}
	require.NoError(t, s.UpdateProfileSummaryEmbedding(ctx, "old", "s", []float32{1}, now.Add(-200*time.Hour)))
	require.NoError(t, s.UpdateProfileSummaryEmbedding(ctx, "new", "s", []float32{1}, now))

	n, err := s.ClearEmbeddingsBefore(ctx, now.Add(-168*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, _ := s.GetProfile(ctx, "old")
	assert.False(t, old.HasEmbedding())
	assert.Empty(t, old.Summary)
	assert.Nil(t, old.EmbeddedAt)

	fresh, _ := s.GetProfile(ctx, "new")
	assert.True(t, fresh.HasEmbedding())
}
