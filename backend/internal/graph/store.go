package graph

import (
	"context"
	"time"
)

// Store persists profiles, connection sets and posts. Every write is keyed
// by the platform's stable id and is idempotent. Lookups of a single record
// return a NotFound error when it is absent; batch lookups omit missing ids.
type Store interface {
	UpsertProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, id string) (*Profile, error)
	GetProfiles(ctx context.Context, ids []string) (map[string]*Profile, error)
	// ListProfiles pages through every profile ordered by id.
	ListProfiles(ctx context.Context, limit, offset int) ([]*Profile, error)

	// SaveMutuals upserts every mutual profile and replaces userID's
	// ConnectionSet in a single transaction.
	SaveMutuals(ctx context.Context, userID string, mutuals []*Profile, discoveredAt time.Time) error
	UpsertConnectionSet(ctx context.Context, set *ConnectionSet) error
	GetConnectionSet(ctx context.Context, userID string) (*ConnectionSet, error)
	GetConnectionSets(ctx context.Context, userIDs []string) (map[string]*ConnectionSet, error)

	// UpsertPosts replaces the record and clears the owner's summary and
	// embedding when the texts changed.
	UpsertPosts(ctx context.Context, rec *PostsRecord) error
	GetPosts(ctx context.Context, userID string) (*PostsRecord, error)

	// FindProfilesMissingEmbedding returns up to limit profiles without a
	// vector, restricted to ids when ids is non-empty.
	FindProfilesMissingEmbedding(ctx context.Context, ids []string, limit int) ([]*Profile, error)
	UpdateProfileSummaryEmbedding(ctx context.Context, id, summary string, embedding []float32, at time.Time) error
	ClearSummaryEmbedding(ctx context.Context, id string) error
	// ClearEmbeddingsBefore clears derived data on every profile embedded
	// before cutoff and returns how many it touched.
	ClearEmbeddingsBefore(ctx context.Context, cutoff time.Time) (int, error)

	Stats(ctx context.Context) (*Stats, error)
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)
