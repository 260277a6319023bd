package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	apperrors "nexus/backend/pkg/errors"
)

// ============================================================================
// Embedding Operations
// ============================================================================

// FindProfilesMissingEmbedding returns the largest accounts without a vector first
func (r *Repository) FindProfilesMissingEmbedding(ctx context.Context, ids []string, limit int) ([]*Profile, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	if ids == nil {
		ids = []string{}
	}

	result, err := session.Run(ctx, `
		MATCH (p:Profile)
		WHERE p.embedding IS NULL
		  AND (size($ids) = 0 OR p.id IN $ids)
		RETURN p {.*} AS profile
		ORDER BY coalesce(p.followers_count, 0) DESC, p.id
		LIMIT $limit
	`, map[string]interface{}{
		"ids":   ids,
		"limit": int64(limit),
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("find profiles missing embedding", err)
	}

	var profiles []*Profile
	for result.Next(ctx) {
		if p := profileFromRecord(result.Record(), "profile"); p != nil {
			profiles = append(profiles, p)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// UpdateProfileSummaryEmbedding writes summary and vector together
func (r *Repository) UpdateProfileSummaryEmbedding(ctx context.Context, id, summary string, embedding []float32, at time.Time) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (p:Profile {id: $id})
		SET p.summary = $summary,
		    p.embedding = $embedding,
		    p.embedded_at = $embedded_at
		RETURN p.id AS id
	`, map[string]interface{}{
		"id":          id,
		"summary":     summary,
		"embedding":   toFloat64Slice(embedding),
		"embedded_at": at.UTC(),
	})
	if err != nil {
		return apperrors.NewGraphQueryFailed("update summary embedding", err)
	}

	if _, err := result.Single(ctx); err != nil {
		return apperrors.NewNotFound("profile", id)
	}
	return nil
}

// ClearSummaryEmbedding removes derived data so the next batch re-processes the profile
func (r *Repository) ClearSummaryEmbedding(ctx context.Context, id string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.Run(ctx, `
		MATCH (p:Profile {id: $id})
		SET p.summary = null, p.embedding = null, p.embedded_at = null
	`, map[string]interface{}{"id": id})
	if err != nil {
		return apperrors.NewGraphQueryFailed("clear summary embedding", err)
	}
	return nil
}

// ClearEmbeddingsBefore expires every embedding written before cutoff
func (r *Repository) ClearEmbeddingsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (p:Profile)
		WHERE p.embedded_at IS NOT NULL AND p.embedded_at < $cutoff
		SET p.summary = null, p.embedding = null, p.embedded_at = null
		RETURN count(p) AS cleared
	`, map[string]interface{}{"cutoff": cutoff.UTC()})
	if err != nil {
		return 0, apperrors.NewGraphQueryFailed("clear stale embeddings", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read cleared count: %w", err)
	}
	return getIntFromRecord(record, "cleared"), nil
}

// Stats counts nodes by kind
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		CALL { MATCH (p:Profile) RETURN count(p) AS profiles }
		CALL { MATCH (p:Profile) WHERE p.embedding IS NOT NULL RETURN count(p) AS embedded }
		CALL { MATCH (c:ConnectionSet) RETURN count(c) AS connection_sets }
		CALL { MATCH (r:Posts) RETURN count(r) AS posts_records }
		RETURN profiles, embedded, connection_sets, posts_records
	`, nil)
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("stats", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	return &Stats{
		Profiles:       getIntFromRecord(record, "profiles"),
		Embedded:       getIntFromRecord(record, "embedded"),
		ConnectionSets: getIntFromRecord(record, "connection_sets"),
		PostsRecords:   getIntFromRecord(record, "posts_records"),
	}, nil
}
