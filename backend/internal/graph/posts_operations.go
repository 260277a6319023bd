package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	apperrors "nexus/backend/pkg/errors"
)

// ============================================================================
// Posts Operations
// ============================================================================

// UpsertPosts replaces the PostsRecord and, when the texts differ from what
// was stored, clears the owner's summary and embedding in the same statement.
func (r *Repository) UpsertPosts(ctx context.Context, rec *PostsRecord) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (r:Posts {user_id: $user_id})
		WITH r, coalesce(r.posts, []) <> $posts AS changed
		SET r.posts = $posts,
		    r.discovered_at = $discovered_at
		WITH changed
		OPTIONAL MATCH (p:Profile {id: $user_id})
		FOREACH (_ IN CASE WHEN changed AND p IS NOT NULL THEN [1] ELSE [] END |
			SET p.summary = null, p.embedding = null, p.embedded_at = null
		)
	`

	posts := rec.Posts
	if posts == nil {
		posts = []string{}
	}

	_, err := session.Run(ctx, query, map[string]interface{}{
		"user_id":       rec.UserID,
		"posts":         posts,
		"discovered_at": rec.DiscoveredAt.UTC(),
	})
	if err != nil && !isConstraintViolation(err) {
		return apperrors.NewGraphQueryFailed("upsert posts", err)
	}
	return nil
}

// GetPosts returns the stored record for userID or NotFound
func (r *Repository) GetPosts(ctx context.Context, userID string) (*PostsRecord, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (r:Posts {user_id: $user_id})
		RETURN r.posts AS posts, r.discovered_at AS discovered_at
	`, map[string]interface{}{"user_id": userID})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("get posts", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to fetch posts record: %w", err)
		}
		return nil, apperrors.NewNotFound("posts", userID)
	}

	record := result.Record()
	return &PostsRecord{
		UserID:       userID,
		Posts:        getStringSliceFromRecord(record, "posts"),
		DiscoveredAt: getTimeFromRecord(record, "discovered_at"),
	}, nil
}
