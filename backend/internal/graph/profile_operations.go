package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "nexus/backend/pkg/errors"
)

// ============================================================================
// Profile Operations
// ============================================================================

// upsertProfilesCypher merges each row and drops summary/embedding when any
// summary input changed.
const upsertProfilesCypher = `
	UNWIND $rows AS row
	MERGE (p:Profile {id: row.id})
	WITH p, row,
	     (coalesce(p.display_name, '') <> row.display_name
	      OR coalesce(p.handle, '') <> row.handle
	      OR coalesce(p.bio, '') <> row.bio
	      OR coalesce(p.location, '') <> row.location) AS text_changed
	SET p.handle = row.handle,
	    p.display_name = row.display_name,
	    p.bio = row.bio,
	    p.location = row.location,
	    p.avatar_url = row.avatar_url,
	    p.verified = row.verified,
	    p.followers_count = row.followers_count,
	    p.following_count = row.following_count,
	    p.post_count = row.post_count,
	    p.listed_count = row.listed_count,
	    p.protected = row.protected,
	    p.account_created_at = row.account_created_at,
	    p.last_refreshed_at = row.last_refreshed_at
	SET p.summary = CASE WHEN text_changed THEN null ELSE p.summary END,
	    p.embedding = CASE WHEN text_changed THEN null ELSE p.embedding END,
	    p.embedded_at = CASE WHEN text_changed THEN null ELSE p.embedded_at END
`

// UpsertProfile creates or refreshes a profile node
func (r *Repository) UpsertProfile(ctx context.Context, p *Profile) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.Run(ctx, upsertProfilesCypher, map[string]interface{}{
		"rows": []interface{}{profileParams(p)},
	})
	if err != nil {
		if isConstraintViolation(err) {
			r.logger.Debug("Profile already merged concurrently", zap.String("profile_id", p.ID))
			return nil
		}
		return apperrors.NewGraphQueryFailed("upsert profile", err)
	}
	return nil
}

// GetProfile returns a single profile or NotFound
func (r *Repository) GetProfile(ctx context.Context, id string) (*Profile, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (p:Profile {id: $id})
		RETURN p {.*} AS profile
	`, map[string]interface{}{"id": id})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("get profile", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to fetch profile record: %w", err)
		}
		return nil, apperrors.NewNotFound("profile", id)
	}

	return profileFromRecord(result.Record(), "profile"), nil
}

// GetProfiles returns the profiles that exist among ids
func (r *Repository) GetProfiles(ctx context.Context, ids []string) (map[string]*Profile, error) {
	out := make(map[string]*Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		UNWIND $ids AS id
		MATCH (p:Profile {id: id})
		RETURN p {.*} AS profile
	`, map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("get profiles", err)
	}

	for result.Next(ctx) {
		p := profileFromRecord(result.Record(), "profile")
		if p != nil {
			out[p.ID] = p
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return out, nil
}

// ListProfiles pages through profiles ordered by id
func (r *Repository) ListProfiles(ctx context.Context, limit, offset int) ([]*Profile, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (p:Profile)
		RETURN p {.*} AS profile
		ORDER BY p.id
		SKIP $offset
		LIMIT $limit
	`, map[string]interface{}{
		"offset": int64(max(offset, 0)),
		"limit":  int64(limit),
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("list profiles", err)
	}

	profiles := []*Profile{}
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

func profileParams(p *Profile) map[string]interface{} {
	return map[string]interface{}{
		"id":                 p.ID,
		"handle":             p.Handle,
		"display_name":       p.DisplayName,
		"bio":                p.Bio,
		"location":           p.Location,
		"avatar_url":         p.AvatarURL,
		"verified":           p.Verified,
		"followers_count":    int64(p.FollowersCount),
		"following_count":    int64(p.FollowingCount),
		"post_count":         int64(p.PostCount),
		"listed_count":       int64(p.ListedCount),
		"protected":          p.Protected,
		"account_created_at": timeParam(p.AccountCreatedAt),
		"last_refreshed_at":  timeParam(p.LastRefreshedAt),
	}
}

func profileFromRecord(record *neo4j.Record, key string) *Profile {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	m, ok := val.(map[string]interface{})
	if !ok {
		return nil
	}
	return profileFromMap(m)
}

func profileFromMap(m map[string]interface{}) *Profile {
	return &Profile{
		ID:               getStringFromMap(m, "id", ""),
		Handle:           getStringFromMap(m, "handle", ""),
		DisplayName:      getStringFromMap(m, "display_name", ""),
		Bio:              getStringFromMap(m, "bio", ""),
		Location:         getStringFromMap(m, "location", ""),
		AvatarURL:        getStringFromMap(m, "avatar_url", ""),
		Verified:         getBoolFromMap(m, "verified"),
		FollowersCount:   getIntFromMap(m, "followers_count"),
		FollowingCount:   getIntFromMap(m, "following_count"),
		PostCount:        getIntFromMap(m, "post_count"),
		ListedCount:      getIntFromMap(m, "listed_count"),
		Protected:        getBoolFromMap(m, "protected"),
		AccountCreatedAt: getTimePtrFromMap(m, "account_created_at"),
		LastRefreshedAt:  getTimePtrFromMap(m, "last_refreshed_at"),
		Summary:          getStringFromMap(m, "summary", ""),
		Embedding:        getFloat32SliceFromMap(m, "embedding"),
		EmbeddedAt:       getTimePtrFromMap(m, "embedded_at"),
	}
}

func timeParam(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
