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
// Connection Operations
// ============================================================================

const replaceConnectionSetCypher = `
	MERGE (c:ConnectionSet {user_id: $user_id})
	SET c.mutual_ids = $mutual_ids,
	    c.discovered_at = $discovered_at
`

// SaveMutuals writes the mutual profiles and the owner's ConnectionSet in one
// transaction so readers never observe a set that references missing profiles.
func (r *Repository) SaveMutuals(ctx context.Context, userID string, mutuals []*Profile, discoveredAt time.Time) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	rows := make([]interface{}, 0, len(mutuals))
	ids := make([]string, 0, len(mutuals))
	for _, p := range mutuals {
		rows = append(rows, profileParams(p))
		ids = append(ids, p.ID)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(rows) > 0 {
			if _, err := tx.Run(ctx, upsertProfilesCypher, map[string]interface{}{"rows": rows}); err != nil {
				return nil, err
			}
		}
		_, err := tx.Run(ctx, replaceConnectionSetCypher, map[string]interface{}{
			"user_id":       userID,
			"mutual_ids":    ids,
			"discovered_at": discoveredAt.UTC(),
		})
		return nil, err
	})
	if err != nil {
		if isConstraintViolation(err) {
			r.logger.Debug("Connection set merged concurrently", zap.String("user_id", userID))
			return nil
		}
		return apperrors.NewGraphQueryFailed("save mutuals", err)
	}

	r.logger.Debug("Mutual connections saved",
		zap.String("user_id", userID),
		zap.Int("mutuals", len(ids)),
	)
	return nil
}

// UpsertConnectionSet replaces the stored set for set.UserID
func (r *Repository) UpsertConnectionSet(ctx context.Context, set *ConnectionSet) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.Run(ctx, replaceConnectionSetCypher, map[string]interface{}{
		"user_id":       set.UserID,
		"mutual_ids":    set.MutualIDs,
		"discovered_at": set.DiscoveredAt.UTC(),
	})
	if err != nil && !isConstraintViolation(err) {
		return apperrors.NewGraphQueryFailed("upsert connection set", err)
	}
	return nil
}

// GetConnectionSet returns the set for userID or NotFound
func (r *Repository) GetConnectionSet(ctx context.Context, userID string) (*ConnectionSet, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (c:ConnectionSet {user_id: $user_id})
		RETURN c.user_id AS user_id, c.mutual_ids AS mutual_ids, c.discovered_at AS discovered_at
	`, map[string]interface{}{"user_id": userID})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("get connection set", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to fetch connection set record: %w", err)
		}
		return nil, apperrors.NewNotFound("connection set", userID)
	}

	return connectionSetFromRecord(result.Record()), nil
}

// GetConnectionSets returns the sets that exist among userIDs
func (r *Repository) GetConnectionSets(ctx context.Context, userIDs []string) (map[string]*ConnectionSet, error) {
	out := make(map[string]*ConnectionSet, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		UNWIND $user_ids AS uid
		MATCH (c:ConnectionSet {user_id: uid})
		RETURN c.user_id AS user_id, c.mutual_ids AS mutual_ids, c.discovered_at AS discovered_at
	`, map[string]interface{}{"user_ids": userIDs})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("get connection sets", err)
	}

	for result.Next(ctx) {
		set := connectionSetFromRecord(result.Record())
		out[set.UserID] = set
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate connection sets: %w", err)
	}
	return out, nil
}

func connectionSetFromRecord(record *neo4j.Record) *ConnectionSet {
	userID, _ := record.Get("user_id")
	id, _ := userID.(string)
	return &ConnectionSet{
		UserID:       id,
		MutualIDs:    getStringSliceFromRecord(record, "mutual_ids"),
		DiscoveredAt: getTimeFromRecord(record, "discovered_at"),
	}
}
