package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"nexus/backend/pkg/logger"
)

// Repository handles all Neo4j database operations
type Repository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext) *Repository {
	return &Repository{
		driver: driver,
		logger: logger.Named("graph"),
	}
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// EnsureSchema creates the uniqueness constraints every MERGE relies on
func (r *Repository) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT profile_id IF NOT EXISTS FOR (p:Profile) REQUIRE p.id IS UNIQUE`,
		`CREATE CONSTRAINT connection_set_user IF NOT EXISTS FOR (c:ConnectionSet) REQUIRE c.user_id IS UNIQUE`,
		`CREATE CONSTRAINT posts_user IF NOT EXISTS FOR (r:Posts) REQUIRE r.user_id IS UNIQUE`,
	}
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	r.logger.Info("Graph schema ensured", zap.Int("constraints", len(statements)))
	return nil
}

// isConstraintViolation reports a uniqueness race between concurrent MERGEs.
// The other writer produced the same node, so the write is treated as done.
func isConstraintViolation(err error) bool {
	var neo4jErr *neo4j.Neo4jError
	if errors.As(err, &neo4jErr) {
		return neo4jErr.Code == "Neo.ClientError.Schema.ConstraintValidationFailed"
	}
	return false
}
