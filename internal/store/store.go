// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/smartfin/internal/domain"
)

// GraphRepository persists chart artifacts produced by the analysis tools.
type GraphRepository interface {
	// SaveGraph stores a chart. An empty ID is filled with a new UUID.
	SaveGraph(ctx context.Context, g *domain.Graph) error

	// GetGraph retrieves a chart by ID. It returns nil, nil when missing.
	GetGraph(ctx context.Context, id string) (*domain.Graph, error)

	// ListGraphs returns the charts a session produced, oldest first.
	ListGraphs(ctx context.Context, sessionID string) ([]*domain.Graph, error)

	// DeleteGraphsBefore removes charts created before cutoff.
	DeleteGraphsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
