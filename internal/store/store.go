// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/story-refiner/internal/domain"
)

// Repository persists session snapshots across restarts.
type Repository interface {
	// GetSnapshot retrieves the snapshot stored under key. It returns nil
	// and no error when nothing is stored.
	GetSnapshot(ctx context.Context, key string) (*domain.Snapshot, error)

	// UpsertSnapshot creates or replaces the snapshot stored under key.
	UpsertSnapshot(ctx context.Context, key string, snap domain.Snapshot) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
