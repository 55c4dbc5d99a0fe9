// Package store provides database access to the recommendation core's raw
// objects: recipes (read-side), recipe embeddings, taste profiles, the
// enrichment task trail, and the shared cache tier.
package store

import (
	"context"

	"github.com/savorhq/tastecore/internal/profile"
)

// Store provides access to all stored objects through a Driver.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new Store over the given driver.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

// Migrate applies the driver's schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// GetDriver exposes the underlying driver.
func (s *Store) GetDriver() Driver {
	return s.driver
}

// Close closes the underlying driver.
func (s *Store) Close() error {
	return s.driver.Close()
}
