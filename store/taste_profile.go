package store

import (
	"context"

	"github.com/pkg/errors"
)

// TasteProfile is the per-user preference summary maintained by the taste
// engine. Weights are signed and bounded to [-1, 1]; Strength in [0, 1]
// reflects how many samples back the weights, so a three-recipe profile never
// dominates ranking the way a three-hundred-recipe one does.
//
// Only the taste engine writes profiles; request handlers read them.
type TasteProfile struct {
	UserID          string
	CategoryWeights map[string]float64
	Strength        float64
	SampleCount     int
	LastComputedTs  int64
}

// Validate enforces the bounded-range invariants before persistence.
func (p *TasteProfile) Validate() error {
	if p.UserID == "" {
		return errors.New("user id is required")
	}
	for category, weight := range p.CategoryWeights {
		if weight < -1 || weight > 1 {
			return errors.Errorf("weight for category %q out of range: %f", category, weight)
		}
	}
	if p.Strength < 0 || p.Strength > 1 {
		return errors.Errorf("strength out of range: %f", p.Strength)
	}
	if p.SampleCount < 0 {
		return errors.Errorf("negative sample count: %d", p.SampleCount)
	}
	return nil
}

// Clone returns a deep copy so callers can hand profiles out without
// exposing the engine's writable map.
func (p *TasteProfile) Clone() *TasteProfile {
	weights := make(map[string]float64, len(p.CategoryWeights))
	for k, v := range p.CategoryWeights {
		weights[k] = v
	}
	clone := *p
	clone.CategoryWeights = weights
	return &clone
}

// UpsertTasteProfile inserts or replaces a user's profile.
func (s *Store) UpsertTasteProfile(ctx context.Context, profile *TasteProfile) (*TasteProfile, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return s.driver.UpsertTasteProfile(ctx, profile)
}

// GetTasteProfile returns the stored profile for a user, or nil if the user
// is still uninitialized.
func (s *Store) GetTasteProfile(ctx context.Context, userID string) (*TasteProfile, error) {
	return s.driver.GetTasteProfile(ctx, userID)
}

// DeleteTasteProfile removes a user's profile. Used by the GDPR purge hook.
func (s *Store) DeleteTasteProfile(ctx context.Context, userID string) error {
	return s.driver.DeleteTasteProfile(ctx, userID)
}
