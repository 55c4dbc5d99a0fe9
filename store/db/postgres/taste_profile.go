package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/savorhq/tastecore/store"
)

// UpsertTasteProfile inserts or replaces a user's taste profile.
func (d *DB) UpsertTasteProfile(ctx context.Context, profile *store.TasteProfile) (*store.TasteProfile, error) {
	weights, err := json.Marshal(profile.CategoryWeights)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode category weights")
	}
	stmt := `
		INSERT INTO taste_profile (user_id, category_weights, strength, sample_count, last_computed_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (user_id)
		DO UPDATE SET
			category_weights = EXCLUDED.category_weights,
			strength = EXCLUDED.strength,
			sample_count = EXCLUDED.sample_count,
			last_computed_ts = EXCLUDED.last_computed_ts
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		profile.UserID,
		weights,
		profile.Strength,
		profile.SampleCount,
		profile.LastComputedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert taste profile")
	}
	return profile, nil
}

// GetTasteProfile returns the stored profile for a user, or nil if absent.
func (d *DB) GetTasteProfile(ctx context.Context, userID string) (*store.TasteProfile, error) {
	query := `
		SELECT user_id, category_weights, strength, sample_count, last_computed_ts
		FROM taste_profile
		WHERE user_id = ` + placeholder(1)

	var profile store.TasteProfile
	var weights []byte
	err := d.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.UserID,
		&weights,
		&profile.Strength,
		&profile.SampleCount,
		&profile.LastComputedTs,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get taste profile")
	}
	if err := json.Unmarshal(weights, &profile.CategoryWeights); err != nil {
		return nil, errors.Wrap(err, "failed to decode category weights")
	}
	return &profile, nil
}

// DeleteTasteProfile removes a user's profile. Idempotent.
func (d *DB) DeleteTasteProfile(ctx context.Context, userID string) error {
	stmt := `DELETE FROM taste_profile WHERE user_id = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, userID); err != nil {
		return errors.Wrap(err, "failed to delete taste profile")
	}
	return nil
}
