package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/savorhq/tastecore/store"
)

// UpsertTasteProfile inserts or replaces the taste profile for a user.
func (d *DB) UpsertTasteProfile(ctx context.Context, profile *store.TasteProfile) (*store.TasteProfile, error) {
	weights, err := json.Marshal(profile.CategoryWeights)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode category weights")
	}
	if profile.LastComputedTs == 0 {
		profile.LastComputedTs = time.Now().Unix()
	}

	stmt := `
		INSERT INTO taste_profile (user_id, category_weights, strength, sample_count, last_computed_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id)
		DO UPDATE SET
			category_weights = excluded.category_weights,
			strength = excluded.strength,
			sample_count = excluded.sample_count,
			last_computed_ts = excluded.last_computed_ts
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		profile.UserID,
		string(weights),
		profile.Strength,
		profile.SampleCount,
		profile.LastComputedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert taste profile")
	}
	return profile, nil
}

// GetTasteProfile returns the taste profile for a user, or nil when absent.
func (d *DB) GetTasteProfile(ctx context.Context, userID string) (*store.TasteProfile, error) {
	query := `
		SELECT user_id, category_weights, strength, sample_count, last_computed_ts
		FROM taste_profile
		WHERE user_id = ?
	`
	var profile store.TasteProfile
	var weights string
	if err := d.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.UserID,
		&weights,
		&profile.Strength,
		&profile.SampleCount,
		&profile.LastComputedTs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get taste profile")
	}
	if err := json.Unmarshal([]byte(weights), &profile.CategoryWeights); err != nil {
		return nil, errors.Wrap(err, "failed to decode category weights")
	}
	return &profile, nil
}

// DeleteTasteProfile removes a user's taste profile. Idempotent.
func (d *DB) DeleteTasteProfile(ctx context.Context, userID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM taste_profile WHERE user_id = ?`, userID); err != nil {
		return errors.Wrap(err, "failed to delete taste profile")
	}
	return nil
}
