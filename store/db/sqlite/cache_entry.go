package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/savorhq/tastecore/store"
)

// GetCacheEntry returns an unexpired cache entry, or nil on miss.
func (d *DB) GetCacheEntry(ctx context.Context, key string) (*store.CacheEntry, error) {
	query := `
		SELECT key, value, category, inserted_ts, ttl_seconds
		FROM cache_entry
		WHERE key = ? AND inserted_ts + ttl_seconds > ?
	`
	var entry store.CacheEntry
	err := d.db.QueryRowContext(ctx, query, key, time.Now().Unix()).Scan(
		&entry.Key,
		&entry.Value,
		&entry.Category,
		&entry.InsertedTs,
		&entry.TTLSeconds,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get cache entry")
	}
	return &entry, nil
}

// SetCacheEntry replaces the entry under key.
func (d *DB) SetCacheEntry(ctx context.Context, entry *store.CacheEntry) error {
	stmt := `
		INSERT INTO cache_entry (key, value, category, inserted_ts, ttl_seconds)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key)
		DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			inserted_ts = excluded.inserted_ts,
			ttl_seconds = excluded.ttl_seconds
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		entry.Key,
		entry.Value,
		entry.Category,
		entry.InsertedTs,
		entry.TTLSeconds,
	); err != nil {
		return errors.Wrap(err, "failed to set cache entry")
	}
	return nil
}

// InvalidateCacheEntries deletes entries matching pattern and returns the
// count. A trailing * matches any suffix; anything else is an exact key.
func (d *DB) InvalidateCacheEntries(ctx context.Context, pattern string) (int, error) {
	var stmt string
	var arg string
	if strings.HasSuffix(pattern, "*") {
		stmt = `DELETE FROM cache_entry WHERE key LIKE ? ESCAPE '\'`
		arg = escapeLike(strings.TrimSuffix(pattern, "*")) + "%"
	} else {
		stmt = `DELETE FROM cache_entry WHERE key = ?`
		arg = pattern
	}
	result, err := d.db.ExecContext(ctx, stmt, arg)
	if err != nil {
		return 0, errors.Wrap(err, "failed to invalidate cache entries")
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// PurgeExpiredCacheEntries removes rows whose TTL has lapsed.
func (d *DB) PurgeExpiredCacheEntries(ctx context.Context) (int, error) {
	stmt := `DELETE FROM cache_entry WHERE inserted_ts + ttl_seconds <= ?`
	result, err := d.db.ExecContext(ctx, stmt, time.Now().Unix())
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge expired cache entries")
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
