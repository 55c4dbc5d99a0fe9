package store

import "context"

// CacheEntry is one row of the driver-backed shared cache tier. Entries are
// disposable and rebuildable; the cache is never the system of record.
type CacheEntry struct {
	Key        string
	Value      []byte
	Category   string
	InsertedTs int64
	TTLSeconds int64
}

// GetCacheEntry returns an unexpired entry, or nil on miss. Expired rows are
// treated as misses even before the cleanup sweep removes them.
func (s *Store) GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	return s.driver.GetCacheEntry(ctx, key)
}

// SetCacheEntry replaces the entry under key. Entries are written whole.
func (s *Store) SetCacheEntry(ctx context.Context, entry *CacheEntry) error {
	return s.driver.SetCacheEntry(ctx, entry)
}

// InvalidateCacheEntries deletes entries whose key matches pattern
// (trailing * wildcard) and returns the count.
func (s *Store) InvalidateCacheEntries(ctx context.Context, pattern string) (int, error) {
	return s.driver.InvalidateCacheEntries(ctx, pattern)
}

// PurgeExpiredCacheEntries removes rows whose TTL has lapsed.
func (s *Store) PurgeExpiredCacheEntries(ctx context.Context) (int, error) {
	return s.driver.PurgeExpiredCacheEntries(ctx)
}
