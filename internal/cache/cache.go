// Package cache stores per-URL extraction results with advisory expiry.
package cache

import (
	"context"
	"time"

	"linkatlas/internal/models"
)

// ResultCache persists extraction results keyed by normalized URL.
// Expiry is advisory: Get returns expired entries so stale-but-available
// reads can succeed; only ClearExpired physically removes entries.
type ResultCache interface {
	// Put overwrites any existing entry for the URL; last writer wins.
	Put(ctx context.Context, rawURL string, payload models.ExtractionResult, ttl time.Duration) error

	// Get returns the entry even when expired; callers check ExpiresAt.
	Get(ctx context.Context, rawURL string) (models.CacheEntry, bool, error)

	// ClearExpired deletes every entry with ExpiresAt at or before now and
	// returns the number deleted.
	ClearExpired(ctx context.Context) (int, error)

	// Stats counts total and expired entries.
	Stats(ctx context.Context) (models.CacheStats, error)
}
