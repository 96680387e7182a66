package models

import "time"

// CacheEntry wraps a cached extraction result. Expiry is advisory: Get
// returns expired entries and callers decide whether stale data is usable.
type CacheEntry struct {
	URL        string           `json:"url"`
	Payload    ExtractionResult `json:"payload"`
	ComputedAt time.Time        `json:"computed_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

// Expired reports whether the entry has passed its expiry at the given time.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// CacheStats summarizes cache occupancy.
type CacheStats struct {
	TotalEntries   int `json:"total_entries"`
	ExpiredEntries int `json:"expired_entries"`
}
