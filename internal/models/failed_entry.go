package models

import "time"

// FailedEntry records a crawl failure for operator inspection. Entries are
// never auto-deleted; they persist until an explicit retry or clear.
type FailedEntry struct {
	URL           string    `json:"url"`
	Priority      int       `json:"priority"`
	LastError     string    `json:"last_error"`
	RetryCount    int       `json:"retry_count"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}
