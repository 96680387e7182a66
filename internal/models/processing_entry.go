package models

import "time"

// ProcessingEntry tracks a job claimed by a worker. StartedUnix duplicates
// StartedAt as epoch seconds so the stale-entry sweep can compare ages inside
// the store without parsing timestamps.
type ProcessingEntry struct {
	URL         string    `json:"url"`
	Priority    int       `json:"priority"`
	RetryCount  int       `json:"retry_count,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	StartedUnix int64     `json:"started_unix"`
}
