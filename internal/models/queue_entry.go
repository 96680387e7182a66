package models

import "time"

// QueueEntry is a pending crawl job. RetryCount is carried so a retried URL
// re-enters the queue with its failure history intact.
type QueueEntry struct {
	URL        string    `json:"url"`
	Priority   int       `json:"priority"`
	RetryCount int       `json:"retry_count,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
