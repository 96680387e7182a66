package models

import "time"

// Job status values published on the status topic.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobDone       = "done"
	JobFailed     = "failed"
)

// JobEvent is a crawl-job status transition relayed to downstream consumers.
type JobEvent struct {
	URL        string    `json:"url"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retry_count,omitempty"`
	At         time.Time `json:"at"`
}
