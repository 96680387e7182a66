package models

// QueueStats is a read-only snapshot of the three queue sets, taken in a
// single atomic read so the numbers are consistent with each other.
type QueueStats struct {
	TotalQueued int      `json:"total_queued"`
	Processing  int      `json:"processing"`
	Failed      int      `json:"failed"`
	QueuedURLs  []string `json:"queued_urls,omitempty"`
}
