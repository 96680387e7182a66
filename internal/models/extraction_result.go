package models

import "time"

// ExtractionResult is the per-page output of the link extraction engine.
// It is both the cached payload and the message published on the links topic.
type ExtractionResult struct {
	SourceURL      string       `json:"source_url"`
	Title          string       `json:"title,omitempty"`
	Description    string       `json:"description,omitempty"`
	Links          []LinkRecord `json:"links"`
	SkippedAnchors int          `json:"skipped_anchors,omitempty"`
	ExtractedAt    time.Time    `json:"extracted_at"`
}
