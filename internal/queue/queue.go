// Package queue owns crawl-job state: pending, processing, and failed sets
// with priority ordering, dedup on the normalized URL, and retry bookkeeping.
// A URL is in at most one of the three sets at any time.
package queue

import (
	"context"
	"errors"
	"time"

	"linkatlas/internal/models"
)

// Priority bounds for Enqueue. Higher priorities dequeue first; ties break
// FIFO within a priority band.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// ErrStoreUnavailable wraps transient store failures. Callers must not
// interpret a store outage as an empty queue; Dequeue reports empty with
// ok=false and a nil error.
var ErrStoreUnavailable = errors.New("queue store unavailable")

// ErrPriorityOutOfRange reports an Enqueue priority outside [1, 10].
var ErrPriorityOutOfRange = errors.New("priority out of range")

// Manager is the crawl queue contract. All URL arguments are normalized
// internally, so callers may pass raw URLs.
type Manager interface {
	// Enqueue admits a URL with the given priority. Returns false without
	// mutation when the URL is already pending, processing, or failed.
	Enqueue(ctx context.Context, rawURL string, priority int) (bool, error)

	// Dequeue claims the highest-priority, oldest pending entry and moves it
	// to the processing set in one atomic step. ok is false when the queue
	// is empty. No URL is ever handed to two concurrent callers.
	Dequeue(ctx context.Context) (entry models.QueueEntry, ok bool, err error)

	// MarkDone removes the processing entry. A missing entry is a no-op.
	MarkDone(ctx context.Context, rawURL string) error

	// MarkFailed moves the URL from processing to failed, incrementing its
	// retry count and recording the reason verbatim.
	MarkFailed(ctx context.Context, rawURL string, reason string) error

	// Retry moves a failed URL back to pending, keeping its retry count.
	// Returns false without mutation when the URL is not in the failed set.
	Retry(ctx context.Context, rawURL string) (bool, error)

	// Failed lists the failed set for operator inspection.
	Failed(ctx context.Context) ([]models.FailedEntry, error)

	// Clear empties all three sets. Operational reset only.
	Clear(ctx context.Context) error

	// Stats takes a consistent snapshot of the three sets.
	Stats(ctx context.Context) (models.QueueStats, error)

	// RequeueStale moves processing entries older than olderThan back to
	// pending, preserving priority and retry count. This is the orphan
	// sweep for workers that crashed without calling MarkDone/MarkFailed.
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
}

func checkPriority(priority int) error {
	if priority < MinPriority || priority > MaxPriority {
		return ErrPriorityOutOfRange
	}
	return nil
}
