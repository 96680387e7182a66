package queue

import (
	"context"
	"sync"
	"time"

	"linkatlas/internal/models"
	"linkatlas/internal/urlutil"
)

// MemoryQueue implements Manager in process memory. It mirrors the Redis
// implementation's semantics exactly and serves unit tests and
// single-process setups that have no Redis at hand.
type MemoryQueue struct {
	mu         sync.Mutex
	seq        int64
	pending    []pendingItem
	processing map[string]models.ProcessingEntry
	failed     map[string]models.FailedEntry
}

type pendingItem struct {
	seq   int64
	entry models.QueueEntry
}

// NewMemoryQueue returns an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		processing: make(map[string]models.ProcessingEntry),
		failed:     make(map[string]models.FailedEntry),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, rawURL string, priority int) (bool, error) {
	url, err := urlutil.Normalize(rawURL)
	if err != nil {
		return false, err
	}
	if err := checkPriority(priority); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tracked(url) {
		return false, nil
	}
	q.seq++
	q.pending = append(q.pending, pendingItem{
		seq: q.seq,
		entry: models.QueueEntry{
			URL:        url,
			Priority:   priority,
			EnqueuedAt: time.Now().UTC(),
		},
	})
	return true, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (models.QueueEntry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	best := -1
	for i, item := range q.pending {
		if best == -1 {
			best = i
			continue
		}
		b := q.pending[best]
		if item.entry.Priority > b.entry.Priority ||
			(item.entry.Priority == b.entry.Priority && item.seq < b.seq) {
			best = i
		}
	}
	if best == -1 {
		return models.QueueEntry{}, false, nil
	}

	item := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	now := time.Now().UTC()
	q.processing[item.entry.URL] = models.ProcessingEntry{
		URL:         item.entry.URL,
		Priority:    item.entry.Priority,
		RetryCount:  item.entry.RetryCount,
		StartedAt:   now,
		StartedUnix: now.Unix(),
	}
	return item.entry, true, nil
}

func (q *MemoryQueue) MarkDone(ctx context.Context, rawURL string) error {
	url, err := urlutil.Normalize(rawURL)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, url)
	return nil
}

func (q *MemoryQueue) MarkFailed(ctx context.Context, rawURL string, reason string) error {
	url, err := urlutil.Normalize(rawURL)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	rc := 0
	priority := DefaultPriority
	if entry, ok := q.processing[url]; ok {
		rc = entry.RetryCount
		priority = entry.Priority
		delete(q.processing, url)
	} else if prev, ok := q.failed[url]; ok {
		rc = prev.RetryCount
		priority = prev.Priority
	}
	q.failed[url] = models.FailedEntry{
		URL:           url,
		Priority:      priority,
		LastError:     reason,
		RetryCount:    rc + 1,
		LastAttemptAt: time.Now().UTC(),
	}
	return nil
}

func (q *MemoryQueue) Retry(ctx context.Context, rawURL string) (bool, error) {
	url, err := urlutil.Normalize(rawURL)
	if err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.failed[url]
	if !ok {
		return false, nil
	}
	delete(q.failed, url)
	q.seq++
	q.pending = append(q.pending, pendingItem{
		seq: q.seq,
		entry: models.QueueEntry{
			URL:        url,
			Priority:   entry.Priority,
			RetryCount: entry.RetryCount,
			EnqueuedAt: time.Now().UTC(),
		},
	})
	return true, nil
}

func (q *MemoryQueue) Failed(ctx context.Context) ([]models.FailedEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := make([]models.FailedEntry, 0, len(q.failed))
	for _, entry := range q.failed {
		entries = append(entries, entry)
	}
	return entries, nil
}

func (q *MemoryQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.processing = make(map[string]models.ProcessingEntry)
	q.failed = make(map[string]models.FailedEntry)
	q.seq = 0
	return nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (models.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := models.QueueStats{
		TotalQueued: len(q.pending),
		Processing:  len(q.processing),
		Failed:      len(q.failed),
	}
	for i, item := range q.pending {
		if i >= statsSampleSize {
			break
		}
		stats.QueuedURLs = append(stats.QueuedURLs, item.entry.URL)
	}
	return stats, nil
}

func (q *MemoryQueue) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	moved := 0
	for url, entry := range q.processing {
		if entry.StartedAt.After(cutoff) {
			continue
		}
		delete(q.processing, url)
		q.seq++
		q.pending = append(q.pending, pendingItem{
			seq: q.seq,
			entry: models.QueueEntry{
				URL:        url,
				Priority:   entry.Priority,
				RetryCount: entry.RetryCount,
				EnqueuedAt: time.Now().UTC(),
			},
		})
		moved++
	}
	return moved, nil
}

func (q *MemoryQueue) tracked(url string) bool {
	for _, item := range q.pending {
		if item.entry.URL == url {
			return true
		}
	}
	if _, ok := q.processing[url]; ok {
		return true
	}
	_, ok := q.failed[url]
	return ok
}
