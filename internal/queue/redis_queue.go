package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"linkatlas/internal/models"
	"linkatlas/internal/urlutil"
)

// scriptClient is the subset of redis.Client the queue needs. Every mutation
// runs as a Lua script so each state transition is a single atomic operation.
type scriptClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Close() error
}

// Pending ordering: score = (10 - priority) * 1e12 + sequence. Lower scores
// pop first, so higher priorities win and a monotonic sequence breaks ties
// FIFO within a priority band.
const (
	enqueueScript = `
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then return 0 end
if redis.call('HEXISTS', KEYS[3], ARGV[1]) == 1 then return 0 end
if redis.call('HEXISTS', KEYS[4], ARGV[1]) == 1 then return 0 end
local seq = redis.call('INCR', KEYS[5])
local score = (10 - tonumber(ARGV[2])) * 1e12 + seq
redis.call('ZADD', KEYS[1], score, ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
return 1`

	dequeueScript = `
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then return false end
local url = popped[1]
local raw = redis.call('HGET', KEYS[2], url)
redis.call('HDEL', KEYS[2], url)
local entry = {}
if raw then entry = cjson.decode(raw) end
local proc = {
  url = url,
  priority = entry.priority or 5,
  retry_count = entry.retry_count,
  started_at = ARGV[1],
  started_unix = tonumber(ARGV[2]),
}
redis.call('HSET', KEYS[3], url, cjson.encode(proc))
if raw then return raw end
return cjson.encode({url = url, priority = 5})`

	markDoneScript = `return redis.call('HDEL', KEYS[1], ARGV[1])`

	markFailedScript = `
local rc = 0
local priority = 5
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if raw then
  local entry = cjson.decode(raw)
  rc = entry.retry_count or 0
  priority = entry.priority or 5
  redis.call('HDEL', KEYS[1], ARGV[1])
else
  local prev = redis.call('HGET', KEYS[2], ARGV[1])
  if prev then
    local entry = cjson.decode(prev)
    rc = entry.retry_count or 0
    priority = entry.priority or 5
  end
end
rc = rc + 1
local failed = {
  url = ARGV[1],
  priority = priority,
  last_error = ARGV[2],
  retry_count = rc,
  last_attempt_at = ARGV[3],
}
redis.call('HSET', KEYS[2], ARGV[1], cjson.encode(failed))
return rc`

	retryScript = `
local raw = redis.call('HGET', KEYS[3], ARGV[1])
if not raw then return 0 end
redis.call('HDEL', KEYS[3], ARGV[1])
local entry = cjson.decode(raw)
local priority = entry.priority or 5
local seq = redis.call('INCR', KEYS[4])
local score = (10 - priority) * 1e12 + seq
redis.call('ZADD', KEYS[1], score, ARGV[1])
local pending = {
  url = ARGV[1],
  priority = priority,
  retry_count = entry.retry_count,
  enqueued_at = ARGV[2],
}
redis.call('HSET', KEYS[2], ARGV[1], cjson.encode(pending))
return 1`

	failedScript = `return redis.call('HVALS', KEYS[1])`

	clearScript = `
redis.call('DEL', KEYS[1], KEYS[2], KEYS[3], KEYS[4], KEYS[5])
return 1`

	statsScript = `
local sample = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[1]) - 1)
return {redis.call('ZCARD', KEYS[1]), redis.call('HLEN', KEYS[2]), redis.call('HLEN', KEYS[3]), sample}`

	requeueStaleScript = `
local moved = 0
local all = redis.call('HGETALL', KEYS[1])
for i = 1, #all, 2 do
  local url = all[i]
  local entry = cjson.decode(all[i + 1])
  if (entry.started_unix or 0) <= tonumber(ARGV[1]) then
    redis.call('HDEL', KEYS[1], url)
    local priority = entry.priority or 5
    local seq = redis.call('INCR', KEYS[4])
    local score = (10 - priority) * 1e12 + seq
    redis.call('ZADD', KEYS[2], score, url)
    local pending = {
      url = url,
      priority = priority,
      retry_count = entry.retry_count,
      enqueued_at = ARGV[2],
    }
    redis.call('HSET', KEYS[3], url, cjson.encode(pending))
    moved = moved + 1
  end
end
return moved`
)

// statsSampleSize bounds the queued-URL sample returned by Stats.
const statsSampleSize = 10

// RedisQueue implements Manager on Redis: a sorted set for pending order and
// hashes for entry payloads, processing, and failed state.
type RedisQueue struct {
	client scriptClient
	prefix string
}

// NewRedisQueue connects to Redis at addr. Keys are namespaced by prefix,
// e.g. "crawl:".
func NewRedisQueue(addr, prefix string) *RedisQueue {
	return &RedisQueue{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

// NewRedisQueueWithClient builds a queue over a custom client (tests).
func NewRedisQueueWithClient(client scriptClient, prefix string) *RedisQueue {
	return &RedisQueue{client: client, prefix: prefix}
}

// Close closes the Redis client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) keys() (pending, entries, processing, failed, seq string) {
	return q.prefix + "pending", q.prefix + "entries", q.prefix + "processing",
		q.prefix + "failed", q.prefix + "seq"
}

// Enqueue admits a normalized URL unless it is already tracked in any set.
func (q *RedisQueue) Enqueue(ctx context.Context, rawURL string, priority int) (bool, error) {
	url, err := urlutil.Normalize(rawURL)
	if err != nil {
		return false, err
	}
	if err := checkPriority(priority); err != nil {
		return false, err
	}

	entry := models.QueueEntry{
		URL:        url,
		Priority:   priority,
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return false, err
	}

	pending, entries, processing, failed, seq := q.keys()
	res, err := q.client.Eval(ctx, enqueueScript,
		[]string{pending, entries, processing, failed, seq},
		url, priority, string(payload)).Result()
	if err != nil {
		return false, storeErr("enqueue", err)
	}
	return res == int64(1), nil
}

// Dequeue pops the best pending entry and claims it in the same script, so
// two concurrent callers can never receive the same URL.
func (q *RedisQueue) Dequeue(ctx context.Context) (models.QueueEntry, bool, error) {
	now := time.Now().UTC()
	pending, entries, processing, _, _ := q.keys()
	res, err := q.client.Eval(ctx, dequeueScript,
		[]string{pending, entries, processing},
		now.Format(time.RFC3339Nano), now.Unix()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, storeErr("dequeue", err)
	}

	raw, ok := res.(string)
	if !ok {
		return models.QueueEntry{}, false, fmt.Errorf("dequeue: unexpected reply %T", res)
	}
	var entry models.QueueEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return models.QueueEntry{}, false, fmt.Errorf("dequeue: decode entry: %w", err)
	}
	return entry, true, nil
}

// MarkDone removes the processing entry; absent entries are a no-op.
func (q *RedisQueue) MarkDone(ctx context.Context, rawURL string) error {
	url, err := urlutil.Normalize(rawURL)
	if err != nil {
		return err
	}
	_, _, processing, _, _ := q.keys()
	if _, err := q.client.Eval(ctx, markDoneScript, []string{processing}, url).Result(); err != nil {
		return storeErr("mark done", err)
	}
	return nil
}

// MarkFailed records a failure, moving the URL from processing to failed
// with an incremented retry count. The reason is stored verbatim.
func (q *RedisQueue) MarkFailed(ctx context.Context, rawURL string, reason string) error {
	url, err := urlutil.Normalize(rawURL)
	if err != nil {
		return err
	}
	_, _, processing, failed, _ := q.keys()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := q.client.Eval(ctx, markFailedScript,
		[]string{processing, failed}, url, reason, now).Result(); err != nil {
		return storeErr("mark failed", err)
	}
	return nil
}

// Retry re-admits a failed URL to pending, keeping its retry count.
func (q *RedisQueue) Retry(ctx context.Context, rawURL string) (bool, error) {
	url, err := urlutil.Normalize(rawURL)
	if err != nil {
		return false, err
	}
	pending, entries, _, failed, seq := q.keys()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := q.client.Eval(ctx, retryScript,
		[]string{pending, entries, failed, seq}, url, now).Result()
	if err != nil {
		return false, storeErr("retry", err)
	}
	return res == int64(1), nil
}

// Failed returns every failed entry.
func (q *RedisQueue) Failed(ctx context.Context) ([]models.FailedEntry, error) {
	_, _, _, failed, _ := q.keys()
	res, err := q.client.Eval(ctx, failedScript, []string{failed}).Result()
	if err != nil {
		return nil, storeErr("list failed", err)
	}

	values, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("list failed: unexpected reply %T", res)
	}
	entries := make([]models.FailedEntry, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry models.FailedEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("list failed: decode entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Clear empties all queue state, including the FIFO sequence counter.
func (q *RedisQueue) Clear(ctx context.Context) error {
	pending, entries, processing, failed, seq := q.keys()
	if _, err := q.client.Eval(ctx, clearScript,
		[]string{pending, entries, processing, failed, seq}).Result(); err != nil {
		return storeErr("clear", err)
	}
	return nil
}

// Stats snapshots all three sets in one script call, so the counts are
// mutually consistent even under concurrent mutation.
func (q *RedisQueue) Stats(ctx context.Context) (models.QueueStats, error) {
	pending, _, processing, failed, _ := q.keys()
	res, err := q.client.Eval(ctx, statsScript,
		[]string{pending, processing, failed}, statsSampleSize).Result()
	if err != nil {
		return models.QueueStats{}, storeErr("stats", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 4 {
		return models.QueueStats{}, fmt.Errorf("stats: unexpected reply %T", res)
	}
	stats := models.QueueStats{
		TotalQueued: toInt(values[0]),
		Processing:  toInt(values[1]),
		Failed:      toInt(values[2]),
	}
	if sample, ok := values[3].([]interface{}); ok {
		for _, v := range sample {
			if url, ok := v.(string); ok {
				stats.QueuedURLs = append(stats.QueuedURLs, url)
			}
		}
	}
	return stats, nil
}

// RequeueStale moves processing entries started before now-olderThan back to
// pending. Priority and retry count carry over; retry count does not
// increment, since the failure was a worker crash, not a page failure.
func (q *RedisQueue) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan).Unix()
	pending, entries, processing, _, seq := q.keys()
	res, err := q.client.Eval(ctx, requeueStaleScript,
		[]string{processing, pending, entries, seq},
		cutoff, now.Format(time.RFC3339Nano)).Result()
	if err != nil {
		return 0, storeErr("requeue stale", err)
	}
	return toInt(res), nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

func toInt(v interface{}) int {
	n, _ := v.(int64)
	return int(n)
}
