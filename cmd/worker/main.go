package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"linkatlas/common"
	"linkatlas/internal/cache"
	"linkatlas/internal/events"
	"linkatlas/internal/extract"
	"linkatlas/internal/models"
	"linkatlas/internal/page"
	"linkatlas/internal/queue"
)

// linksPublisher abstracts the link producer for tests.
type linksPublisher interface {
	WriteLinks(ctx context.Context, result models.ExtractionResult) error
}

type worker struct {
	queue          queue.Manager
	cache          cache.ResultCache
	engine         *extract.Engine
	status         events.StatusWriter
	links          linksPublisher
	client         *http.Client
	robots         *page.RobotsCache // nil = no robots.txt gate
	cacheTTL       time.Duration
	pollInterval   time.Duration
	jobTimeout     time.Duration // per-job deadline so one stuck job can't hold a slot forever
	concurrentJobs int
	sem            chan struct{}
	wg             *sync.WaitGroup
}

// selectProxyFromPool returns one URL from pool (comma-separated) by hashing hostname.
// Used so each pod picks a deterministic proxy for multi-egress. Empty pool or hostname yields "".
func selectProxyFromPool(pool, hostname string) string {
	parts := strings.Split(strings.TrimSpace(pool), ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	var valid []string
	for _, p := range parts {
		if p != "" {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return ""
	}
	if hostname == "" {
		hostname = "0"
	}
	h := fnv.New32a()
	h.Write([]byte(hostname))
	idx := int(h.Sum32()) % len(valid)
	if idx < 0 {
		idx = -idx
	}
	return valid[idx]
}

// Page fetch timeouts so a single hung request doesn't hold a worker slot indefinitely.
const (
	fetchConnectTimeout  = 10 * time.Second
	fetchResponseTimeout = 25 * time.Second // time to first response header
	fetchTotalTimeout    = 30 * time.Second // total request (connect + headers + body)
)

// buildHTTPClient returns an http.Client for page fetches. If PROXY_URL is set, uses that
// proxy; if PROXY_POOL is set (comma-separated URLs), picks one by HOSTNAME (e.g. pod name)
// so replicas spread across proxies for multi-egress / rate-limit bypass.
// Transport uses explicit connect and response-header timeouts so hung requests release the slot.
func buildHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: fetchConnectTimeout}).DialContext,
		ResponseHeaderTimeout: fetchResponseTimeout,
	}
	proxyURL := common.GetEnv("PROXY_URL", "")
	pool := common.GetEnv("PROXY_POOL", "")
	if proxyURL == "" && pool != "" {
		hostname := os.Getenv("HOSTNAME")
		proxyURL = selectProxyFromPool(pool, hostname)
		if proxyURL != "" {
			log.Printf("worker proxy from pool: hostname=%s proxy=%s", hostname, proxyURL)
		}
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			log.Printf("invalid PROXY_URL/PROXY_POOL: %v", err)
		} else {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   fetchTotalTimeout,
	}
}

func newWorker(
	q queue.Manager,
	c cache.ResultCache,
	status events.StatusWriter,
	links linksPublisher,
	client *http.Client,
	robots *page.RobotsCache,
	cacheTTL time.Duration,
	pollInterval time.Duration,
	jobTimeout time.Duration,
	concurrentJobs int,
	wg *sync.WaitGroup,
) *worker {
	if concurrentJobs < 1 {
		concurrentJobs = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &worker{
		queue:          q,
		cache:          c,
		engine:         extract.NewEngine(),
		status:         status,
		links:          links,
		client:         client,
		robots:         robots,
		cacheTTL:       cacheTTL,
		pollInterval:   pollInterval,
		jobTimeout:     jobTimeout,
		concurrentJobs: concurrentJobs,
		sem:            make(chan struct{}, concurrentJobs),
		wg:             wg,
	}
}

func main() {
	redisAddr := common.GetEnv("REDIS_ADDR", "localhost:6379")
	broker := common.GetEnv("KAFKA_BROKER", "localhost:9092")
	statusTopic := common.GetEnv("KAFKA_STATUS_TOPIC", "linkatlas.job.status")
	linksTopic := common.GetEnv("KAFKA_LINKS_TOPIC", "linkatlas.page.links")
	cacheTTL := common.ParseDuration(common.GetEnv("CACHE_TTL", "1h"), time.Hour)
	pollInterval := common.ParseDuration(common.GetEnv("POLL_INTERVAL", "1s"), time.Second)
	jobTimeout := common.ParseDuration(common.GetEnv("JOB_TIMEOUT", "5m"), 5*time.Minute)
	sweepInterval := common.ParseDuration(common.GetEnv("SWEEP_INTERVAL", "1m"), time.Minute)
	staleAfter := common.ParseDuration(common.GetEnv("STALE_AFTER", "10m"), 10*time.Minute)
	concurrentJobs := common.ParseInt(common.GetEnv("CONCURRENT_JOBS", "5"), 5)
	metricsAddr := common.GetEnv("METRICS_ADDR", ":9090")

	q := queue.NewRedisQueue(redisAddr, "crawl:")
	defer func() {
		if err := q.Close(); err != nil {
			log.Printf("failed to close queue: %v", err)
		}
	}()

	resultCache := cache.NewRedisResultCache(redisAddr, "seo:")
	defer func() {
		if err := resultCache.Close(); err != nil {
			log.Printf("failed to close cache: %v", err)
		}
	}()

	statusProd := events.NewStatusProducer(broker, statusTopic)
	defer func() {
		if err := statusProd.Close(); err != nil {
			log.Printf("failed to close status producer: %v", err)
		}
	}()

	linkProd := events.NewLinkProducer(broker, linksTopic)
	defer func() {
		if err := linkProd.Close(); err != nil {
			log.Printf("failed to close link producer: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		startMetricsServer(ctx, metricsAddr)
	}

	httpClient := buildHTTPClient()
	var robots *page.RobotsCache
	if v := common.GetEnv("RESPECT_ROBOTS_TXT", ""); v == "true" || v == "1" {
		robots = page.NewRobotsCache(httpClient)
		log.Printf("robots.txt gate enabled (disallowed paths fail their jobs)")
	}

	var wg sync.WaitGroup
	w := newWorker(
		q,
		resultCache,
		statusProd,
		linkProd,
		httpClient,
		robots,
		cacheTTL,
		pollInterval,
		jobTimeout,
		concurrentJobs,
		&wg,
	)

	go w.runSweeper(ctx, sweepInterval, staleAfter)

	log.Printf("worker polling redis=%s broker=%s concurrent_jobs=%d", redisAddr, broker, concurrentJobs)
	w.run(ctx)
	wg.Wait()
}

// run claims queue entries and dispatches them to worker goroutines, bounded
// by the semaphore. An empty queue backs off by pollInterval.
func (w *worker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		entry, ok, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("dequeue error: %v", err)
			w.sleep(ctx, w.pollInterval)
			continue
		}
		if !ok {
			w.sleep(ctx, w.pollInterval)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case w.sem <- struct{}{}:
		}
		atomic.AddUint64(&workerJobsReceived, 1)
		atomic.AddInt64(&workerInFlight, 1)
		w.wg.Add(1)
		go w.processJobAsync(ctx, entry)
	}
}

func (w *worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processJobAsync runs the full pipeline for one claimed entry and settles
// it as done or failed. Uses a per-job context with timeout so one stuck job
// can't hold the slot forever.
func (w *worker) processJobAsync(ctx context.Context, entry models.QueueEntry) {
	defer func() {
		atomic.AddInt64(&workerInFlight, -1)
		<-w.sem
		w.wg.Done()
	}()

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	log.Printf("received job url=%s priority=%d retry_count=%d", entry.URL, entry.Priority, entry.RetryCount)
	w.publishStatus(jobCtx, models.JobEvent{
		URL:        entry.URL,
		Status:     models.JobProcessing,
		RetryCount: entry.RetryCount,
		At:         time.Now().UTC(),
	})

	result, err := w.processJob(jobCtx, entry)
	if err != nil {
		atomic.AddUint64(&workerJobsFailed, 1)
		log.Printf("job failed url=%s: %v", entry.URL, err)
		// Settlement uses the parent context: a job timeout must not also
		// prevent the failure from being recorded.
		if markErr := w.queue.MarkFailed(ctx, entry.URL, err.Error()); markErr != nil {
			log.Printf("mark failed error url=%s: %v", entry.URL, markErr)
		}
		w.publishStatus(ctx, models.JobEvent{
			URL:        entry.URL,
			Status:     models.JobFailed,
			Error:      err.Error(),
			RetryCount: entry.RetryCount + 1,
			At:         time.Now().UTC(),
		})
		return
	}

	atomic.AddUint64(&workerJobsSuccess, 1)
	atomic.AddUint64(&workerLinksExtracted, uint64(len(result.Links)))
	atomic.AddUint64(&workerAnchorsSkipped, uint64(result.SkippedAnchors))
	if err := w.queue.MarkDone(ctx, entry.URL); err != nil {
		log.Printf("mark done error url=%s: %v", entry.URL, err)
	}
	w.publishStatus(ctx, models.JobEvent{
		URL:    entry.URL,
		Status: models.JobDone,
		At:     time.Now().UTC(),
	})
	log.Printf("job done url=%s links=%d skipped=%d", entry.URL, len(result.Links), result.SkippedAnchors)
}

// processJob fetches, parses, extracts, caches, and publishes one page.
func (w *worker) processJob(ctx context.Context, entry models.QueueEntry) (models.ExtractionResult, error) {
	if w.robots != nil && !w.robots.Allowed(ctx, entry.URL) {
		atomic.AddUint64(&workerRobotsBlockedTotal, 1)
		return models.ExtractionResult{}, fmt.Errorf("robots.txt disallows %s", entry.URL)
	}

	doc, err := fetchWithMetrics(ctx, w.client, entry.URL)
	if err != nil {
		return models.ExtractionResult{}, fmt.Errorf("fetch: %w", err)
	}

	parsed, err := page.Parse(doc)
	if err != nil {
		return models.ExtractionResult{}, fmt.Errorf("parse: %w", err)
	}

	links, skipped, err := w.engine.Extract(parsed.Root, entry.URL)
	if err != nil {
		return models.ExtractionResult{}, fmt.Errorf("extract: %w", err)
	}
	for _, anchorErr := range skipped {
		log.Printf("anchor skipped url=%s index=%d href=%s: %v", entry.URL, anchorErr.Index, anchorErr.Href, anchorErr.Err)
	}
	if links == nil {
		links = []models.LinkRecord{}
	}

	result := models.ExtractionResult{
		SourceURL:      entry.URL,
		Title:          parsed.Title,
		Description:    parsed.Description,
		Links:          links,
		SkippedAnchors: len(skipped),
		ExtractedAt:    time.Now().UTC(),
	}

	if err := w.cache.Put(ctx, entry.URL, result, w.cacheTTL); err != nil {
		return models.ExtractionResult{}, fmt.Errorf("cache put: %w", err)
	}

	// Publishing is best effort: the result is already cached, so a broker
	// outage must not fail the job.
	if w.links != nil {
		if err := w.links.WriteLinks(ctx, result); err != nil {
			log.Printf("links publish error url=%s: %v", entry.URL, err)
		}
	}
	return result, nil
}

func (w *worker) publishStatus(ctx context.Context, event models.JobEvent) {
	if w.status == nil {
		return
	}
	if err := w.status.WriteStatus(ctx, event); err != nil {
		log.Printf("status publish error url=%s: %v", event.URL, err)
	}
}

// runSweeper periodically requeues orphaned processing entries and prunes
// expired cache entries.
func (w *worker) runSweeper(ctx context.Context, interval, staleAfter time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		moved, err := w.queue.RequeueStale(ctx, staleAfter)
		if err != nil {
			log.Printf("requeue stale error: %v", err)
		} else if moved > 0 {
			atomic.AddUint64(&workerStaleRequeued, uint64(moved))
			log.Printf("requeued %d stale jobs", moved)
		}

		swept, err := w.cache.ClearExpired(ctx)
		if err != nil {
			log.Printf("cache sweep error: %v", err)
		} else if swept > 0 {
			atomic.AddUint64(&workerCacheSweptTotal, uint64(swept))
			log.Printf("cleared %d expired cache entries", swept)
		}
	}
}

// fetchWithMetrics wraps page fetches to record latency and rate-limit hits (429).
func fetchWithMetrics(ctx context.Context, client *http.Client, url string) (page.Document, error) {
	start := time.Now()
	doc, err := page.FetchWithClient(ctx, client, url)
	observeFetchLatency(time.Since(start))
	if err != nil && strings.Contains(err.Error(), "unexpected status 429") {
		atomic.AddUint64(&workerRateLimitHitsTotal, 1)
	}
	return doc, err
}
