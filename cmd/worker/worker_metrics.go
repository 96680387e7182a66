package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// Counters for worker crawl activity exposed on /metrics.
	// received: entries claimed from the queue; success/failed: pipeline outcome.
	workerJobsReceived uint64
	workerJobsSuccess  uint64
	workerJobsFailed   uint64

	// Links extracted and anchors skipped across all processed pages.
	workerLinksExtracted  uint64
	workerAnchorsSkipped  uint64
	workerInFlight        int64 // gauge: jobs currently being processed (semaphore slots in use)
	workerStaleRequeued   uint64
	workerCacheSweptTotal uint64

	// Histogram buckets for page fetch latency (seconds).
	// Buckets define upper bounds for histogram counts; the +Inf bucket is implicit.
	fetchLatencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	// Counts per bucket; last slot holds the +Inf bucket.
	fetchLatencyCounts = make([]uint64, len(fetchLatencyBuckets)+1)
	// Sum and count are used by Prometheus histogram quantiles.
	fetchLatencySumNs uint64
	fetchLatencyCount uint64

	// HTTP 429 hits; one increment per fetch that returned 429.
	workerRateLimitHitsTotal uint64

	// Jobs rejected by the robots.txt gate before any fetch.
	workerRobotsBlockedTotal uint64
)

func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", handleMetrics)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics shutdown error: %v", err)
		}
	}()

	go func() {
		log.Printf("metrics listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	body := fmt.Sprintf(
		"linkatlas_worker_up 1\n"+
			"linkatlas_worker_jobs_received_total %d\n"+
			"linkatlas_worker_jobs_success_total %d\n"+
			"linkatlas_worker_jobs_failed_total %d\n"+
			"linkatlas_worker_links_extracted_total %d\n"+
			"linkatlas_worker_anchors_skipped_total %d\n"+
			"linkatlas_worker_rate_limit_hits_total %d\n"+
			"linkatlas_worker_robots_blocked_total %d\n"+
			"linkatlas_worker_stale_requeued_total %d\n"+
			"linkatlas_worker_cache_swept_total %d\n"+
			"linkatlas_worker_in_flight %d\n",
		atomic.LoadUint64(&workerJobsReceived),
		atomic.LoadUint64(&workerJobsSuccess),
		atomic.LoadUint64(&workerJobsFailed),
		atomic.LoadUint64(&workerLinksExtracted),
		atomic.LoadUint64(&workerAnchorsSkipped),
		atomic.LoadUint64(&workerRateLimitHitsTotal),
		atomic.LoadUint64(&workerRobotsBlockedTotal),
		atomic.LoadUint64(&workerStaleRequeued),
		atomic.LoadUint64(&workerCacheSweptTotal),
		atomic.LoadInt64(&workerInFlight),
	)
	var histogram strings.Builder
	histogram.WriteString("# HELP linkatlas_worker_fetch_latency_seconds Page fetch latency.\n")
	histogram.WriteString("# TYPE linkatlas_worker_fetch_latency_seconds histogram\n")
	appendHistogram(&histogram, "linkatlas_worker_fetch_latency_seconds", fetchLatencyBuckets,
		fetchLatencyCounts, &fetchLatencySumNs, &fetchLatencyCount, "%.2f")

	_, _ = w.Write([]byte(body + histogram.String()))
}

// appendHistogram writes a Prometheus histogram (buckets, +Inf, sum, count) to sb.
// counts must have len(buckets)+1 elements; leFmt formats bucket bounds (e.g. "%.2f").
func appendHistogram(sb *strings.Builder, name string, buckets []float64, counts []uint64, sumNs, count *uint64, leFmt string) {
	var cumulative uint64
	for i, bound := range buckets {
		cumulative += atomic.LoadUint64(&counts[i])
		sb.WriteString(fmt.Sprintf("%s_bucket{le=\"%s\"} %d\n", name, fmt.Sprintf(leFmt, bound), cumulative))
	}
	cumulative += atomic.LoadUint64(&counts[len(buckets)])
	sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\"} %d\n", name, cumulative))
	sumSeconds := float64(atomic.LoadUint64(sumNs)) / float64(time.Second)
	sb.WriteString(fmt.Sprintf("%s_sum %.6f\n", name, sumSeconds))
	sb.WriteString(fmt.Sprintf("%s_count %d\n", name, atomic.LoadUint64(count)))
}

// observeFetchLatency updates a manual Prometheus histogram.
func observeFetchLatency(duration time.Duration) {
	if duration <= 0 {
		return
	}
	seconds := duration.Seconds()
	bucketIndex := len(fetchLatencyBuckets)
	for i, bound := range fetchLatencyBuckets {
		if seconds <= bound {
			bucketIndex = i
			break
		}
	}
	atomic.AddUint64(&fetchLatencyCounts[bucketIndex], 1)
	atomic.AddUint64(&fetchLatencySumNs, uint64(duration.Nanoseconds()))
	atomic.AddUint64(&fetchLatencyCount, 1)
}
