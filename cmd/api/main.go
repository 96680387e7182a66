package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"linkatlas/common"
	"linkatlas/internal/cache"
	"linkatlas/internal/events"
	"linkatlas/internal/models"
	"linkatlas/internal/queue"
	"linkatlas/internal/urlutil"
)

type server struct {
	queue  queue.Manager
	cache  cache.ResultCache
	status events.StatusWriter
}

func newServer(q queue.Manager, c cache.ResultCache, status events.StatusWriter) *server {
	return &server{
		queue:  q,
		cache:  c,
		status: status,
	}
}

// statsResponse combines queue and cache occupancy for GET /stats.
type statsResponse struct {
	Queue models.QueueStats `json:"queue"`
	Cache models.CacheStats `json:"cache"`
}

// resultResponse wraps a cached extraction result with its staleness flag.
type resultResponse struct {
	URL        string                  `json:"url"`
	Stale      bool                    `json:"stale"`
	ComputedAt time.Time               `json:"computed_at"`
	ExpiresAt  time.Time               `json:"expires_at"`
	Result     models.ExtractionResult `json:"result"`
}

func main() {
	redisAddr := common.GetEnv("REDIS_ADDR", "localhost:6379")
	broker := common.GetEnv("KAFKA_BROKER", "localhost:9092")
	statusTopic := common.GetEnv("KAFKA_STATUS_TOPIC", "linkatlas.job.status")

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

	srv := newServer(q, resultCache, statusProd)

	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", srv.handleJobs)
	mux.HandleFunc("/stats", srv.handleStats)
	mux.HandleFunc("/failed", srv.handleFailed)
	mux.HandleFunc("/retry", srv.handleRetry)
	mux.HandleFunc("/result", srv.handleResult)
	mux.HandleFunc("/metrics", srv.handleMetrics)
	mux.HandleFunc("/healthz", srv.handleHealthz)

	addr := common.GetEnv("API_ADDR", ":8080")
	log.Printf("api listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

// handleJobs accepts POST requests to enqueue a crawl job.
//
// Method: POST
// Path:   /jobs?url=...&priority=7
// Example:
//
//	curl -X POST "http://localhost:8080/jobs?url=https://example.com/&priority=7"
func (s *server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	// Normalized here so the queued event and the response carry the same URL
	// key the worker publishes under.
	url, err := urlutil.Normalize(rawURL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	priority := queue.DefaultPriority
	if p := strings.TrimSpace(r.URL.Query().Get("priority")); p != "" {
		priority = common.ParseInt(p, -1)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	admitted, err := s.queue.Enqueue(ctx, url, priority)
	if err != nil {
		if errors.Is(err, queue.ErrStoreUnavailable) {
			http.Error(w, "queue store unavailable", http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !admitted {
		http.Error(w, "url already queued", http.StatusConflict)
		return
	}

	// Status events are advisory; an unreachable broker does not fail the enqueue.
	event := models.JobEvent{URL: url, Status: models.JobQueued, At: time.Now().UTC()}
	if err := s.status.WriteStatus(ctx, event); err != nil {
		log.Printf("status publish error: %v", err)
	}

	writeJSON(w, event, http.StatusAccepted)
}

// handleStats returns queue and cache occupancy.
//
// Method: GET
// Path:   /stats
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	queueStats, err := s.queue.Stats(r.Context())
	if err != nil {
		http.Error(w, "failed to load queue stats", http.StatusBadGateway)
		return
	}
	cacheStats, err := s.cache.Stats(r.Context())
	if err != nil {
		http.Error(w, "failed to load cache stats", http.StatusBadGateway)
		return
	}

	writeJSON(w, statsResponse{Queue: queueStats, Cache: cacheStats}, http.StatusOK)
}

// handleFailed lists the failed set for operator inspection.
//
// Method: GET
// Path:   /failed
func (s *server) handleFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	failed, err := s.queue.Failed(r.Context())
	if err != nil {
		http.Error(w, "failed to load failed jobs", http.StatusBadGateway)
		return
	}
	if failed == nil {
		failed = []models.FailedEntry{}
	}

	writeJSON(w, failed, http.StatusOK)
}

// handleRetry moves a failed URL back to the pending queue.
//
// Method: POST
// Path:   /retry?url=...
func (s *server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}

	moved, err := s.queue.Retry(r.Context(), rawURL)
	if err != nil {
		if errors.Is(err, queue.ErrStoreUnavailable) {
			http.Error(w, "queue store unavailable", http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !moved {
		http.Error(w, "url not in failed set", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]string{"url": rawURL, "status": "requeued"}, http.StatusOK)
}

// handleResult returns the cached extraction result for a URL. Expired
// entries are returned with stale=true; consumers decide whether to use them.
//
// Method: GET
// Path:   /result?url=...
func (s *server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}

	entry, ok, err := s.cache.Get(r.Context(), rawURL)
	if err != nil {
		http.Error(w, "failed to load result", http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	writeJSON(w, resultResponse{
		URL:        entry.URL,
		Stale:      entry.Expired(time.Now().UTC()),
		ComputedAt: entry.ComputedAt,
		ExpiresAt:  entry.ExpiresAt,
		Result:     entry.Payload,
	}, http.StatusOK)
}

// handleMetrics exposes a minimal Prometheus-compatible endpoint.
//
// Method: GET
// Path:   /metrics
func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("linkatlas_api_up 1\n"))
}

// handleHealthz reports process liveness.
func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
