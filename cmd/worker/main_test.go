package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"linkatlas/internal/models"
	"linkatlas/internal/page"
	"linkatlas/mocks"
)

const testPage = `<html><head>
	<title>Test Page</title>
	<meta name="description" content="A test page">
</head><body>
	<nav><a href="/about" rel="nofollow">About</a></nav>
	<main><a href="https://other.com/x">Other</a></main>
</body></html>`

func newTestWorker(t *testing.T) (*worker, *mocks.MockManager, *mocks.MockResultCache, *mocks.MockStatusWriter) {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	q := mocks.NewMockManager(ctrl)
	c := mocks.NewMockResultCache(ctrl)
	status := mocks.NewMockStatusWriter(ctrl)

	var wg sync.WaitGroup
	w := newWorker(q, c, status, nil, http.DefaultClient, nil, time.Hour, 10*time.Millisecond, time.Minute, 2, &wg)
	return w, q, c, status
}

type fakeLinksPublisher struct {
	mu      sync.Mutex
	results []models.ExtractionResult
	err     error
}

func (f *fakeLinksPublisher) WriteLinks(_ context.Context, result models.ExtractionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return f.err
}

func TestProcessJobExtractsAndCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testPage))
	}))
	defer srv.Close()

	w, _, c, _ := newTestWorker(t)
	links := &fakeLinksPublisher{}
	w.links = links

	var cached models.ExtractionResult
	c.EXPECT().Put(gomock.Any(), srv.URL+"/", gomock.Any(), time.Hour).DoAndReturn(
		func(_ context.Context, _ string, payload models.ExtractionResult, _ time.Duration) error {
			cached = payload
			return nil
		},
	)

	result, err := w.processJob(context.Background(), models.QueueEntry{URL: srv.URL + "/", Priority: 5})
	if err != nil {
		t.Fatalf("process job: %v", err)
	}

	if result.Title != "Test Page" || result.Description != "A test page" {
		t.Fatalf("unexpected metadata: %+v", result)
	}
	if len(result.Links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(result.Links))
	}
	if result.Links[0].Position != models.PositionNavigation || !result.Links[0].NoFollow {
		t.Fatalf("unexpected first link: %+v", result.Links[0])
	}
	if result.Links[1].TargetURL != "https://other.com/x" {
		t.Fatalf("unexpected second link: %+v", result.Links[1])
	}
	if cached.SourceURL != result.SourceURL || len(cached.Links) != 2 {
		t.Fatalf("unexpected cached payload: %+v", cached)
	}
	if len(links.results) != 1 {
		t.Fatalf("expected 1 published result, got %d", len(links.results))
	}
}

func TestProcessJobFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w, _, _, _ := newTestWorker(t)

	_, err := w.processJob(context.Background(), models.QueueEntry{URL: srv.URL + "/", Priority: 5})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "fetch") {
		t.Fatalf("expected fetch error, got: %v", err)
	}
}

func TestProcessJobPublishFailureDoesNotFailJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testPage))
	}))
	defer srv.Close()

	w, _, c, _ := newTestWorker(t)
	w.links = &fakeLinksPublisher{err: errors.New("broker down")}

	c.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	if _, err := w.processJob(context.Background(), models.QueueEntry{URL: srv.URL + "/", Priority: 5}); err != nil {
		t.Fatalf("expected success despite publish failure, got: %v", err)
	}
}

func TestProcessJobCachePutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testPage))
	}))
	defer srv.Close()

	w, _, c, _ := newTestWorker(t)

	c.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("redis down"))

	_, err := w.processJob(context.Background(), models.QueueEntry{URL: srv.URL + "/", Priority: 5})
	if err == nil || !strings.Contains(err.Error(), "cache put") {
		t.Fatalf("expected cache put error, got: %v", err)
	}
}

func TestProcessJobAsyncMarksDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testPage))
	}))
	defer srv.Close()

	w, q, c, status := newTestWorker(t)
	w.links = &fakeLinksPublisher{}

	c.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	q.EXPECT().MarkDone(gomock.Any(), srv.URL+"/").Return(nil)

	var statuses []string
	status.EXPECT().WriteStatus(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, event models.JobEvent) error {
			statuses = append(statuses, event.Status)
			return nil
		},
	).Times(2)

	w.sem <- struct{}{}
	w.wg.Add(1)
	w.processJobAsync(context.Background(), models.QueueEntry{URL: srv.URL + "/", Priority: 5})
	w.wg.Wait()

	if len(statuses) != 2 || statuses[0] != models.JobProcessing || statuses[1] != models.JobDone {
		t.Fatalf("unexpected status sequence: %v", statuses)
	}
}

func TestProcessJobAsyncMarksFailedWithReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	w, q, _, status := newTestWorker(t)

	var reason string
	q.EXPECT().MarkFailed(gomock.Any(), srv.URL+"/", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, r string) error {
			reason = r
			return nil
		},
	)

	var failedEvent models.JobEvent
	status.EXPECT().WriteStatus(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, event models.JobEvent) error {
			if event.Status == models.JobFailed {
				failedEvent = event
			}
			return nil
		},
	).Times(2)

	w.sem <- struct{}{}
	w.wg.Add(1)
	w.processJobAsync(context.Background(), models.QueueEntry{URL: srv.URL + "/", Priority: 5, RetryCount: 1})
	w.wg.Wait()

	if !strings.Contains(reason, "unexpected status 404") {
		t.Fatalf("expected recorded reason to carry fetch error, got %q", reason)
	}
	if failedEvent.Error == "" || failedEvent.RetryCount != 2 {
		t.Fatalf("unexpected failed event: %+v", failedEvent)
	}
}

func TestProcessJobRobotsDisallowed(t *testing.T) {
	var pageFetches int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		atomic.AddInt64(&pageFetches, 1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testPage))
	}))
	defer srv.Close()

	w, _, _, _ := newTestWorker(t)
	w.client = srv.Client()
	w.robots = page.NewRobotsCache(srv.Client())

	_, err := w.processJob(context.Background(), models.QueueEntry{URL: srv.URL + "/private/report", Priority: 5})
	if err == nil || !strings.Contains(err.Error(), "robots.txt disallows") {
		t.Fatalf("expected robots.txt error, got: %v", err)
	}
	if n := atomic.LoadInt64(&pageFetches); n != 0 {
		t.Fatalf("expected no page fetch for a disallowed path, got %d", n)
	}
}

func TestProcessJobRobotsAllowedPathProceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testPage))
	}))
	defer srv.Close()

	w, _, c, _ := newTestWorker(t)
	w.client = srv.Client()
	w.robots = page.NewRobotsCache(srv.Client())

	c.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	if _, err := w.processJob(context.Background(), models.QueueEntry{URL: srv.URL + "/public", Priority: 5}); err != nil {
		t.Fatalf("expected allowed path to process, got: %v", err)
	}
}

func TestRunSweeper(t *testing.T) {
	w, q, c, _ := newTestWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.EXPECT().RequeueStale(gomock.Any(), 10*time.Minute).DoAndReturn(
		func(context.Context, time.Duration) (int, error) {
			return 2, nil
		},
	).MinTimes(1)
	c.EXPECT().ClearExpired(gomock.Any()).DoAndReturn(
		func(context.Context) (int, error) {
			cancel()
			return 1, nil
		},
	).MinTimes(1)

	done := make(chan struct{})
	go func() {
		w.runSweeper(ctx, 5*time.Millisecond, 10*time.Minute)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRunDispatchesClaimedEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testPage))
	}))
	defer srv.Close()

	w, q, c, status := newTestWorker(t)
	w.links = &fakeLinksPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entry := models.QueueEntry{URL: srv.URL + "/", Priority: 5}
	first := q.EXPECT().Dequeue(gomock.Any()).Return(entry, true, nil)
	q.EXPECT().Dequeue(gomock.Any()).Return(models.QueueEntry{}, false, nil).After(first).AnyTimes()

	c.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	status.EXPECT().WriteStatus(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	q.EXPECT().MarkDone(gomock.Any(), entry.URL).DoAndReturn(
		func(context.Context, string) error {
			cancel()
			return nil
		},
	)

	done := make(chan struct{})
	go func() {
		w.run(ctx)
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestHandleMetricsReportsCounters(t *testing.T) {
	atomic.StoreUint64(&workerJobsReceived, 4)
	atomic.StoreUint64(&workerJobsSuccess, 3)
	atomic.StoreUint64(&workerJobsFailed, 1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	handleMetrics(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	body := rec.Body.String()
	for _, line := range []string{
		"linkatlas_worker_up 1",
		"linkatlas_worker_jobs_received_total 4",
		"linkatlas_worker_jobs_success_total 3",
		"linkatlas_worker_jobs_failed_total 1",
		"linkatlas_worker_fetch_latency_seconds_bucket",
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected metrics to contain %q", line)
		}
	}
}

func TestSelectProxyFromPool(t *testing.T) {
	if got := selectProxyFromPool("", "pod-1"); got != "" {
		t.Fatalf("expected empty proxy for empty pool, got %q", got)
	}
	pool := "http://p1:3128, http://p2:3128"
	first := selectProxyFromPool(pool, "pod-1")
	if first != "http://p1:3128" && first != "http://p2:3128" {
		t.Fatalf("unexpected proxy: %q", first)
	}
	if again := selectProxyFromPool(pool, "pod-1"); again != first {
		t.Fatalf("expected deterministic selection, got %q then %q", first, again)
	}
}
