package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"linkatlas/internal/models"
	"linkatlas/mocks"
)

func newCLIMocks(t *testing.T) (*mocks.MockManager, *mocks.MockResultCache) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	return mocks.NewMockManager(ctrl), mocks.NewMockResultCache(ctrl)
}

func TestRunCommandStats(t *testing.T) {
	q, c := newCLIMocks(t)

	q.EXPECT().Stats(gomock.Any()).Return(models.QueueStats{
		TotalQueued: 2,
		Processing:  1,
		Failed:      3,
		QueuedURLs:  []string{"https://example.com/a", "https://example.com/b"},
	}, nil)
	c.EXPECT().Stats(gomock.Any()).Return(models.CacheStats{TotalEntries: 4, ExpiredEntries: 1}, nil)

	var out bytes.Buffer
	if code := runCommand(context.Background(), &out, q, c, "stats", nil); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}

	got := out.String()
	if !strings.Contains(got, "queued=2 processing=1 failed=3 cached=4 expired=1") {
		t.Fatalf("unexpected stats output: %q", got)
	}
	if !strings.Contains(got, "https://example.com/a") {
		t.Fatalf("expected queued urls in output: %q", got)
	}
}

func TestRunCommandAdd(t *testing.T) {
	q, c := newCLIMocks(t)

	q.EXPECT().Enqueue(gomock.Any(), "https://example.com/", 8).Return(true, nil)

	var out bytes.Buffer
	code := runCommand(context.Background(), &out, q, c, "add", []string{"-url", "https://example.com/", "-p", "8"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(out.String(), "queued") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestRunCommandAddDuplicate(t *testing.T) {
	q, c := newCLIMocks(t)

	q.EXPECT().Enqueue(gomock.Any(), "https://example.com/", 5).Return(false, nil)

	var out bytes.Buffer
	code := runCommand(context.Background(), &out, q, c, "add", []string{"-url", "https://example.com/"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(out.String(), "already queued") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestRunCommandFailed(t *testing.T) {
	q, c := newCLIMocks(t)

	q.EXPECT().Failed(gomock.Any()).Return([]models.FailedEntry{
		{URL: "https://example.com/broken", Priority: 5, LastError: "status 500", RetryCount: 1},
	}, nil)

	var out bytes.Buffer
	if code := runCommand(context.Background(), &out, q, c, "failed", nil); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(out.String(), `"https://example.com/broken"`) {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestRunCommandRetryNotFound(t *testing.T) {
	q, c := newCLIMocks(t)

	q.EXPECT().Retry(gomock.Any(), "https://example.com/unknown").Return(false, nil)

	var out bytes.Buffer
	code := runCommand(context.Background(), &out, q, c, "retry", []string{"-url", "https://example.com/unknown"})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out.String(), "not in failed set") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestRunCommandClear(t *testing.T) {
	q, c := newCLIMocks(t)

	q.EXPECT().Clear(gomock.Any()).Return(nil)

	var out bytes.Buffer
	if code := runCommand(context.Background(), &out, q, c, "clear", nil); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
}

func TestRunCommandSweep(t *testing.T) {
	q, c := newCLIMocks(t)

	c.EXPECT().ClearExpired(gomock.Any()).Return(3, nil)

	var out bytes.Buffer
	if code := runCommand(context.Background(), &out, q, c, "sweep", nil); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(out.String(), "deleted 3 expired entries") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestRunCommandUnknown(t *testing.T) {
	q, c := newCLIMocks(t)

	var out bytes.Buffer
	if code := runCommand(context.Background(), &out, q, c, "bogus", nil); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestMonitorStopsOnCancel(t *testing.T) {
	q, c := newCLIMocks(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.EXPECT().Stats(gomock.Any()).Return(models.QueueStats{}, nil).MinTimes(2)
	c.EXPECT().Stats(gomock.Any()).DoAndReturn(
		func(context.Context) (models.CacheStats, error) {
			return models.CacheStats{}, nil
		},
	).MinTimes(2)

	var out bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- monitor(ctx, &out, q, c, 5*time.Millisecond)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("expected exit 0, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestCommandContextMonitorHasNoDeadline(t *testing.T) {
	ctx, cancel := commandContext("monitor")
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("monitor must run until interrupted, not until a deadline")
	}

	ctx, cancel = commandContext("stats")
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("expected a request deadline for one-shot commands")
	}
}
