package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linkatlas/common"
	"linkatlas/internal/cache"
	"linkatlas/internal/queue"
)

const usage = `usage: linkatlas-cli <command> [flags]

commands:
  stats               print queue and cache stats
  add -url U [-p N]   enqueue a URL (priority 1-10, default 5)
  failed              list failed jobs
  retry -url U        move a failed URL back to pending
  clear               empty the queue (pending, processing, failed)
  sweep               delete expired cache entries
  monitor             print stats every 5 seconds until interrupted
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	redisAddr := common.GetEnv("REDIS_ADDR", "localhost:6379")
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

	ctx, cancel := commandContext(os.Args[1])
	defer cancel()

	code := runCommand(ctx, os.Stdout, q, resultCache, os.Args[1], os.Args[2:])
	os.Exit(code)
}

// commandContext picks the lifetime for a subcommand: monitor runs until
// interrupted, everything else gets a request timeout.
func commandContext(command string) (context.Context, context.CancelFunc) {
	if command == "monitor" {
		return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	}
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// runCommand executes one CLI subcommand against the queue and cache. Split
// from main so tests can drive it with fakes.
func runCommand(ctx context.Context, out io.Writer, q queue.Manager, c cache.ResultCache, command string, args []string) int {
	switch command {
	case "stats":
		return printStats(ctx, out, q, c)

	case "add":
		fs := flag.NewFlagSet("add", flag.ContinueOnError)
		rawURL := fs.String("url", "", "URL to enqueue")
		priority := fs.Int("p", queue.DefaultPriority, "priority 1-10")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		if *rawURL == "" {
			fmt.Fprintln(os.Stderr, "missing -url")
			return 2
		}
		admitted, err := q.Enqueue(ctx, *rawURL, *priority)
		if err != nil {
			fmt.Fprintln(os.Stderr, "enqueue:", err)
			return 1
		}
		if !admitted {
			fmt.Fprintln(out, "already queued")
			return 0
		}
		fmt.Fprintln(out, "queued")
		return 0

	case "failed":
		failed, err := q.Failed(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed:", err)
			return 1
		}
		for _, entry := range failed {
			line, err := json.Marshal(entry)
			if err != nil {
				fmt.Fprintln(os.Stderr, "encode:", err)
				return 1
			}
			fmt.Fprintln(out, string(line))
		}
		return 0

	case "retry":
		fs := flag.NewFlagSet("retry", flag.ContinueOnError)
		rawURL := fs.String("url", "", "failed URL to requeue")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		if *rawURL == "" {
			fmt.Fprintln(os.Stderr, "missing -url")
			return 2
		}
		moved, err := q.Retry(ctx, *rawURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "retry:", err)
			return 1
		}
		if !moved {
			fmt.Fprintln(out, "not in failed set")
			return 1
		}
		fmt.Fprintln(out, "requeued")
		return 0

	case "clear":
		if err := q.Clear(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "clear:", err)
			return 1
		}
		fmt.Fprintln(out, "cleared")
		return 0

	case "sweep":
		deleted, err := c.ClearExpired(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "sweep:", err)
			return 1
		}
		fmt.Fprintf(out, "deleted %d expired entries\n", deleted)
		return 0

	case "monitor":
		return monitor(ctx, out, q, c, 5*time.Second)

	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}

func printStats(ctx context.Context, out io.Writer, q queue.Manager, c cache.ResultCache) int {
	queueStats, err := q.Stats(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "queue stats:", err)
		return 1
	}
	cacheStats, err := c.Stats(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cache stats:", err)
		return 1
	}

	fmt.Fprintf(out, "queued=%d processing=%d failed=%d cached=%d expired=%d\n",
		queueStats.TotalQueued, queueStats.Processing, queueStats.Failed,
		cacheStats.TotalEntries, cacheStats.ExpiredEntries)
	for _, u := range queueStats.QueuedURLs {
		fmt.Fprintf(out, "  %s\n", u)
	}
	return 0
}

// monitor prints stats on an interval until the context is cancelled.
func monitor(ctx context.Context, out io.Writer, q queue.Manager, c cache.ResultCache, interval time.Duration) int {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if code := printStats(ctx, out, q, c); code != 0 {
		return code
	}
	for {
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
			if code := printStats(ctx, out, q, c); code != 0 {
				return code
			}
		}
	}
}
