package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/segmentio/kafka-go"

	"linkatlas/common"
	"linkatlas/internal/events"
	"linkatlas/internal/graph"
	"linkatlas/internal/models"
)

type graphWriter struct {
	driver graph.DriverSessioner
}

var (
	// Counters for graph-writer throughput and failures exposed on /metrics.
	// links/status received: messages fetched from Kafka; failed: write errors on writing to Neo4j.
	graphWriterLinksReceived  uint64
	graphWriterLinksFailed    uint64
	graphWriterLinksWritten   uint64
	graphWriterStatusReceived uint64
	graphWriterStatusFailed   uint64
	graphWriterStatusWritten  uint64
)

type neo4jDriver struct {
	driver neo4j.DriverWithContext
}

func (d *neo4jDriver) NewSession(ctx context.Context, config neo4j.SessionConfig) graph.SessionRunner {
	return d.driver.NewSession(ctx, config)
}

func (d *neo4jDriver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

func main() {
	broker := common.GetEnv("KAFKA_BROKER", "localhost:9092")
	linksTopic := common.GetEnv("KAFKA_LINKS_TOPIC", "linkatlas.page.links")
	statusTopic := common.GetEnv("KAFKA_STATUS_TOPIC", "linkatlas.job.status")
	linksGroup := common.GetEnv("KAFKA_LINKS_GROUP", "linkatlas-graph-links")
	statusGroup := common.GetEnv("KAFKA_STATUS_GROUP", "linkatlas-graph-status")
	metricsAddr := common.GetEnv("METRICS_ADDR", ":9091")

	neo4jURI := common.GetEnv("NEO4J_URI", "neo4j://localhost:7687")
	neo4jUser := common.GetEnv("NEO4J_USER", "neo4j")
	neo4jPassword := common.GetEnv("NEO4J_PASSWORD", "neo4j")

	driver, err := neo4j.NewDriverWithContext(neo4jURI, neo4j.BasicAuth(neo4jUser, neo4jPassword, ""))
	if err != nil {
		log.Fatalf("neo4j driver error: %v", err)
	}
	defer func() {
		if err := driver.Close(context.Background()); err != nil {
			log.Printf("neo4j close error: %v", err)
		}
	}()

	writer := &graphWriter{driver: &neo4jDriver{driver: driver}}

	linksReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   linksTopic,
		GroupID: linksGroup,
	})
	defer func() {
		if err := linksReader.Close(); err != nil {
			log.Printf("links reader close error: %v", err)
		}
	}()

	statusReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   statusTopic,
		GroupID: statusGroup,
	})
	defer func() {
		if err := statusReader.Close(); err != nil {
			log.Printf("status reader close error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		startMetricsServer(ctx, metricsAddr)
	}

	go consumeLinks(ctx, linksReader, writer)
	go consumeStatus(ctx, statusReader, writer)

	<-ctx.Done()
}

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
		"linkatlas_graph_writer_up 1\n"+
			"linkatlas_graph_writer_links_received_total %d\n"+
			"linkatlas_graph_writer_links_failed_total %d\n"+
			"linkatlas_graph_writer_links_written_total %d\n"+
			"linkatlas_graph_writer_status_received_total %d\n"+
			"linkatlas_graph_writer_status_failed_total %d\n"+
			"linkatlas_graph_writer_status_written_total %d\n",
		atomic.LoadUint64(&graphWriterLinksReceived),
		atomic.LoadUint64(&graphWriterLinksFailed),
		atomic.LoadUint64(&graphWriterLinksWritten),
		atomic.LoadUint64(&graphWriterStatusReceived),
		atomic.LoadUint64(&graphWriterStatusFailed),
		atomic.LoadUint64(&graphWriterStatusWritten),
	)
	_, _ = w.Write([]byte(body))
}

func consumeLinks(ctx context.Context, reader events.MessageReader, writer *graphWriter) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("links fetch error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		atomic.AddUint64(&graphWriterLinksReceived, 1)
		if err := writer.writeResult(ctx, msg.Value); err != nil {
			atomic.AddUint64(&graphWriterLinksFailed, 1)
			log.Printf("links write error: %v", err)
			continue
		}
		atomic.AddUint64(&graphWriterLinksWritten, 1)

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Printf("links commit error: %v", err)
		}
	}
}

func consumeStatus(ctx context.Context, reader events.MessageReader, writer *graphWriter) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("status fetch error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		atomic.AddUint64(&graphWriterStatusReceived, 1)
		if err := writer.writeStatus(ctx, msg.Value); err != nil {
			atomic.AddUint64(&graphWriterStatusFailed, 1)
			log.Printf("status write error: %v", err)
			continue
		}
		atomic.AddUint64(&graphWriterStatusWritten, 1)

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Printf("status commit error: %v", err)
		}
	}
}

func (w *graphWriter) writeResult(ctx context.Context, payload []byte) error {
	var result models.ExtractionResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return err
	}
	if result.SourceURL == "" {
		return nil
	}

	query, params := buildPageQuery(result)
	if err := w.runWrite(ctx, query, params); err != nil {
		return err
	}

	for _, link := range result.Links {
		if link.TargetURL == "" {
			continue
		}
		query, params := buildLinkQuery(result.SourceURL, link)
		if err := w.runWrite(ctx, query, params); err != nil {
			return err
		}
	}
	return nil
}

func (w *graphWriter) writeStatus(ctx context.Context, payload []byte) error {
	var event models.JobEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	if event.URL == "" {
		return nil
	}

	query, params := buildStatusQuery(event)
	return w.runWrite(ctx, query, params)
}

func (w *graphWriter) runWrite(ctx context.Context, query string, params map[string]any) error {
	session := w.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() {
		if err := session.Close(ctx); err != nil {
			log.Printf("neo4j session close error: %v", err)
		}
	}()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	return err
}

func buildPageQuery(result models.ExtractionResult) (string, map[string]any) {
	query := "MERGE (p:Page {url: $url}) " +
		"SET p.title = coalesce($title, p.title), " +
		"p.description = coalesce($description, p.description), " +
		"p.extracted_at = $extracted_at"
	var title any
	if result.Title != "" {
		title = result.Title
	}
	var description any
	if result.Description != "" {
		description = result.Description
	}
	params := map[string]any{
		"url":          result.SourceURL,
		"title":        title,
		"description":  description,
		"extracted_at": result.ExtractedAt.UTC().Format(time.RFC3339),
	}
	return query, params
}

func buildLinkQuery(sourceURL string, link models.LinkRecord) (string, map[string]any) {
	query := "MERGE (from:Page {url: $fromURL}) " +
		"MERGE (to:Page {url: $toURL}) " +
		"MERGE (from)-[r:LINKS_TO {xpath: $xpath}]->(to) " +
		"SET r.anchor_text = $anchor_text, " +
		"r.position = $position, " +
		"r.rel = $rel, " +
		"r.nofollow = $nofollow"
	params := map[string]any{
		"fromURL":     sourceURL,
		"toURL":       link.TargetURL,
		"xpath":       link.XPath,
		"anchor_text": link.AnchorText,
		"position":    string(link.Position),
		"rel":         link.Rel,
		"nofollow":    link.NoFollow,
	}
	return query, params
}

func buildStatusQuery(event models.JobEvent) (string, map[string]any) {
	query := "MERGE (p:Page {url: $url}) " +
		"SET p.last_status = $status, " +
		"p.last_status_at = $at, " +
		"p.last_error = coalesce($error, p.last_error), " +
		"p.retry_count = $retry_count"
	var lastError any
	if event.Error != "" {
		lastError = event.Error
	}
	params := map[string]any{
		"url":         event.URL,
		"status":      event.Status,
		"at":          event.At.UTC().Format(time.RFC3339),
		"error":       lastError,
		"retry_count": event.RetryCount,
	}
	return query, params
}
