package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"linkatlas/internal/models"
)

// StatusWriter publishes job lifecycle events.
type StatusWriter interface {
	WriteStatus(ctx context.Context, event models.JobEvent) error
}

// StatusProducer wraps a Kafka writer for publishing job status events.
// Messages are keyed by URL so all events for one page land on one partition.
type StatusProducer struct {
	writer MessageWriter
}

// NewStatusProducer creates a status producer for the given broker and topic.
func NewStatusProducer(broker, topic string) *StatusProducer {
	return &StatusProducer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: false,
		},
	}
}

// NewStatusProducerWithWriter builds a status producer using a custom writer (tests).
func NewStatusProducerWithWriter(writer MessageWriter) *StatusProducer {
	return &StatusProducer{writer: writer}
}

// Close shuts down the underlying writer.
func (p *StatusProducer) Close() error {
	return p.writer.Close()
}

// WriteStatus publishes a JobEvent to Kafka.
func (p *StatusProducer) WriteStatus(ctx context.Context, event models.JobEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.URL),
		Value: payload,
		Time:  time.Now().UTC(),
	}

	return p.writer.WriteMessages(ctx, msg)
}

// LinkProducer publishes extraction results for downstream graph writers.
type LinkProducer struct {
	writer MessageWriter
}

// NewLinkProducer creates a link producer for the given broker and topic.
func NewLinkProducer(broker, topic string) *LinkProducer {
	return &LinkProducer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: false,
		},
	}
}

// NewLinkProducerWithWriter builds a link producer using a custom writer (tests).
func NewLinkProducerWithWriter(writer MessageWriter) *LinkProducer {
	return &LinkProducer{writer: writer}
}

// Close shuts down the underlying writer.
func (p *LinkProducer) Close() error {
	return p.writer.Close()
}

// WriteLinks publishes a page's extraction result to Kafka.
func (p *LinkProducer) WriteLinks(ctx context.Context, result models.ExtractionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(result.SourceURL),
		Value: payload,
		Time:  time.Now().UTC(),
	}

	return p.writer.WriteMessages(ctx, msg)
}
