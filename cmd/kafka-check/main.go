package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"linkatlas/common"
)

// kafka-check verifies the broker is reachable and that the status and links
// topics the worker publishes to exist. Exits non-zero when either is missing.
func main() {
	broker := common.GetEnv("KAFKA_BROKER", "localhost:9092")
	statusTopic := common.GetEnv("KAFKA_STATUS_TOPIC", "linkatlas.job.status")
	linksTopic := common.GetEnv("KAFKA_LINKS_TOPIC", "linkatlas.page.links")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to Kafka at %s: %v\n", broker, err)
		os.Exit(1)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read metadata: %v\n", err)
		os.Exit(1)
	}

	missing := missingTopics(partitions, []string{statusTopic, linksTopic})
	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "connected to Kafka at %s but missing topics: %s\n",
			broker, strings.Join(missing, ", "))
		os.Exit(1)
	}

	fmt.Printf("connected to Kafka at %s; topics %s and %s present\n", broker, statusTopic, linksTopic)
}

// missingTopics returns the topics with no partition in the broker metadata,
// in the order given.
func missingTopics(partitions []kafka.Partition, topics []string) []string {
	present := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		present[p.Topic] = true
	}
	var missing []string
	for _, topic := range topics {
		if !present[topic] {
			missing = append(missing, topic)
		}
	}
	return missing
}
