package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// kafkaMessageWriter is the subset of *kafka.Writer the sink uses
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes one JSON message per record, keyed "{partition}:{key}" so
// updates of a listing land on the same topic partition
type Kafka struct {
	writer kafkaMessageWriter
}

// NewKafka creates a Kafka sink. brokers is a list of host:port entries; each
// entry may itself be comma separated.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	var addrs []string
	for _, b := range brokers {
		for _, a := range strings.Split(b, ",") {
			if a = strings.TrimSpace(a); a != "" {
				addrs = append(addrs, a)
			}
		}
	}
	if len(addrs) == 0 || topic == "" {
		return nil, fmt.Errorf("%w: kafka brokers and topic are required", domain.ErrInvalidRequest)
	}
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}, nil
}

// NewKafkaWith wraps an existing writer
func NewKafkaWith(w kafkaMessageWriter) *Kafka {
	return &Kafka{writer: w}
}

// Name returns "kafka"
func (s *Kafka) Name() string { return "kafka" }

// Write publishes the result's records in one call
func (s *Kafka) Write(ctx context.Context, result domain.PartitionResult) error {
	if len(result.Records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(result.Records))
	for _, r := range result.Records {
		body, err := encodeRecord(result.Partition, r)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.Key, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(result.Partition + ":" + r.Key),
			Value: body,
			Time:  r.ScrapedAt,
			Headers: []kafka.Header{
				{Key: "partition", Value: []byte(result.Partition)},
			},
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (s *Kafka) Close() error {
	return s.writer.Close()
}
