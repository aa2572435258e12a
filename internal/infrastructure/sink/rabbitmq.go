package sink

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// amqpChannel is the subset of *amqp.Channel the sink uses
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQConfig configures the RabbitMQ sink
type RabbitMQConfig struct {
	URL      string
	Exchange string
	// RoutingKey prefixes the partition name: "{RoutingKey}.{partition}"
	RoutingKey string
}

// RabbitMQ publishes one persistent JSON message per record to a topic exchange
type RabbitMQ struct {
	cfg     RabbitMQConfig
	conn    *amqp.Connection
	channel amqpChannel
}

// DialRabbitMQ connects, opens a channel and declares the exchange
func DialRabbitMQ(cfg RabbitMQConfig) (*RabbitMQ, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: rabbitmq url is required", domain.ErrInvalidRequest)
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
		}
	}
	return &RabbitMQ{cfg: cfg, conn: conn, channel: ch}, nil
}

// NewRabbitMQWith wraps an open channel
func NewRabbitMQWith(cfg RabbitMQConfig, ch amqpChannel) *RabbitMQ {
	return &RabbitMQ{cfg: cfg, channel: ch}
}

// Name returns "rabbitmq"
func (s *RabbitMQ) Name() string { return "rabbitmq" }

// Write publishes every record of the result
func (s *RabbitMQ) Write(ctx context.Context, result domain.PartitionResult) error {
	key := result.Partition
	if s.cfg.RoutingKey != "" {
		key = s.cfg.RoutingKey + "." + result.Partition
	}
	for _, r := range result.Records {
		body, err := encodeRecord(result.Partition, r)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.Key, err)
		}
		msg := amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    result.Partition + ":" + r.Key,
			Timestamp:    r.ScrapedAt,
			Body:         body,
		}
		if err := s.channel.PublishWithContext(ctx, s.cfg.Exchange, key, false, false, msg); err != nil {
			return fmt.Errorf("publish %s: %w", r.Key, err)
		}
	}
	return nil
}

// Close closes the channel and the connection
func (s *RabbitMQ) Close() error {
	var firstErr error
	if s.channel != nil {
		firstErr = s.channel.Close()
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
