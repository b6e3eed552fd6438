package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// KafkaPublisher publishes events to a Kafka topic, keyed by order id so
// every event of one order lands on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaProducer dials the brokers with acks from all in-sync replicas
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("events: kafka producer: %w", err)
	}
	return producer, nil
}

// NewKafkaPublisher wraps a producer
func NewKafkaPublisher(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "events"),
	}
}

// PublishOrderPaid sends an order.paid event
func (p *KafkaPublisher) PublishOrderPaid(_ context.Context, event OrderPaid) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.OrderID),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
			{Key: []byte("event_id"), Value: []byte(event.ID)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", event.Type, err)
	}

	p.logger.Debug("event published",
		"type", event.Type,
		"order_id", event.OrderID,
		"partition", partition,
		"offset", offset)
	return nil
}

// Close closes the producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger.With("component", "events")}
}

// PublishOrderPaid logs the event
func (p *LogPublisher) PublishOrderPaid(ctx context.Context, event OrderPaid) error {
	p.logger.InfoContext(ctx, "order paid event",
		"event_id", event.ID,
		"order_id", event.OrderID,
		"transaction_id", event.TransactionID,
		"source", event.Source)
	return nil
}

// Close is a no-op
func (p *LogPublisher) Close() error {
	return nil
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)
