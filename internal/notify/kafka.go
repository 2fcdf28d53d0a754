package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes notifications to a Kafka topic, keyed by
// recipient so one user's notifications stay ordered.
type KafkaDispatcher struct {
	writer messageWriter
}

// NewKafkaDispatcher creates a dispatcher writing to topic on brokers.
func NewKafkaDispatcher(brokers []string, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}}
}

// Send publishes p.
func (k *KafkaDispatcher) Send(ctx context.Context, p Payload) error {
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(p.RecipientID),
		Value: value,
		Time:  p.CreatedAt,
		Headers: []kafka.Header{
			{Key: "notification-type", Value: []byte(p.Type)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing notification to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (k *KafkaDispatcher) Close() error {
	return k.writer.Close()
}
