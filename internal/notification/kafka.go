package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"stock-sentinel/internal/model"
)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alerts to a topic, keyed by instrument code so
// alerts for one instrument stay ordered within a partition.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

// NewKafkaNotifier creates a synchronous producer for topic.
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaNotifier{writer: w, topic: topic}, nil
}

func (k *KafkaNotifier) Send(ctx context.Context, a model.Alert) error {
	msg := kafka.Message{
		Key:   []byte(a.Instrument.Code),
		Value: a.JSON(),
		Time:  a.Time,
		Headers: []kafka.Header{
			{Key: "alert_type", Value: []byte(a.Type)},
			{Key: "severity", Value: []byte(a.Severity)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return model.Upstream("kafka "+k.topic, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
