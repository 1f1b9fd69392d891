package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer used by Kafka.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events to a topic, keyed by order so that events of one
// order stay in partition order.
type Kafka struct {
	w Writer
}

// NewKafkaWriter returns a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafka creates a Kafka publisher on w.
func NewKafka(w Writer) *Kafka {
	return &Kafka{w: w}
}

// Publish implements Publisher.
func (k *Kafka) Publish(ctx context.Context, e Event) error {
	msg := kafka.Message{
		Key:   []byte(e.OrderID),
		Value: e.Encode(),
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s", e.Type)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}
