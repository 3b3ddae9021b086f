package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

var jsonHeader = kafka.Header{Key: "content-type", Value: []byte("application/json")}

// Producer writes agent events. Messages are keyed by device id, so the hash
// balancer keeps one device's events in order on a single partition.
type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string) *Producer {
	return newProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	})
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w}
}

// Publish sends one JSON value to topic.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	msg := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: []kafka.Header{jsonHeader},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "kafka publish to %s", topic)
	}
	return nil
}

func (p *Producer) Close() error {
	c, ok := p.w.(interface{ Close() error })
	if !ok {
		return nil
	}
	return errors.Wrap(c.Close(), "close kafka writer")
}
