package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads forwarded agent events for `events tail`. With a group
// offsets are committed after each handled message; without one the topic is
// tailed from the newest offset and nothing is committed.
type Consumer struct {
	r       messageReader
	grouped bool
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return newConsumerWithReader(kafka.NewReader(readerConfig(brokers, topic, groupID)), groupID != "")
}

func readerConfig(brokers []string, topic, groupID string) kafka.ReaderConfig {
	cfg := kafka.ReaderConfig{
		Brokers: brokers,
		MaxWait: 500 * time.Millisecond,
	}
	if groupID == "" {
		cfg.Topic = topic
		cfg.StartOffset = kafka.LastOffset
		return cfg
	}
	cfg.GroupID = groupID
	cfg.GroupTopics = []string{topic}
	cfg.HeartbeatInterval = 3 * time.Second
	cfg.SessionTimeout = 30 * time.Second
	return cfg
}

func newConsumerWithReader(r messageReader, grouped bool) *Consumer {
	return &Consumer{r: r, grouped: grouped}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume blocks until ctx is done, fetching fails or handler returns an error.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		if err := c.next(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (c *Consumer) next(ctx context.Context, handler func(key, value []byte) error) error {
	msg, err := c.r.FetchMessage(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch agent event")
	}
	// необработанное сообщение не коммитим
	if err := handler(msg.Key, msg.Value); err != nil {
		return err
	}
	if !c.grouped {
		return nil
	}
	return errors.Wrapf(c.r.CommitMessages(ctx, msg), "commit offset %d", msg.Offset)
}
