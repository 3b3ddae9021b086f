package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/BearBump/LastMile/internal/broker/messages"
	"github.com/BearBump/LastMile/internal/events"
	"github.com/pkg/errors"
)

const DefaultEventsTopic = "agent.events"

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Forwarder copies bus events to kafka. Bus handlers run synchronously inside
// store mutations, so events are buffered and published from Run; when the
// buffer is full the event is dropped.
type Forwarder struct {
	pub      Publisher
	topic    string
	deviceID string

	ch      chan events.Event
	dropped atomic.Int64
	sent    atomic.Int64
}

func NewForwarder(pub Publisher, topic, deviceID string, buffer int) *Forwarder {
	if topic == "" {
		topic = DefaultEventsTopic
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Forwarder{pub: pub, topic: topic, deviceID: deviceID, ch: make(chan events.Event, buffer)}
}

// Attach subscribes to bus and returns the unsubscribe handle.
func (f *Forwarder) Attach(bus *events.Bus) func() {
	return bus.Subscribe(f.enqueue)
}

func (f *Forwarder) enqueue(ev events.Event) {
	select {
	case f.ch <- ev:
	default:
		f.dropped.Add(1)
		slog.Warn("event forwarder: buffer full, dropping", "type", string(ev.Type))
	}
}

func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-f.ch:
			if err := f.forward(ctx, ev); err != nil {
				slog.Error("event forwarder", "type", string(ev.Type), "error", err.Error())
			}
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}
	msg := messages.AgentEvent{
		DeviceID: f.deviceID,
		Type:     string(ev.Type),
		At:       ev.At,
		Payload:  payload,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	if err := f.pub.Publish(ctx, f.topic, []byte(f.deviceID), b); err != nil {
		return err
	}
	f.sent.Add(1)
	return nil
}

func (f *Forwarder) Sent() int64    { return f.sent.Load() }
func (f *Forwarder) Dropped() int64 { return f.dropped.Load() }
