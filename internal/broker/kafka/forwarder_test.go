package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/LastMile/internal/broker/messages"
	"github.com/BearBump/LastMile/internal/events"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic      string
	key, value []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	got  []published
	done chan struct{}
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	p.got = append(p.got, published{topic: topic, key: key, value: value})
	p.mu.Unlock()
	p.done <- struct{}{}
	return nil
}

func TestForwarder_PublishesBusEvents(t *testing.T) {
	pub := &fakePublisher{done: make(chan struct{}, 4)}
	f := NewForwarder(pub, "", "van-12", 0)
	bus := events.NewBus()
	unsub := f.Attach(bus)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	at := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	bus.Publish(events.Event{Type: events.QueueDrained, At: at, Payload: map[string]any{"synced": 3}})

	select {
	case <-pub.done:
	case <-time.After(time.Second):
		t.Fatal("event was not forwarded")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.got, 1)
	require.Equal(t, DefaultEventsTopic, pub.got[0].topic)
	require.Equal(t, []byte("van-12"), pub.got[0].key)

	var msg messages.AgentEvent
	require.NoError(t, json.Unmarshal(pub.got[0].value, &msg))
	require.Equal(t, "van-12", msg.DeviceID)
	require.Equal(t, "queue-drained", msg.Type)
	require.True(t, at.Equal(msg.At))
	require.JSONEq(t, `{"synced":3}`, string(msg.Payload))
	require.EqualValues(t, 1, f.Sent())
}

func TestForwarder_DropsWhenBufferFull(t *testing.T) {
	f := NewForwarder(&fakePublisher{done: make(chan struct{}, 1)}, "t", "d", 1)
	bus := events.NewBus()
	f.Attach(bus)

	bus.Publish(events.Event{Type: events.QueueChanged})
	bus.Publish(events.Event{Type: events.QueueChanged})
	require.EqualValues(t, 1, f.Dropped())
}
