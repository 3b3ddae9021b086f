package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBus_SubscribePublishUnsubscribe(t *testing.T) {
	b := NewBus()
	var got []Type
	unsub := b.Subscribe(func(ev Event) { got = append(got, ev.Type) })

	b.Publish(Event{Type: QueueChanged})
	require.Equal(t, []Type{QueueChanged}, got)

	unsub()
	unsub()
	b.Publish(Event{Type: QueueDrained})
	require.Equal(t, []Type{QueueChanged}, got)
	require.Equal(t, 0, b.Len())
}

func TestBus_OrderAndTimestamp(t *testing.T) {
	b := NewBus()
	var order []int
	b.Subscribe(func(ev Event) {
		require.False(t, ev.At.IsZero())
		order = append(order, 1)
	})
	b.Subscribe(func(Event) { order = append(order, 2) })
	b.Publish(Event{Type: RoutesChanged})
	require.Equal(t, []int{1, 2}, order)
}

func TestBus_HandlerMayUnsubscribeItself(t *testing.T) {
	b := NewBus()
	calls := 0
	var unsub func()
	unsub = b.Subscribe(func(Event) {
		calls++
		unsub()
	})
	b.Publish(Event{Type: QueueChanged})
	b.Publish(Event{Type: QueueChanged})
	require.Equal(t, 1, calls)
}

func TestBus_NilPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(Event{Type: QueueChanged})
}
