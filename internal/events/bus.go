// Package events is the in-process subscription API. Stores publish after
// every mutation; views subscribe on mount and call the returned func on unmount.
package events

import (
	"slices"
	"sync"
	"time"
)

type Type string

const (
	QueueChanged    Type = "queue-changed"
	QueueDrained    Type = "queue-drained"
	RoutesChanged   Type = "routes-changed"
	SessionChanged  Type = "session-changed"
	GeocodeProgress Type = "geocode-progress"
)

type Event struct {
	Type    Type           `json:"type"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

type Handler func(Event)

type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
}

func NewBus() *Bus {
	return &Bus{subs: map[int]Handler{}}
}

// Subscribe registers h and returns the unsubscribe handle. Calling the handle
// more than once is harmless.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev synchronously to every subscriber in subscription order.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	handlers := make(map[int]Handler, len(b.subs))
	for id, h := range b.subs {
		ids = append(ids, id)
		handlers[id] = h
	}
	b.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		handlers[id](ev)
	}
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
