// Package pubsub is a small in-process publish/subscribe broker.
package pubsub

import (
	"context"
	"sync"
)

// EventType names what happened.
type EventType string

// Event wraps a published payload.
type Event[T any] struct {
	Type    EventType
	Payload T
}

const subscriberBuffer = 64

// Broker fans published events out to every live subscriber. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type Broker[T any] struct {
	mu   sync.RWMutex
	subs map[chan Event[T]]struct{}
}

// NewBroker creates an empty broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[chan Event[T]]struct{})}
}

// Subscribe returns a channel that receives events until ctx is done, at
// which point the channel is closed.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	ch := make(chan Event[T], subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

// Publish sends an event to all subscribers.
func (b *Broker[T]) Publish(t EventType, payload T) {
	ev := Event[T]{Type: t, Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
