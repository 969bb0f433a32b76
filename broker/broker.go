package broker

import (
	"errors"
	"sync"
)

// ErrNoSubscribers is returned by Publish when there's no one to deliver to.
var ErrNoSubscribers = errors.New("no subscribers")

// Broker implements a simple fan-out message broker.
type Broker[T any] struct {
	mu          sync.Mutex
	subscribers map[string]chan T
	closed      bool
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subscribers: make(map[string]chan T),
	}
}

// Subscribe registers a new subscriber with the given name and channel buffer size.
// It returns a receive-only channel that will receive published messages. Subscribing with the
// name of an existing subscriber replaces it, closing its channel. After Close, the returned
// channel is already closed.
func (b *Broker[T]) Subscribe(name string, size int) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, size)

	if b.closed {
		close(ch)
		return ch
	}

	if old, ok := b.subscribers[name]; ok {
		close(old)
	}
	b.subscribers[name] = ch

	return ch
}

// Unsubscribe removes the subscriber, closing its channel.
func (b *Broker[T]) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[name]; ok {
		close(ch)
		delete(b.subscribers, name)
	}
}

// Publish sends a message to all registered subscribers asynchronously.
func (b *Broker[T]) Publish(t T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) == 0 {
		return ErrNoSubscribers
	}

	for _, ch := range b.subscribers {
		go func() {
			// A slow subscriber must not block the others, so a send may race with Close or
			// Unsubscribe closing the channel, which panics.
			defer func() { recover() }()
			ch <- t
		}()
	}

	return nil
}

// Close closes all subscriber channels, signaling that no more messages will be published.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		close(ch)
	}

	b.subscribers = make(map[string]chan T)
	b.closed = true
}
