// Package eventbus fans query events out to slow consumers (transcript
// sinks) without making the request wait for them.
//
// Each subscriber gets its own buffered channel. Publish never blocks: when a
// subscriber's buffer is full the event is dropped and counted.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// Event is a single published message.
type Event struct {
	Topic   string
	Payload any
}

// EventBus is the publishing side seen by the query pipeline and the
// subscribing side seen by recorders.
type EventBus interface {
	Publish(topic string, payload any)
	Subscribe(topic string) <-chan Event
}

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 100

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber queue length. Non-positive values
// keep DefaultBufferSize.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// Bus is the in-process EventBus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
	bufferSize  int
	closed      bool
	dropped     atomic.Uint64
}

func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[string][]chan Event),
		bufferSize:  DefaultBufferSize,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe returns a channel receiving every later event on topic. On a
// closed bus the channel comes back already closed.
func (b *Bus) Subscribe(topic string) <-chan Event {
	ch := make(chan Event, b.bufferSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

func (b *Bus) Publish(topic string, payload any) {
	evt := Event{Topic: topic, Payload: payload}
	// Read lock spans the fan-out so Close cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts events lost to full buffers or a closed bus.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel; buffered events stay readable.
// Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, topic)
	}
}
