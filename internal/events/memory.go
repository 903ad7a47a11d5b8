package events

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Publisher/Subscriber for tests and single-binary tooling.
type MemoryBus struct {
	mu       sync.Mutex
	handlers map[string][]func(Event)
	sent     []Published
}

type Published struct {
	Stream string
	Event  Event
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]func(Event))}
}

func (b *MemoryBus) Publish(ctx context.Context, stream string, event Event) error {
	b.mu.Lock()
	b.sent = append(b.sent, Published{Stream: stream, Event: event})
	handlers := append([]func(Event){}, b.handlers[stream]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, stream string, handler func(Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[stream] = append(b.handlers[stream], handler)
	return nil
}

// Sent returns everything published so far.
func (b *MemoryBus) Sent() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.sent...)
}
