package fanout

import (
	"context"
	"errors"
	"sync"
)

var ErrBusClosed = errors.New("fanout bus closed")

// MemoryBus is an in-process Bus. Several adapters sharing one MemoryBus
// behave like several processes sharing a broker.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[int]func(Envelope)
	nextID   int
	closed   bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[int]func(Envelope))}
}

func (b *MemoryBus) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, handle := range b.handlers {
		handle(env)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, handle func(Envelope)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = handle
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[int]func(Envelope))
	return nil
}
