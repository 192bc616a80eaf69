package bus

import (
	"context"
	"sync"
)

// memoryQueueSize is the per-subscription buffer.
const memoryQueueSize = 100

// MemoryBus is an in-process Bus. Each subscription has its own queue and
// dispatch goroutine, so a slow handler never blocks other subscribers.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
}

type memorySub struct {
	bus     *MemoryBus
	channel string
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
}

// NewMemoryBus creates a new in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySub)}
}

// Publish copies payload into the queue of every current subscriber.
// It blocks while a subscriber's queue is full, until ctx is done.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*memorySub(nil), b.subs[channel]...)
	b.mu.RUnlock()

	for _, s := range subs {
		msg := append([]byte(nil), payload...)
		select {
		case s.queue <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers h for channel.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s := &memorySub{
		bus:     b,
		channel: channel,
		queue:   make(chan []byte, memoryQueueSize),
		done:    make(chan struct{}),
	}
	b.subs[channel] = append(b.subs[channel], s)

	go s.dispatch(ctx, h)
	return s, nil
}

func (s *memorySub) dispatch(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			_ = s.Unsubscribe()
			return
		case <-s.done:
			return
		case msg := <-s.queue:
			h(ctx, msg)
		}
	}
}

// Unsubscribe removes the subscription; queued messages are dropped.
func (s *memorySub) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[s.channel]
		for i, other := range list {
			if other == s {
				b.subs[s.channel] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	})
	return nil
}

// Subscribers returns the number of subscriptions on channel.
func (b *MemoryBus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Close ends every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySub
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.mu.Unlock()

	for _, s := range all {
		_ = s.Unsubscribe()
	}
	return nil
}
