package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over Redis PUBLISH/SUBSCRIBE. Delivery is
// at-most-once: subscribers that are not connected miss messages.
type RedisBus struct {
	client *redis.Client

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

type redisSub struct {
	bus    *RedisBus
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, addr, password string, db int) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis bus connect %s: %w", addr, err)
	}
	return NewRedisBusFromClient(client), nil
}

// NewRedisBusFromClient wraps an existing client. Close closes the client.
func NewRedisBusFromClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, subs: make(map[*redisSub]struct{})}
}

// Publish sends payload on channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe subscribes to channel and waits for the server confirmation,
// so messages published after it returns are delivered.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	s := &redisSub{bus: b, pubsub: ps, done: make(chan struct{})}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.run(ctx, h)
	return s, nil
}

func (s *redisSub) run(ctx context.Context, h Handler) {
	defer close(s.done)
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			go func() { _ = s.Unsubscribe() }()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h(ctx, []byte(msg.Payload))
		}
	}
}

// Unsubscribe closes the subscription's connection.
func (s *redisSub) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
		<-s.done
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
	return err
}

// Close ends all subscriptions and closes the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSub, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return b.client.Close()
}
