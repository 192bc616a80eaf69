package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MadnessEngineering/whispermind-conduit/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// collector records payloads delivered to a handler.
type collector struct {
	mu   sync.Mutex
	msgs []string
	got  chan struct{}
}

func newCollector() *collector { return &collector{got: make(chan struct{}, 100)} }

func (c *collector) handle(_ context.Context, payload []byte) {
	c.mu.Lock()
	c.msgs = append(c.msgs, string(payload))
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func busCases(t *testing.T) map[string]Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return map[string]Bus{
		"memory": NewMemoryBus(),
		"redis":  NewRedisBusFromClient(client),
	}
}

func TestPublishSubscribe(t *testing.T) {
	for name, b := range busCases(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()
			ctx := context.Background()

			c := newCollector()
			sub, err := b.Subscribe(ctx, "conduit.request", c.handle)
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}
			other := newCollector()
			if _, err := b.Subscribe(ctx, "conduit.status", other.handle); err != nil {
				t.Fatalf("Subscribe: %v", err)
			}

			for i := 0; i < 3; i++ {
				if err := b.Publish(ctx, "conduit.request", []byte(fmt.Sprintf("m%d", i))); err != nil {
					t.Fatalf("Publish: %v", err)
				}
			}
			got := c.wait(t, 3)
			if len(got) != 3 || got[0] != "m0" || got[2] != "m2" {
				t.Errorf("unexpected delivery: %v", got)
			}
			if len(other.msgs) != 0 {
				t.Errorf("other channel received %v", other.msgs)
			}

			if err := sub.Unsubscribe(); err != nil {
				t.Fatalf("Unsubscribe: %v", err)
			}
			_ = b.Publish(ctx, "conduit.request", []byte("late"))
			select {
			case <-c.got:
				t.Error("message delivered after Unsubscribe")
			case <-time.After(100 * time.Millisecond):
			}
		})
	}
}

func TestMemoryBusFanOutAndClose(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()
	a, c := newCollector(), newCollector()
	_, _ = b.Subscribe(ctx, "x", a.handle)
	_, _ = b.Subscribe(ctx, "x", c.handle)
	if b.Subscribers("x") != 2 {
		t.Fatalf("subscribers = %d", b.Subscribers("x"))
	}

	_ = b.Publish(ctx, "x", []byte("hello"))
	a.wait(t, 1)
	c.wait(t, 1)

	_ = b.Close()
	if b.Subscribers("x") != 0 {
		t.Errorf("Close should drop subscriptions")
	}
	if err := b.Publish(ctx, "x", []byte("after")); err != ErrClosed {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
}

func TestMemoryBusContextEndsSubscription(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	_, _ = b.Subscribe(ctx, "x", newCollector().handle)
	cancel()

	deadline := time.Now().Add(time.Second)
	for b.Subscribers("x") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not removed after context cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChannels(t *testing.T) {
	ch := NewChannels("whisper.")
	if ch.Request != "whisper.request" || ch.Activity != "whisper.activity" {
		t.Errorf("unexpected names: %+v", ch)
	}
	if NewChannels("").Status != "conduit.status" {
		t.Error("empty prefix should fall back to conduit")
	}

	ch = ChannelsFromConfig(config.BusConfig{Prefix: "p", ResponseChannel: "ai_responses"})
	if ch.Response != "ai_responses" || ch.Request != "p.request" {
		t.Errorf("overrides not applied: %+v", ch)
	}
	if len(ch.All()) != 4 {
		t.Error("All should list four channels")
	}
}

func TestOpen(t *testing.T) {
	b, err := Open(context.Background(), config.BusConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	_ = b.Close()

	if _, err := Open(context.Background(), config.BusConfig{Driver: "kafka"}); err == nil {
		t.Error("kafka without brokers should fail")
	}
	kb, err := Open(context.Background(), config.BusConfig{Driver: "kafka", KafkaBrokers: []string{"k1:9092, k2:9092"}})
	if err != nil {
		t.Fatalf("Open kafka: %v", err)
	}
	if got := kb.(*KafkaBus).opts.Brokers; len(got) != 2 || got[1] != "k2:9092" {
		t.Errorf("brokers = %v", got)
	}
	_ = kb.Close()

	if _, err := Open(context.Background(), config.BusConfig{Driver: "nats"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
