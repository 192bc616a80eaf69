// Package bus provides the publish/subscribe transport the relay listens on
// and answers through, with in-process, Kafka and Redis bindings.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MadnessEngineering/whispermind-conduit/internal/config"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// Handler processes one message delivered on a channel. Handlers of one
// subscription are called sequentially, in delivery order.
type Handler func(ctx context.Context, payload []byte)

// Subscription is an active registration; Unsubscribe stops delivery.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the publish/subscribe capability shared by every binding.
type Bus interface {
	// Publish sends payload to every subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers h for channel until the subscription or ctx ends.
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)
	// Close releases the connection. Outstanding subscriptions end.
	Close() error
}

// Channels names the four channels the relay uses.
type Channels struct {
	Request  string
	Response string
	Status   string
	Activity string
}

// NewChannels derives channel names from a prefix: <prefix>.request and so on.
func NewChannels(prefix string) Channels {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "conduit"
	}
	return Channels{
		Request:  prefix + ".request",
		Response: prefix + ".response",
		Status:   prefix + ".status",
		Activity: prefix + ".activity",
	}
}

// ChannelsFromConfig applies per-channel overrides on top of the prefix names.
func ChannelsFromConfig(cfg config.BusConfig) Channels {
	ch := NewChannels(cfg.Prefix)
	override := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	override(&ch.Request, cfg.RequestChannel)
	override(&ch.Response, cfg.ResponseChannel)
	override(&ch.Status, cfg.StatusChannel)
	override(&ch.Activity, cfg.ActivityChannel)
	return ch
}

// All returns the channel names in a fixed order.
func (c Channels) All() []string {
	return []string{c.Request, c.Response, c.Status, c.Activity}
}

// Open connects the binding selected by cfg.Driver.
func Open(ctx context.Context, cfg config.BusConfig) (Bus, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemoryBus(), nil
	case "kafka":
		return NewKafkaBus(KafkaOptions{Brokers: cfg.KafkaBrokers, GroupID: cfg.KafkaGroupID})
	case "redis":
		return NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}
