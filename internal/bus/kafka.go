package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	kafkaMaxRetries   = 3
	kafkaBatchTimeout = 10 * time.Millisecond
)

// KafkaOptions configure a KafkaBus.
type KafkaOptions struct {
	Brokers []string
	// GroupID is the consumer group for subscriptions. Replicas sharing a
	// group split the request channel between them.
	GroupID string
	// StartOffset applies when the group has no committed offset.
	// Defaults to kafka.FirstOffset.
	StartOffset int64
}

// KafkaBus implements Bus with one writer for all topics and one reader
// per subscription. Channel names are used as topic names.
type KafkaBus struct {
	opts   KafkaOptions
	writer *kafka.Writer

	mu      sync.Mutex
	readers map[*kafkaSub]struct{}
	closed  bool
}

type kafkaSub struct {
	bus    *KafkaBus
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewKafkaBus creates a Kafka-backed bus. No connection is made until the
// first publish or subscription.
func NewKafkaBus(opts KafkaOptions) (*KafkaBus, error) {
	brokers := make([]string, 0, len(opts.Brokers))
	for _, b := range opts.Brokers {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				brokers = append(brokers, part)
			}
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	opts.Brokers = brokers
	if opts.GroupID == "" {
		opts.GroupID = "conduit"
	}
	if opts.StartOffset == 0 {
		opts.StartOffset = kafka.FirstOffset
	}

	return &KafkaBus{
		opts: opts,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           kafkaBatchTimeout,
			Async:                  false,
		},
		readers: make(map[*kafkaSub]struct{}),
	}, nil
}

// Publish writes payload to the topic named channel, retrying while the
// partition leader is moving.
func (b *KafkaBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg := kafka.Message{Topic: channel, Value: payload, Time: time.Now()}
	var err error
	for attempt := 0; attempt < kafkaMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 250 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = b.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			break
		}
		slog.Warn("KafkaBus: produce retry", "topic", channel, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("kafka publish %s: %w", channel, err)
}

func retryable(err error) bool {
	return errors.Is(err, kafka.NotLeaderForPartition) ||
		errors.Is(err, kafka.LeaderNotAvailable) ||
		errors.Is(err, kafka.UnknownTopicOrPartition)
}

// Subscribe starts a consumer-group reader on the topic named channel.
func (b *KafkaBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.opts.Brokers,
		Topic:       channel,
		GroupID:     b.opts.GroupID,
		StartOffset: b.opts.StartOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	subCtx, cancel := context.WithCancel(ctx)
	s := &kafkaSub{bus: b, reader: reader, cancel: cancel, done: make(chan struct{})}
	b.readers[s] = struct{}{}

	go s.run(subCtx, channel, h)
	return s, nil
}

func (s *kafkaSub) run(ctx context.Context, topic string, h Handler) {
	defer close(s.done)
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.Warn("KafkaBus: read error", "topic", topic, "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		h(ctx, msg.Value)
	}
}

// Unsubscribe stops the reader and waits for its loop to exit.
func (s *kafkaSub) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.done
		err = s.reader.Close()
		s.bus.mu.Lock()
		delete(s.bus.readers, s)
		s.bus.mu.Unlock()
	})
	return err
}

// Close stops all readers and flushes the writer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*kafkaSub, 0, len(b.readers))
	for s := range b.readers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
