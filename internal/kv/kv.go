// Package kv provides the key-value, capped-list and append-only stream
// primitives used for sessions, conversation history, activity and status.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get for missing or expired keys.
var ErrNotFound = errors.New("kv: key not found")

// Store is implemented by every storage binding. Implementations must be safe
// for concurrent use. A ttl of zero means the key never expires.
type Store interface {
	// Get returns the value stored at key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key, replacing any previous value and expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// PushCapped prepends value to the list at key, keeps only the newest
	// capacity entries and refreshes the list expiry.
	PushCapped(ctx context.Context, key string, value []byte, capacity int, ttl time.Duration) error
	// Range returns list entries newest first, from index start to stop inclusive.
	// A negative stop means the end of the list.
	Range(ctx context.Context, key string, start, stop int) ([][]byte, error)
	// Len returns the number of entries in the list at key.
	Len(ctx context.Context, key string) (int64, error)
	// Append adds an entry to the stream, trimming it to maxLen entries when maxLen > 0.
	Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) error
	// Ping checks the backing store is reachable.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}

// Options selects and configures a Store binding.
type Options struct {
	Driver        string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open returns the Store binding named by opts.Driver.
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(opts.Path)
	case "redis":
		return NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB), nil
	default:
		return nil, fmt.Errorf("kv: unknown driver %q", opts.Driver)
	}
}

// rangeBounds clamps a start/stop pair to a list of length n, returning a
// half-open interval. ok is false when the interval is empty.
func rangeBounds(start, stop, n int) (lo, hi int, ok bool) {
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}
