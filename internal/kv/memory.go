package kv

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

type memList struct {
	items     [][]byte // newest first
	expiresAt time.Time
}

// StreamEntry is one record of an append-only stream.
type StreamEntry struct {
	Fields map[string]string
	At     time.Time
}

// MemoryStore is an in-process Store. Expired keys are dropped lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]memEntry
	lists   map[string]*memList
	streams map[string][]StreamEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]memEntry),
		lists:   make(map[string]*memList),
		streams: make(map[string][]StreamEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source (tests).
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) expired(at time.Time) bool {
	return !at.IsZero() && !s.now().Before(at)
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(e.expiresAt) {
		delete(s.values, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memEntry{value: append([]byte(nil), value...), expiresAt: s.expiry(ttl)}
	return nil
}

// list returns the live list at key, dropping it when expired. Caller holds mu.
func (s *MemoryStore) list(key string) *memList {
	l, ok := s.lists[key]
	if !ok {
		return nil
	}
	if s.expired(l.expiresAt) {
		delete(s.lists, key)
		return nil
	}
	return l
}

func (s *MemoryStore) PushCapped(_ context.Context, key string, value []byte, capacity int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.list(key)
	if l == nil {
		l = &memList{}
		s.lists[key] = l
	}
	items := make([][]byte, 0, len(l.items)+1)
	items = append(items, append([]byte(nil), value...))
	items = append(items, l.items...)
	if capacity > 0 && len(items) > capacity {
		items = items[:capacity]
	}
	l.items = items
	l.expiresAt = s.expiry(ttl)
	return nil
}

func (s *MemoryStore) Range(_ context.Context, key string, start, stop int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.list(key)
	if l == nil {
		return nil, nil
	}
	lo, hi, ok := rangeBounds(start, stop, len(l.items))
	if !ok {
		return nil, nil
	}
	out := make([][]byte, 0, hi-lo)
	for _, item := range l.items[lo:hi] {
		out = append(out, append([]byte(nil), item...))
	}
	return out, nil
}

func (s *MemoryStore) Len(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.list(key)
	if l == nil {
		return 0, nil
	}
	return int64(len(l.items)), nil
}

func (s *MemoryStore) Append(_ context.Context, stream string, fields map[string]string, maxLen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	entries := append(s.streams[stream], StreamEntry{Fields: copied, At: s.now()})
	if maxLen > 0 && int64(len(entries)) > maxLen {
		entries = entries[int64(len(entries))-maxLen:]
	}
	s.streams[stream] = entries
	return nil
}

// Stream returns a copy of the entries appended to stream, oldest first.
func (s *MemoryStore) Stream(stream string) []StreamEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StreamEntry(nil), s.streams[stream]...)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
