package kv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// storeCase builds a store and returns a function that moves its clock forward.
type storeCase struct {
	name string
	open func(t *testing.T) (Store, func(time.Duration))
}

func storeCases() []storeCase {
	return []storeCase{
		{"memory", func(t *testing.T) (Store, func(time.Duration)) {
			clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
			s := NewMemoryStore()
			s.SetClock(clk.Now)
			return s, clk.Advance
		}},
		{"sqlite", func(t *testing.T) (Store, func(time.Duration)) {
			clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kv.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			s.SetClock(clk.Now)
			t.Cleanup(func() { s.Close() })
			return s, clk.Advance
		}},
		{"redis", func(t *testing.T) (Store, func(time.Duration)) {
			mr := miniredis.RunT(t)
			s := NewRedisStore(mr.Addr(), "", 0)
			t.Cleanup(func() { s.Close() })
			return s, mr.FastForward
		}},
	}
}

func TestStoreGetSetExpiry(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s, advance := tc.open(t)

			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := s.Set(ctx, "k", []byte("v1"), time.Hour); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set(ctx, "forever", []byte("x"), 0); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := s.Get(ctx, "k")
			if err != nil || string(got) != "v1" {
				t.Fatalf("Get = %q, %v", got, err)
			}

			advance(2 * time.Hour)
			if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected expired key, got %v", err)
			}
			if _, err := s.Get(ctx, "forever"); err != nil {
				t.Fatalf("key without ttl should survive: %v", err)
			}
		})
	}
}

func TestStorePushCappedEvictsOldest(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := tc.open(t)

			for i := 0; i < 101; i++ {
				if err := s.PushCapped(ctx, "list", []byte(fmt.Sprintf("e%d", i)), 100, time.Hour); err != nil {
					t.Fatalf("PushCapped: %v", err)
				}
			}
			n, err := s.Len(ctx, "list")
			if err != nil {
				t.Fatalf("Len: %v", err)
			}
			if n != 100 {
				t.Fatalf("expected 100 entries, got %d", n)
			}
			all, err := s.Range(ctx, "list", 0, -1)
			if err != nil {
				t.Fatalf("Range: %v", err)
			}
			if string(all[0]) != "e100" {
				t.Errorf("newest entry = %s, want e100", all[0])
			}
			for _, v := range all {
				if string(v) == "e0" {
					t.Fatal("oldest entry should have been evicted")
				}
			}
			head, err := s.Range(ctx, "list", 0, 2)
			if err != nil {
				t.Fatalf("Range: %v", err)
			}
			if len(head) != 3 || string(head[2]) != "e98" {
				t.Errorf("unexpected head: %q", head)
			}
		})
	}
}

func TestStoreListExpiryRefreshedOnPush(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s, advance := tc.open(t)

			_ = s.PushCapped(ctx, "l", []byte("a"), 10, time.Hour)
			advance(50 * time.Minute)
			_ = s.PushCapped(ctx, "l", []byte("b"), 10, time.Hour)
			advance(50 * time.Minute)
			if n, _ := s.Len(ctx, "l"); n != 2 {
				t.Fatalf("expiry should be refreshed by push, len=%d", n)
			}
			advance(time.Hour)
			if n, _ := s.Len(ctx, "l"); n != 0 {
				t.Fatalf("expected list to expire, len=%d", n)
			}
		})
	}
}

func TestStoreAppend(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := tc.open(t)
			for i := 0; i < 5; i++ {
				if err := s.Append(ctx, "log", map[string]string{"n": fmt.Sprint(i)}, 3); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}
			switch st := s.(type) {
			case *MemoryStore:
				entries := st.Stream("log")
				if len(entries) != 3 || entries[0].Fields["n"] != "2" {
					t.Errorf("unexpected stream: %+v", entries)
				}
			case *SQLiteStore:
				n, err := st.StreamLen(ctx, "log")
				if err != nil || n != 3 {
					t.Errorf("StreamLen = %d, %v", n, err)
				}
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Options{Driver: "etcd"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	s, err := Open(Options{Driver: "memory"})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
