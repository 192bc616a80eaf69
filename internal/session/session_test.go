package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MadnessEngineering/whispermind-conduit/internal/envelope"
	"github.com/MadnessEngineering/whispermind-conduit/internal/kv"
)

func TestUpsertIncrementsCounter(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	s := NewStore(mem)

	req := envelope.Request{ID: "r1", User: "u1", Message: "hi", AgentMode: envelope.ModeStandard, Temperature: 0.7, MaxTokens: 1000}
	for want := 1; want <= 3; want++ {
		sess, err := s.Upsert(ctx, "u1", req)
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if sess.ConversationCount != want {
			t.Fatalf("count = %d, want %d", sess.ConversationCount, want)
		}
	}

	got, err := s.Get(ctx, "u1")
	if err != nil || got == nil {
		t.Fatalf("Get: %v, %v", got, err)
	}
	if got.ConversationCount != 3 {
		t.Errorf("stored count = %d, want 3", got.ConversationCount)
	}
}

func TestUpsertMergesPreferences(t *testing.T) {
	ctx := context.Background()
	s := NewStore(kv.NewMemoryStore())

	_, _ = s.Upsert(ctx, "u1", envelope.Request{AgentMode: envelope.ModeStandard, Temperature: 0.7, MaxTokens: 1000, Context: "likes go"})
	sess, err := s.Upsert(ctx, "u1", envelope.Request{AgentMode: envelope.ModeAutonomous, Temperature: 0.2, MaxTokens: 50})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !sess.Preferences.AgenticMode || sess.Preferences.Temperature != 0.2 || sess.Preferences.MaxTokens != 50 {
		t.Errorf("unexpected preferences: %+v", sess.Preferences)
	}
	if sess.Context != "likes go" {
		t.Errorf("context should be kept when the request has none, got %q", sess.Context)
	}
}

func TestCounterResetsAfterExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	mem := kv.NewMemoryStore()
	mem.SetClock(func() time.Time { return now })
	s := NewStore(mem)
	s.now = func() time.Time { return now }

	_, _ = s.Upsert(ctx, "u1", envelope.Request{})
	_, _ = s.Upsert(ctx, "u1", envelope.Request{})

	now = now.Add(TTL + time.Minute)
	if got, _ := s.Get(ctx, "u1"); got != nil {
		t.Fatalf("session should have expired, got %+v", got)
	}
	sess, err := s.Upsert(ctx, "u1", envelope.Request{})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if sess.ConversationCount != 1 {
		t.Errorf("count after expiry = %d, want 1", sess.ConversationCount)
	}
}

func TestKeyEscapesUserID(t *testing.T) {
	if got := Key("a:b*c d"); got != "sessions:a%3Ab%2Ac+d" {
		t.Errorf("Key = %q", got)
	}
	if Key("a:b") == Key("a_b") || Key("a b") == Key("a+b") {
		t.Error("distinct user ids share a session key")
	}
}

func TestUpsertReplacesCorruptRecord(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	s := NewStore(mem)
	if err := mem.Set(ctx, Key("u1"), []byte("{not json"), TTL); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := s.Get(ctx, "u1"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Get err = %v, want ErrCorrupt", err)
	}
	sess, err := s.Upsert(ctx, "u1", envelope.Request{MaxTokens: 10})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if sess.ConversationCount != 1 || sess.UserID != "u1" {
		t.Errorf("unexpected session: %+v", sess)
	}
	again, err := s.Upsert(ctx, "u1", envelope.Request{})
	if err != nil || again.ConversationCount != 2 {
		t.Fatalf("second Upsert = %+v, %v", again, err)
	}
}
