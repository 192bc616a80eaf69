// Package conversation keeps a bounded, time-limited history of each user's
// completed requests.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/MadnessEngineering/whispermind-conduit/internal/kv"
)

const (
	// Capacity is the maximum number of entries kept per user.
	Capacity = 100
	// TTL is how long a history survives after its last append.
	TTL = 7 * 24 * time.Hour
)

// Entry records one completed request, successful or not.
type Entry struct {
	Timestamp        time.Time `json:"timestamp"`
	UserMessage      string    `json:"user_message"`
	Response         string    `json:"response"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	RoundCount       int       `json:"round_count"`
	ToolsUsed        []string  `json:"tools_used"`
	Type             string    `json:"type"`
}

// Key returns the store key for a user's history. The id is query-escaped,
// so distinct ids never share a key.
func Key(userID string) string {
	return "conversations:" + url.QueryEscape(userID)
}

// Store appends to and reads from per-user histories, most recent first.
type Store struct {
	kv kv.Store
}

// NewStore creates a conversation store over the given key-value store.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

// Append pushes entry to the front of the user's history, trims it to
// Capacity entries and refreshes the expiry.
func (s *Store) Append(ctx context.Context, userID string, entry Entry) error {
	if entry.ToolsUsed == nil {
		entry.ToolsUsed = []string{}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode conversation entry: %w", err)
	}
	return s.kv.PushCapped(ctx, Key(userID), data, Capacity, TTL)
}

// History returns the most recent limit entries (newest first) and the total
// number of entries stored for the user.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]Entry, int64, error) {
	if limit <= 0 {
		return []Entry{}, 0, nil
	}
	if limit > Capacity {
		limit = Capacity
	}
	raw, err := s.kv.Range(ctx, Key(userID), 0, limit-1)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.kv.Len(ctx, Key(userID))
	if err != nil {
		return nil, 0, err
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal(item, &e); err != nil {
			slog.Warn("Skipping undecodable conversation entry", "user", userID, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, total, nil
}
