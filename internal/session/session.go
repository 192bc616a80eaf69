// Package session provides short-lived per-user session records.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/MadnessEngineering/whispermind-conduit/internal/envelope"
	"github.com/MadnessEngineering/whispermind-conduit/internal/kv"
)

// TTL is how long a session survives after its last write.
const TTL = 24 * time.Hour

// ErrCorrupt is returned by Get when a stored record cannot be decoded.
var ErrCorrupt = errors.New("session record corrupt")

// Preferences are the sampling and mode defaults last used by a user.
type Preferences struct {
	AgenticMode bool    `json:"agentic_mode"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Session is the record stored under sessions:{user}.
type Session struct {
	UserID            string      `json:"user_id"`
	Preferences       Preferences `json:"preferences"`
	Context           string      `json:"context,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	LastActivity      time.Time   `json:"last_activity"`
	ConversationCount int         `json:"conversation_count"`
}

// Key returns the store key for a user's session. The id is query-escaped,
// so distinct ids never share a key.
func Key(userID string) string {
	return "sessions:" + url.QueryEscape(userID)
}

// Store reads and writes session records. Writes are last-write-wins.
type Store struct {
	kv  kv.Store
	ttl time.Duration
	now func() time.Time
}

// NewStore creates a session store over the given key-value store.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store, ttl: TTL, now: time.Now}
}

// Get returns the user's live session, or (nil, nil) when none exists.
func (s *Store) Get(ctx context.Context, userID string) (*Session, error) {
	data, err := s.kv.Get(ctx, Key(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, userID, err)
	}
	return &sess, nil
}

// Upsert merges the request's preferences into the user's session, increments
// the conversation counter (1 for a new user) and rewrites it with a fresh TTL.
func (s *Store) Upsert(ctx context.Context, userID string, req envelope.Request) (*Session, error) {
	now := s.now().UTC()
	sess, err := s.Get(ctx, userID)
	if errors.Is(err, ErrCorrupt) {
		slog.Warn("Session: replacing undecodable record", "user", userID, "error", err)
		sess, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = &Session{UserID: userID, CreatedAt: now}
	}

	sess.Preferences = Preferences{
		AgenticMode: req.Autonomous(),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.Context != "" {
		sess.Context = req.Context
	}
	sess.LastActivity = now
	sess.ConversationCount++

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", userID, err)
	}
	if err := s.kv.Set(ctx, Key(userID), data, s.ttl); err != nil {
		return nil, err
	}
	return sess, nil
}
