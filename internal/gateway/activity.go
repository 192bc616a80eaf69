package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/MadnessEngineering/whispermind-conduit/internal/bus"
	"github.com/MadnessEngineering/whispermind-conduit/internal/envelope"
	"github.com/MadnessEngineering/whispermind-conduit/internal/kv"
)

// DefaultActivityMaxLen caps the activity log.
const DefaultActivityMaxLen = 1000

// Activity broadcasts round events on the activity channel and appends them
// to the activity log stream.
type Activity struct {
	bus     bus.Bus
	channel string
	store   kv.Store
	stream  string
	maxLen  int64
}

// NewActivity creates an activity sink. An empty stream or nil store skips
// the log.
func NewActivity(b bus.Bus, channel string, store kv.Store, stream string, maxLen int64) *Activity {
	if maxLen <= 0 {
		maxLen = DefaultActivityMaxLen
	}
	return &Activity{bus: b, channel: channel, store: store, stream: stream, maxLen: maxLen}
}

// PublishRound publishes ev immediately. Failures are logged, never returned:
// activity is best effort and must not fail the request.
func (a *Activity) PublishRound(ctx context.Context, ev envelope.RoundEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Activity: encode round event", "id", ev.RequestID, "error", err)
		return
	}
	if err := a.bus.Publish(ctx, a.channel, data); err != nil {
		slog.Warn("Activity: publish failed", "id", ev.RequestID, "error", err)
	}
	if a.store == nil || a.stream == "" {
		return
	}
	fields := map[string]string{
		"request_id": ev.RequestID,
		"user":       ev.User,
		"round":      strconv.Itoa(ev.Round),
		"tool":       ev.Tool,
		"status":     ev.Status,
		"event":      string(data),
	}
	if err := a.store.Append(ctx, a.stream, fields, a.maxLen); err != nil {
		slog.Warn("Activity: log append failed", "stream", a.stream, "error", err)
	}
}
