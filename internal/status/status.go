// Package status publishes service health and capability metadata.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MadnessEngineering/whispermind-conduit/internal/bus"
	"github.com/MadnessEngineering/whispermind-conduit/internal/kv"
)

// Operational states.
const (
	Online  = "ONLINE"
	Offline = "OFFLINE"
)

// DefaultKey is where the latest payload is mirrored.
const DefaultKey = "conduit:status"

// Capabilities advertises what the service can do.
type Capabilities struct {
	Agentic        bool     `json:"agentic"`
	Tools          []string `json:"tools"`
	History        bool     `json:"history"`
	ActivityStream bool     `json:"activity_stream"`
}

// Payload is the status message.
type Payload struct {
	Service        string       `json:"service"`
	Version        string       `json:"version"`
	Status         string       `json:"status"`
	Message        string       `json:"message"`
	ActiveRequests int64        `json:"active_requests"`
	Capabilities   Capabilities `json:"capabilities"`
	Model          string       `json:"model"`
	Timestamp      time.Time    `json:"timestamp"`
}

// Options configure a Reporter.
type Options struct {
	Service      string
	Version      string
	Model        string
	Channel      string
	Key          string
	Capabilities Capabilities
	// Active reports the current in-flight request count.
	Active func() int64
}

// Reporter publishes status payloads and mirrors the latest into the store.
type Reporter struct {
	bus   bus.Bus
	store kv.Store
	opts  Options
	now   func() time.Time

	mu   sync.Mutex
	last *Payload
}

// State returns the state of the last report, OFFLINE before the first.
func (r *Reporter) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Offline
	}
	return r.last.Status
}

// Refresh reports the current state again with a new message and live counts.
func (r *Reporter) Refresh(ctx context.Context, message string) (Payload, error) {
	return r.Report(ctx, r.State(), message)
}

// NewReporter creates a Reporter. Either of b and store may be nil.
func NewReporter(b bus.Bus, store kv.Store, opts Options) *Reporter {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Capabilities.Tools == nil {
		opts.Capabilities.Tools = []string{}
	}
	return &Reporter{bus: b, store: store, opts: opts, now: time.Now}
}

// Build returns the payload for state without publishing it.
func (r *Reporter) Build(state, message string) Payload {
	var active int64
	if r.opts.Active != nil {
		active = r.opts.Active()
	}
	return Payload{
		Service:        r.opts.Service,
		Version:        r.opts.Version,
		Status:         state,
		Message:        message,
		ActiveRequests: active,
		Capabilities:   r.opts.Capabilities,
		Model:          r.opts.Model,
		Timestamp:      r.now().UTC(),
	}
}

// Report publishes a payload for state and stores it under the status key.
// Both writes are attempted; the first failure is returned.
func (r *Reporter) Report(ctx context.Context, state, message string) (Payload, error) {
	p := r.Build(state, message)
	data, err := json.Marshal(p)
	if err != nil {
		return p, fmt.Errorf("encode status: %w", err)
	}

	r.mu.Lock()
	r.last = &p
	r.mu.Unlock()

	var firstErr error
	if r.bus != nil && r.opts.Channel != "" {
		if err := r.bus.Publish(ctx, r.opts.Channel, data); err != nil {
			slog.Warn("Status: publish failed", "state", state, "error", err)
			firstErr = err
		}
	}
	if r.store != nil {
		if err := r.store.Set(ctx, r.opts.Key, data, 0); err != nil {
			slog.Warn("Status: store mirror failed", "key", r.opts.Key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	slog.Info("Status reported", "state", state, "active_requests", p.ActiveRequests)
	return p, firstErr
}

// Last returns the most recently reported payload.
func (r *Reporter) Last() (Payload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Payload{}, false
	}
	return *r.last, true
}

// Heartbeat republishes ONLINE every interval until ctx is done or OFFLINE
// has been reported.
func (r *Reporter) Heartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if last, ok := r.Last(); ok && last.Status == Offline {
				return
			}
			_, _ = r.Report(ctx, Online, "heartbeat")
		}
	}
}

// Read loads the mirrored payload from store.
func Read(ctx context.Context, store kv.Store, key string) (Payload, error) {
	if key == "" {
		key = DefaultKey
	}
	data, err := store.Get(ctx, key)
	if err != nil {
		return Payload{}, err
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode status: %w", err)
	}
	return p, nil
}
