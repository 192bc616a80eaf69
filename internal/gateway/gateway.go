// Package gateway connects the bus to the request pipeline: it consumes
// requests, runs each on its own task, and publishes exactly one terminal
// envelope per request.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MadnessEngineering/whispermind-conduit/internal/bus"
	"github.com/MadnessEngineering/whispermind-conduit/internal/conversation"
	"github.com/MadnessEngineering/whispermind-conduit/internal/envelope"
	"github.com/MadnessEngineering/whispermind-conduit/internal/kv"
	"github.com/MadnessEngineering/whispermind-conduit/internal/session"
	"github.com/MadnessEngineering/whispermind-conduit/internal/status"
)

// DefaultShutdownTimeout bounds how long Stop waits for in-flight requests.
const DefaultShutdownTimeout = 30 * time.Second

// ErrStopped is returned by Inject once the service is stopping.
var ErrStopped = errors.New("gateway: service stopped")

// Processor turns a request into a result.
type Processor interface {
	Process(ctx context.Context, req envelope.Request, sess *session.Session) (envelope.Result, error)
}

// Pinger checks a dependency at startup.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure a Service.
type Options struct {
	Channels          bus.Channels
	MaxConcurrent     int
	ShutdownTimeout   time.Duration
	HeartbeatInterval time.Duration
}

// Service is the running relay.
type Service struct {
	bus       bus.Bus
	store     kv.Store
	sessions  *session.Store
	history   *conversation.Store
	processor Processor
	backend   Pinger
	reporter  *status.Reporter
	assembler *envelope.Assembler
	opts      Options
	sem       *semaphore

	// work is the parent of every request task; it outlives Stop's
	// unsubscribe and is cancelled only when draining times out.
	work       context.Context
	cancelWork context.CancelFunc
	stopBeat   context.CancelFunc

	mu       sync.Mutex
	sub      bus.Subscription
	stopping bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Bus       bus.Bus
	Store     kv.Store
	Processor Processor
	// Backend, when set, is pinged at startup.
	Backend Pinger
	// Status describes the service in its status payloads. Channel and
	// Active are filled in by NewService.
	Status status.Options
}

// NewService wires a Service.
func NewService(d Deps, opts Options) *Service {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Channels.Request == "" {
		opts.Channels = bus.NewChannels("")
	}
	s := &Service{
		bus:       d.Bus,
		store:     d.Store,
		sessions:  session.NewStore(d.Store),
		history:   conversation.NewStore(d.Store),
		processor: d.Processor,
		backend:   d.Backend,
		assembler: envelope.NewAssembler(),
		opts:      opts,
		sem:       newSemaphore(opts.MaxConcurrent),
	}
	st := d.Status
	if st.Service == "" {
		st.Service = "conduit"
	}
	st.Channel = opts.Channels.Status
	st.Active = s.Active
	s.reporter = status.NewReporter(d.Bus, d.Store, st)
	s.work, s.cancelWork = context.WithCancel(context.Background())
	return s
}

// Active returns the number of requests currently being processed.
func (s *Service) Active() int64 {
	return s.inFlight.Load()
}

// Sessions exposes the session store.
func (s *Service) Sessions() *session.Store { return s.sessions }

// History exposes the conversation store.
func (s *Service) History() *conversation.Store { return s.history }

// Reporter exposes the status reporter.
func (s *Service) Reporter() *status.Reporter { return s.reporter }

// Start checks dependencies, subscribes to the request channel and reports
// ONLINE. Only a failed subscription is fatal.
func (s *Service) Start(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		slog.Warn("Gateway: store unreachable, continuing", "error", err)
	}
	if s.backend != nil {
		if err := s.backend.Ping(ctx); err != nil {
			slog.Warn("Gateway: inference backend unreachable, continuing", "error", err)
		}
	}

	sub, err := s.bus.Subscribe(ctx, s.opts.Channels.Request, s.onMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.opts.Channels.Request, err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	_, _ = s.reporter.Report(ctx, status.Online, "Service started")
	if s.opts.HeartbeatInterval > 0 {
		beatCtx, cancel := context.WithCancel(s.work)
		s.stopBeat = cancel
		go s.reporter.Heartbeat(beatCtx, s.opts.HeartbeatInterval)
	}
	slog.Info("Gateway started", "request_channel", s.opts.Channels.Request, "max_concurrent", s.opts.MaxConcurrent)
	return nil
}

func (s *Service) onMessage(_ context.Context, payload []byte) {
	req, err := envelope.ParseRequest(payload)
	if err != nil {
		if req.ID == "" {
			slog.Warn("Gateway: dropping malformed request", "error", err, "bytes", len(payload))
			return
		}
		slog.Warn("Gateway: rejecting invalid request", "id", req.ID, "error", err)
		reply := s.assembler.Failure(req, err)
		if serr := s.spawn(func() { s.finish(s.work, req, reply, req.ReceivedAt) }); serr != nil {
			slog.Warn("Gateway: request rejected", "id", req.ID, "error", serr)
		}
		return
	}
	if err := s.Inject(req); err != nil {
		slog.Warn("Gateway: request rejected", "id", req.ID, "error", err)
	}
}

// Inject schedules req for processing on its own task.
func (s *Service) Inject(req envelope.Request) error {
	return s.spawn(func() { s.handle(req) })
}

// spawn runs fn as a tracked in-flight task unless the service is stopping.
func (s *Service) spawn(fn func()) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return ErrStopped
	}
	s.wg.Add(1)
	s.inFlight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.inFlight.Add(-1)
		fn()
	}()
	return nil
}

func (s *Service) handle(req envelope.Request) {
	ctx := s.work
	if err := s.sem.Acquire(ctx); err != nil {
		s.finish(ctx, req, s.assembler.Failure(req, err), time.Now())
		return
	}
	defer s.sem.Release()

	start := req.ReceivedAt
	if start.IsZero() {
		start = time.Now()
	}
	slog.Info("Processing request", "id", req.ID, "user", req.User, "mode", req.AgentMode)

	sess, err := s.sessions.Upsert(ctx, req.User, req)
	if err != nil {
		slog.Warn("Gateway: session update failed", "user", req.User, "error", err)
		sess = nil
	}

	s.finish(ctx, req, s.run(ctx, req, sess, start), start)
}

// run produces the terminal envelope. Nothing escapes it, panics included.
func (s *Service) run(ctx context.Context, req envelope.Request, sess *session.Session, start time.Time) (out any) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Gateway: request panicked", "id", req.ID, "panic", p)
			out = s.assembler.Failure(req, fmt.Errorf("internal error: %v", p))
		}
	}()
	res, err := s.processor.Process(ctx, req, sess)
	if err != nil {
		slog.Warn("Request failed", "id", req.ID, "error", err)
		return s.assembler.Failure(req, err)
	}
	return s.assembler.Assemble(req, res, time.Since(start))
}

// finish records one conversation entry and publishes the envelope.
func (s *Service) finish(ctx context.Context, req envelope.Request, out any, start time.Time) {
	data, err := json.Marshal(out)
	if err != nil {
		slog.Error("Gateway: encode envelope", "id", req.ID, "error", err)
		return
	}
	// A cancelled task still owes its reply.
	if ctx.Err() != nil {
		ctx = context.Background()
	}

	entry := conversation.Entry{
		UserMessage:      req.Message,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	switch e := out.(type) {
	case *envelope.Response:
		entry.Timestamp = e.Timestamp
		entry.Response = e.Response
		entry.RoundCount = e.RoundCount
		entry.ToolsUsed = e.ToolsUsed
		entry.ProcessingTimeMs = e.ProcessingTimeMs
		entry.Type = envelope.TypeResponse
		slog.Info("Request completed", "id", req.ID, "rounds", e.RoundCount, "ms", e.ProcessingTimeMs)
	case *envelope.Error:
		entry.Timestamp = e.Timestamp
		entry.Response = e.Details
		entry.Type = envelope.TypeError
	}
	if err := s.history.Append(ctx, req.User, entry); err != nil {
		slog.Warn("Gateway: conversation append failed", "user", req.User, "error", err)
	}

	if err := s.bus.Publish(ctx, s.opts.Channels.Response, data); err != nil {
		slog.Error("Gateway: publish response failed", "id", req.ID, "error", err)
	}
}

// Stop unsubscribes, drains in-flight requests, reports OFFLINE and closes
// the bus and store. Requests still running after the shutdown timeout are
// cancelled.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	sub := s.sub
	s.mu.Unlock()

	if s.stopBeat != nil {
		s.stopBeat()
	}
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("Gateway: unsubscribe failed", "error", err)
		}
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	timer := time.NewTimer(s.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		slog.Warn("Gateway: shutdown timeout, cancelling in-flight requests", "active", s.Active())
		s.cancelWork()
		<-drained
	case <-ctx.Done():
		s.cancelWork()
		<-drained
	}
	s.cancelWork()

	_, _ = s.reporter.Report(context.Background(), status.Offline, "Service stopped")

	var errs []error
	if err := s.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	slog.Info("Gateway stopped")
	return errors.Join(errs...)
}
