// Package agent turns a request into a model result, choosing between a
// single completion and the autonomous tool loop.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/MadnessEngineering/whispermind-conduit/internal/envelope"
	"github.com/MadnessEngineering/whispermind-conduit/internal/inference"
	"github.com/MadnessEngineering/whispermind-conduit/internal/provider"
	"github.com/MadnessEngineering/whispermind-conduit/internal/session"
	"github.com/MadnessEngineering/whispermind-conduit/internal/tools"
)

// Backend is the inference surface the orchestrator drives.
type Backend interface {
	Generate(ctx context.Context, req inference.Request) (*inference.Result, error)
	Act(ctx context.Context, req inference.Request, hooks inference.Hooks) (*inference.Result, error)
	Model() string
}

// Activity receives round events as they happen.
type Activity interface {
	PublishRound(ctx context.Context, ev envelope.RoundEvent)
}

// Orchestrator processes requests against a backend.
type Orchestrator struct {
	backend  Backend
	context  *ContextBuilder
	activity Activity
	now      func() time.Time
}

// New creates an Orchestrator. A nil activity sink drops round events.
func New(backend Backend, builder *ContextBuilder, activity Activity) *Orchestrator {
	if builder == nil {
		builder = NewContextBuilder("", nil, 0)
	}
	return &Orchestrator{backend: backend, context: builder, activity: activity, now: time.Now}
}

// Process runs req, returning the text, model, round count and distinct
// tools used. sess may be nil.
func (o *Orchestrator) Process(ctx context.Context, req envelope.Request, sess *session.Session) (envelope.Result, error) {
	ireq := inference.Request{
		Messages:    o.context.BuildMessages(ctx, req, sess),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if !IsAutonomous(req) {
		res, err := o.backend.Generate(ctx, ireq)
		if err != nil {
			return envelope.Result{}, err
		}
		return envelope.Result{Text: res.Text, Model: o.modelOf(res), ToolsUsed: []string{}}, nil
	}

	run := &roundTracker{seen: map[string]struct{}{}, toolsUsed: []string{}}
	hooks := inference.Hooks{
		OnToolCall: func(call provider.ToolCall) {
			run.round++
			if _, ok := run.seen[call.Name]; !ok {
				run.seen[call.Name] = struct{}{}
				run.toolsUsed = append(run.toolsUsed, call.Name)
			}
			slog.Debug("Agent: tool call", "request_id", req.ID, "round", run.round, "tool", call.Name)
		},
		OnToolResult: func(call provider.ToolCall, result tools.Result) {
			o.publish(ctx, envelope.RoundEvent{
				RequestID: req.ID,
				User:      req.User,
				Round:     run.round,
				Tool:      call.Name,
				Arguments: call.Arguments,
				Status:    envelope.RoundCompleted,
				Result:    result,
				Timestamp: o.now().UTC(),
				Type:      envelope.TypeRound,
			})
		},
	}

	res, err := o.backend.Act(tools.WithUser(ctx, req.User), ireq, hooks)
	if err != nil {
		return envelope.Result{}, err
	}
	return envelope.Result{
		Text:       res.Text,
		Model:      o.modelOf(res),
		RoundCount: run.round,
		ToolsUsed:  run.toolsUsed,
	}, nil
}

type roundTracker struct {
	round     int
	seen      map[string]struct{}
	toolsUsed []string
}

func (o *Orchestrator) publish(ctx context.Context, ev envelope.RoundEvent) {
	if o.activity == nil {
		return
	}
	o.activity.PublishRound(ctx, ev)
}

func (o *Orchestrator) modelOf(res *inference.Result) string {
	if res.Model != "" {
		return res.Model
	}
	return o.backend.Model()
}
