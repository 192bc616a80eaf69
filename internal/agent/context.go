package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MadnessEngineering/whispermind-conduit/internal/conversation"
	"github.com/MadnessEngineering/whispermind-conduit/internal/envelope"
	"github.com/MadnessEngineering/whispermind-conduit/internal/provider"
	"github.com/MadnessEngineering/whispermind-conduit/internal/session"
)

// HistoryReader is the read side of the conversation store.
type HistoryReader interface {
	History(ctx context.Context, userID string, limit int) ([]conversation.Entry, int64, error)
}

// ContextBuilder assembles the prompt for a request.
type ContextBuilder struct {
	systemPrompt string
	history      HistoryReader
	historyTurns int
}

// NewContextBuilder creates a new ContextBuilder. A nil history or zero
// turns leaves prior exchanges out of the prompt.
func NewContextBuilder(systemPrompt string, history HistoryReader, historyTurns int) *ContextBuilder {
	return &ContextBuilder{systemPrompt: systemPrompt, history: history, historyTurns: historyTurns}
}

// BuildMessages returns system prompt, prior turns (oldest first) and the
// request message.
func (b *ContextBuilder) BuildMessages(ctx context.Context, req envelope.Request, sess *session.Session) []provider.Message {
	var messages []provider.Message

	system := b.systemPrompt
	if extra := requestContext(req, sess); extra != "" {
		system = strings.TrimSpace(system + "\n\n# Context\n\n" + extra)
	}
	if system != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: system})
	}

	messages = append(messages, b.priorTurns(ctx, req.User)...)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: req.Message})
	return messages
}

func requestContext(req envelope.Request, sess *session.Session) string {
	if c := strings.TrimSpace(req.Context); c != "" {
		return c
	}
	if sess != nil {
		return strings.TrimSpace(sess.Context)
	}
	return ""
}

func (b *ContextBuilder) priorTurns(ctx context.Context, user string) []provider.Message {
	if b.history == nil || b.historyTurns <= 0 {
		return nil
	}
	entries, _, err := b.history.History(ctx, user, b.historyTurns)
	if err != nil {
		slog.Warn("History unavailable for prompt", "user", user, "error", err)
		return nil
	}
	var out []provider.Message
	// Entries come newest first.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Type != envelope.TypeResponse || e.UserMessage == "" || e.Response == "" {
			continue
		}
		out = append(out,
			provider.Message{Role: provider.RoleUser, Content: e.UserMessage},
			provider.Message{Role: provider.RoleAssistant, Content: e.Response},
		)
	}
	return out
}
