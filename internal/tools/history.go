package tools

import (
	"context"

	"github.com/MadnessEngineering/whispermind-conduit/internal/conversation"
)

const (
	defaultHistoryLimit = 5
	maxHistoryLimit     = conversation.Capacity
)

// HistoryReader is the read side of the conversation store.
type HistoryReader interface {
	History(ctx context.Context, userID string, limit int) ([]conversation.Entry, int64, error)
}

// ConversationHistoryTool returns the calling user's recent exchanges.
type ConversationHistoryTool struct {
	history HistoryReader
}

// NewConversationHistoryTool creates the tool over a conversation store.
func NewConversationHistoryTool(history HistoryReader) *ConversationHistoryTool {
	return &ConversationHistoryTool{history: history}
}

func (t *ConversationHistoryTool) Name() string { return "conversation_history" }

func (t *ConversationHistoryTool) Description() string {
	return "Look up the current user's most recent conversation entries, newest first."
}

func (t *ConversationHistoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Number of entries to return (default 5, max 100)",
			},
		},
	}
}

func (t *ConversationHistoryTool) Execute(ctx context.Context, params map[string]any) Result {
	user, ok := UserFrom(ctx)
	if !ok {
		return ErrorResult("no user in context")
	}
	limit := GetInt(params, "limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, total, err := t.history.History(ctx, user, limit)
	if err != nil {
		return ErrorResult("history lookup failed: %v", err)
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"timestamp":          e.Timestamp,
			"user_message":       e.UserMessage,
			"response":           e.Response,
			"processing_time_ms": e.ProcessingTimeMs,
			"round_count":        e.RoundCount,
			"tools_used":         e.ToolsUsed,
			"type":               e.Type,
		})
	}
	return Result{"user": user, "entries": out, "total": total}
}
