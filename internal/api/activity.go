package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// activityBuffer is the per-connection backlog; events beyond it are dropped
// for that client.
const activityBuffer = 64

// handleActivity streams every round event as a JSON text frame.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("API: websocket accept failed", "error", err)
		return
	}
	defer func() {
		if err := ws.Close(websocket.StatusNormalClosure, "stream ended"); err != nil {
			slog.Debug("API: websocket close", "error", err)
		}
	}()

	// CloseRead discards client frames and cancels ctx when the peer goes away.
	ctx := ws.CloseRead(r.Context())

	events := make(chan []byte, activityBuffer)
	sub, err := s.deps.Bus.Subscribe(ctx, s.deps.ActivityChannel, func(_ context.Context, payload []byte) {
		select {
		case events <- payload:
		default:
			slog.Debug("API: activity client lagging, event dropped")
		}
	})
	if err != nil {
		slog.Warn("API: activity subscribe failed", "error", err)
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-events:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := ws.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				slog.Debug("API: activity write failed", "error", err)
				return
			}
		}
	}
}
