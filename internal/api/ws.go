package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/brokernomex/strategy-chat/internal/chat"
	"github.com/brokernomex/strategy-chat/internal/identity"
	"github.com/coder/websocket"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// StreamHandler pushes a user's engine events over a WebSocket.
type StreamHandler struct {
	registry      *chat.Registry
	allowedOrigin string
	isDev         bool
}

// NewStreamHandler creates a new event stream handler.
func NewStreamHandler(registry *chat.Registry, allowedOrigin string, isDev bool) *StreamHandler {
	return &StreamHandler{registry: registry, allowedOrigin: allowedOrigin, isDev: isDev}
}

// streamFrame is one message on the socket.
type streamFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, chat.ErrAuthMissing.Error())
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	engine, err := h.registry.Get(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	// the stream is server to client; CloseRead handles control frames
	ctx := ws.CloseRead(r.Context())
	events := engine.Subscribe(ctx)
	slog.Info("Chat stream connected", "user_id", userID)

	if err := writeFrame(ctx, ws, streamFrame{Type: "state", Payload: engine.State()}); err != nil {
		slog.Debug("Failed to send initial state", "error", err, "user_id", userID)
		return
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Chat stream disconnected", "user_id", userID)
			return
		case ev, ok := <-events:
			if !ok {
				// engine evicted or shutting down; the client reconnects
				_ = ws.Close(websocket.StatusGoingAway, "engine closed")
				return
			}
			if err := writeFrame(ctx, ws, streamFrame{Type: string(ev.Type), Payload: ev.Payload}); err != nil {
				slog.Debug("WebSocket write error", "error", err, "user_id", userID)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("WebSocket ping failed", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func writeFrame(ctx context.Context, ws *websocket.Conn, frame streamFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
