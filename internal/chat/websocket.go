package chat

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/ashureev/freezone-advisor/internal/identity"
)

const wsWriteTimeout = 10 * time.Second

// wsMessage is the envelope for both directions of the chat socket.
// Clients send {"type":"ask","chat_id":...,"message":...} or {"type":"ping"}.
type wsMessage struct {
	Type                   string `json:"type"`
	ChatID                 string `json:"chat_id,omitempty"`
	Message                string `json:"message,omitempty"`
	Response               string `json:"response,omitempty"`
	AllParametersCollected bool   `json:"all_parameters_collected,omitempty"`
	Error                  string `json:"error,omitempty"`
	Retryable              bool   `json:"retryable,omitempty"`
}

// ServeWS handles GET /ws/chat. Each ask frame runs one turn and is answered
// with an "answer" or "error" frame carrying the same fields as the HTTP API.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"msg": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	ws.SetReadLimit(h.maxBodySize)

	connID := uuid.NewString()
	slog.Info("Chat socket connected", "user_id", userID, "conn_id", connID, "ip", identity.IPFromRequest(r))
	defer slog.Info("Chat socket closed", "user_id", userID, "conn_id", connID)

	ctx := r.Context()
	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var reply wsMessage
		switch msg.Type {
		case "ping":
			reply = wsMessage{Type: "pong"}
		case "ask":
			reply = h.askFrame(ctx, userID, connID, msg)
		default:
			reply = wsMessage{Type: "error", Error: "unknown_message_type"}
		}

		if err := h.writeFrame(ctx, ws, reply); err != nil {
			slog.Debug("WebSocket write error", "error", err, "user_id", userID)
			return
		}
	}
}

func (h *Handler) askFrame(ctx context.Context, userID, connID string, msg wsMessage) wsMessage {
	if !h.limiter.Allow(userID) {
		return wsMessage{Type: "error", ChatID: msg.ChatID, Error: "rate_limited", Retryable: true}
	}
	req := AskRequest{ChatID: strings.TrimSpace(msg.ChatID), Message: msg.Message}
	if req.ChatID == "" || strings.TrimSpace(req.Message) == "" {
		return wsMessage{Type: "error", ChatID: msg.ChatID, Error: "chat_id and message are required"}
	}

	_, body := h.ask(ctx, userID, req, "chat_ws", connID)
	switch b := body.(type) {
	case AskResponse:
		return wsMessage{
			Type:                   "answer",
			ChatID:                 req.ChatID,
			Response:               b.Response,
			AllParametersCollected: b.AllParametersCollected,
		}
	case ErrorResponse:
		return wsMessage{Type: "error", ChatID: req.ChatID, Response: b.Response, Error: b.Error, Retryable: b.Retryable}
	}
	return wsMessage{Type: "error", ChatID: req.ChatID, Error: "internal_error"}
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, v wsMessage) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, v)
}

// OriginPatterns converts allowed origins such as "https://app.example.com"
// into the host patterns the WebSocket handshake matches against.
func OriginPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}
