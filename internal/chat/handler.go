package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ashureev/freezone-advisor/internal/api"
	"github.com/ashureev/freezone-advisor/internal/domain"
	"github.com/ashureev/freezone-advisor/internal/identity"
	"github.com/ashureev/freezone-advisor/internal/slots"
	"github.com/ashureev/freezone-advisor/internal/store"
)

// FallbackResponse is the assistant text sent when a turn fails.
const FallbackResponse = "Sorry, something went wrong. Please try again."

// Observer receives the outcome of every turn. The metrics package
// implements it.
type Observer interface {
	ObserveResult(res *slots.Result)
	ObserveError(err error)
}

type noopObserver struct{}

func (noopObserver) ObserveResult(*slots.Result) {}
func (noopObserver) ObserveError(error)          {}

// AskRequest is the body of POST /chatbot/ask.
type AskRequest struct {
	ChatID  string `json:"chat_id" validate:"required,max=128"`
	Message string `json:"message" validate:"required,max=4000"`
}

// AskResponse is a successful turn.
type AskResponse struct {
	Response               string `json:"response"`
	AllParametersCollected bool   `json:"all_parameters_collected"`
}

// ErrorResponse is a failed turn. Response carries text the client can show.
type ErrorResponse struct {
	Response  string `json:"response"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

type chatSummary struct {
	ChatID string `json:"chat_id"`
	Name   string `json:"name"`
}

// HandlerOptions configures a Handler. Zero values select defaults.
type HandlerOptions struct {
	RateLimiter    *RateLimiter
	Log            ConversationLogger
	Observer       Observer
	MaxBodySize    int64
	OriginPatterns []string
}

// Handler serves the /chatbot routes and the chat WebSocket.
type Handler struct {
	svc            *Service
	tokens         *identity.Tokens
	limiter        *RateLimiter
	log            ConversationLogger
	observer       Observer
	maxBodySize    int64
	originPatterns []string
}

// NewHandler creates a chat handler.
func NewHandler(svc *Service, tokens *identity.Tokens, opts HandlerOptions) *Handler {
	h := &Handler{
		svc:            svc,
		tokens:         tokens,
		limiter:        opts.RateLimiter,
		log:            opts.Log,
		observer:       opts.Observer,
		maxBodySize:    opts.MaxBodySize,
		originPatterns: opts.OriginPatterns,
	}
	if h.limiter == nil {
		h.limiter = NewRateLimiter(0, 1)
	}
	if h.log == nil {
		h.log = noopConversationLogger{}
	}
	if h.observer == nil {
		h.observer = noopObserver{}
	}
	if h.maxBodySize <= 0 {
		h.maxBodySize = api.DefaultMaxBodySize
	}
	return h
}

// RegisterRoutes mounts the chat routes behind the bearer middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(h.tokens))
		r.Route("/chatbot", func(r chi.Router) {
			r.Post("/ask", h.HandleAsk)
			r.Get("/latest-chats", h.HandleLatestChats)
			r.Get("/chat-history", h.HandleHistory)
		})
		r.Get("/ws/chat", h.ServeWS)
	})
}

// Close stops background work owned by the handler.
func (h *Handler) Close() {
	h.limiter.Close()
}

// HandleAsk handles POST /chatbot/ask.
func (h *Handler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.limiter.Allow(userID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req AskRequest
	if err := api.DecodeJSON(w, r, h.maxBodySize, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	status, body := h.ask(r.Context(), userID, req, "chat_http", reqID)
	api.JSON(w, status, body)
}

// ask runs one turn and returns the status and body to send. It is shared by
// the HTTP and WebSocket paths.
func (h *Handler) ask(ctx context.Context, userID string, req AskRequest, channel, reqID string) (int, any) {
	slog.Info("Chat ask request",
		"user_id", userID,
		"chat_id", req.ChatID,
		"message_length", len(req.Message),
		"request_id", reqID,
	)
	h.logEvent(userID, req.ChatID, channel, "inbound", "chat_user_message", req.Message, map[string]any{
		"request_id": reqID,
	})
	h.svc.TouchUser(userID)

	start := time.Now()
	res, err := h.svc.Ask(ctx, userID, req.ChatID, req.Message)
	if err != nil {
		h.observer.ObserveError(err)
		status, code := errorStatus(err)
		slog.Error("Chat turn failed",
			"error", err,
			"user_id", userID,
			"chat_id", req.ChatID,
			"code", code,
			"request_id", reqID,
		)
		h.logEvent(userID, req.ChatID, channel, "outbound", "chat_error", FallbackResponse, map[string]any{
			"request_id": reqID,
			"error":      code,
		})
		return status, ErrorResponse{Response: FallbackResponse, Error: code, Retryable: slots.Retryable(err)}
	}

	h.observer.ObserveResult(res)
	slog.Info("Chat turn completed",
		"user_id", userID,
		"chat_id", req.ChatID,
		"action", res.Action.Kind,
		"slot", res.Action.Slot,
		"dropped", res.Action.Dropped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	h.logEvent(userID, req.ChatID, channel, "outbound", "chat_assistant_message", res.AssistantText, map[string]any{
		"request_id":               reqID,
		"action":                   string(res.Action.Kind),
		"all_parameters_collected": res.AllParametersCollected,
	})
	return http.StatusOK, AskResponse{Response: res.AssistantText, AllParametersCollected: res.AllParametersCollected}
}

// HandleLatestChats handles GET /chatbot/latest-chats?x=N.
func (h *Handler) HandleLatestChats(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := DefaultLatestChats
	if raw := r.URL.Query().Get("x"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	chats, err := h.svc.LatestChats(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list chats", "error", err, "user_id", userID)
		api.Error(w, http.StatusServiceUnavailable, "failed to load chats")
		return
	}

	out := make([]chatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatSummary{ChatID: c.ChatID, Name: c.Name})
	}
	api.JSON(w, http.StatusOK, map[string]any{"latest_chats": out})
}

// HandleHistory handles GET /chatbot/chat-history?chat_id=ID.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		api.Error(w, http.StatusBadRequest, "chat_id is required")
		return
	}

	history, err := h.svc.History(r.Context(), userID, chatID)
	if errors.Is(err, store.ErrChatNotFound) {
		api.Error(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		status, code := errorStatus(err)
		slog.Error("Failed to load chat history", "error", err, "user_id", userID, "chat_id", chatID)
		api.Error(w, status, code)
		return
	}
	api.JSON(w, http.StatusOK, map[string][]domain.StoredMessage{"chat_history": history})
}

func (h *Handler) logEvent(userID, chatID, channel, direction, eventType, content string, meta map[string]any) {
	h.log.Log(ConversationLogEvent{
		EventID:    uuid.NewString(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     userID,
		SessionID:  chatID,
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}

// errorStatus maps an engine error to an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, slots.ErrExtractionTimeout):
		return http.StatusGatewayTimeout, "extraction_timeout"
	case errors.Is(err, slots.ErrExtractionFailed):
		return http.StatusServiceUnavailable, "extraction_failed"
	case errors.Is(err, slots.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, slots.ErrSchemaMismatch):
		return http.StatusUnprocessableEntity, "schema_mismatch"
	case errors.Is(err, slots.ErrUnknownSession):
		return http.StatusNotFound, "unknown_session"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
