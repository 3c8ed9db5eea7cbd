// Package chat serves the advisor conversation over HTTP and WebSocket.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/freezone-advisor/internal/domain"
	"github.com/ashureev/freezone-advisor/internal/slots"
	"github.com/ashureev/freezone-advisor/internal/store"
)

// Sender names used in chat histories returned to clients.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Default and maximum number of chats returned by LatestChats.
const (
	DefaultLatestChats = 5
	MaxLatestChats     = 50
)

// Engine is the part of *slots.Engine the service needs.
type Engine interface {
	Submit(ctx context.Context, req slots.SubmitRequest) (*slots.Result, error)
	Session(ctx context.Context, id string) (*slots.Session, error)
}

// Service ties chat metadata in the repository to slot sessions in the engine.
type Service struct {
	repo   store.Repository
	engine Engine
	now    func() time.Time
}

// NewService creates a chat service.
func NewService(repo store.Repository, engine Engine) *Service {
	return &Service{repo: repo, engine: engine, now: time.Now}
}

// Ask runs one turn of the chat. The chat is created on its first message and
// named after it. The chat row is committed before the turn runs, so a first
// turn that fails still leaves the chat listed with an empty history and the
// client can retry under the same chat_id.
func (s *Service) Ask(ctx context.Context, userID, chatID, message string) (*slots.Result, error) {
	now := s.now()
	created, err := s.repo.EnsureChat(ctx, &domain.Chat{
		ChatID:    chatID,
		UserID:    userID,
		Name:      domain.ChatName(message),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ensure chat: %v", slots.ErrStoreUnavailable, err)
	}
	if created {
		slog.Info("Chat created", "user_id", userID, "chat_id", chatID)
	}

	// The chat row is authoritative: a chat whose session was lost (memory
	// store after a restart) starts a fresh session.
	res, err := s.engine.Submit(ctx, slots.SubmitRequest{
		SessionID: domain.SessionKey(userID, chatID),
		Text:      message,
		Create:    true,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.TouchChat(ctx, userID, chatID, s.now()); err != nil {
		slog.Warn("Failed to touch chat", "error", err, "user_id", userID, "chat_id", chatID)
	}
	return res, nil
}

// LatestChats returns the user's newest chats. limit is clamped to
// [1, MaxLatestChats].
func (s *Service) LatestChats(ctx context.Context, userID string, limit int) ([]*domain.Chat, error) {
	if limit <= 0 {
		limit = DefaultLatestChats
	}
	if limit > MaxLatestChats {
		limit = MaxLatestChats
	}
	chats, err := s.repo.LatestChats(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: latest chats: %v", slots.ErrStoreUnavailable, err)
	}
	return chats, nil
}

// History returns the messages of a chat owned by userID, oldest first.
// It returns store.ErrChatNotFound for a chat the user does not have.
func (s *Service) History(ctx context.Context, userID, chatID string) ([]domain.StoredMessage, error) {
	if _, err := s.repo.GetChat(ctx, userID, chatID); err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get chat: %v", slots.ErrStoreUnavailable, err)
	}

	sess, err := s.engine.Session(ctx, domain.SessionKey(userID, chatID))
	if errors.Is(err, slots.ErrUnknownSession) {
		return []domain.StoredMessage{}, nil
	}
	if err != nil {
		return nil, err
	}

	messages := make([]domain.StoredMessage, 0, len(sess.History))
	for _, turn := range sess.History {
		sender := SenderUser
		if turn.Sender == slots.SenderAssistant {
			sender = SenderBot
		}
		messages = append(messages, domain.StoredMessage{
			Sender:    sender,
			Content:   turn.Text,
			Timestamp: turn.Timestamp,
		})
	}
	return messages, nil
}

// TouchUser records activity for a user without blocking the request.
func (s *Service) TouchUser(userID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.UpdateLastSeen(ctx, userID, s.now()); err != nil {
			slog.Warn("Failed to update last seen", "error", err, "user_id", userID)
		}
	}()
}
