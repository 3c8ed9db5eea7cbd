// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/freezone-advisor/internal/domain"
	"github.com/ashureev/freezone-advisor/internal/slots"
)

var (
	// ErrUserExists is returned by CreateUser for an email already registered.
	ErrUserExists = errors.New("user already exists")

	// ErrChatNotFound is returned for a chat the user does not own.
	ErrChatNotFound = errors.New("chat not found")
)

// Repository persists users, chat metadata and slot sessions.
type Repository interface {
	slots.Store

	// GetUser retrieves a user by id. It returns nil, nil when the user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByEmail retrieves a user by email. It returns nil, nil when no user matches.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// CreateUser inserts a new user, returning ErrUserExists on a duplicate email.
	CreateUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// EnsureChat creates the chat if it does not exist yet and reports whether it did.
	EnsureChat(ctx context.Context, chat *domain.Chat) (bool, error)

	// GetChat returns a chat owned by userID or ErrChatNotFound.
	GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error)

	// TouchChat bumps the chat's updated_at timestamp.
	TouchChat(ctx context.Context, userID, chatID string, at time.Time) error

	// LatestChats returns up to limit chats, newest first.
	LatestChats(ctx context.Context, userID string, limit int) ([]*domain.Chat, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// SessionStore is a slots.Store that owns resources.
type SessionStore interface {
	slots.Store
	Close() error
}
