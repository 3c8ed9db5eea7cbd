// Package domain contains the records shared by the store and the HTTP layer.
package domain

import (
	"time"
)

// User is a registered account.
type User struct {
	UserID       string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionID returns the slot-session key for one of the user's chats.
func (u *User) SessionID(chatID string) string {
	return SessionKey(u.UserID, chatID)
}

// SessionKey joins a user id and a client chat id into a slot-session key.
// Chat ids are only unique per user.
func SessionKey(userID, chatID string) string {
	return userID + ":" + chatID
}
