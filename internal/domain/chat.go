package domain

import (
	"time"
)

// MaxChatNameLength caps the chat name derived from the first message.
const MaxChatNameLength = 80

// Chat is the metadata of one conversation. Messages live in the slot
// session keyed by SessionKey(UserID, ChatID).
type Chat struct {
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"-"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatName derives a chat name from its first message.
func ChatName(firstMessage string) string {
	r := []rune(firstMessage)
	if len(r) <= MaxChatNameLength {
		return firstMessage
	}
	return string(r[:MaxChatNameLength-3]) + "..."
}

// StoredMessage is one entry of a chat history as returned to clients.
type StoredMessage struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
