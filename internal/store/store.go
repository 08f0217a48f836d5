// Package store persists chats and their messages.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("chat not found")

const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

type Chat struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Title      string    `json:"title"`
	Visibility string    `json:"visibility"`
	CreatedAt  time.Time `json:"created_at"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewChat is the first completed exchange of a conversation.
type NewChat struct {
	ChatID            string
	UserID            string
	Title             string
	FirstUserMessage  string
	AssistantResponse string
}

// ChatStore is the persistence collaborator. The request path only calls
// CreateChatIfNotExists; the rest serve the chat UI.
type ChatStore interface {
	// CreateChatIfNotExists stores the chat and its first two messages unless
	// a chat with that ID exists. It reports whether a chat was created.
	CreateChatIfNotExists(ctx context.Context, c NewChat) (bool, error)
	GetChatByID(ctx context.Context, id string) (*Chat, error)
	GetMessagesByChatID(ctx context.Context, chatID string) ([]Message, error)
	CreateMessages(ctx context.Context, msgs []Message) error
	UpdateChatTitle(ctx context.Context, id, title string) error
	UpdateChatVisibility(ctx context.Context, id, visibility string) error
	DeleteChat(ctx context.Context, id string) error
}

func validVisibility(v string) bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}
