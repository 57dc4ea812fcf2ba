package domain

import (
	"context"
	"time"
)

// MemoryStore keeps long-term snippets the agent can recall across sessions.
type MemoryStore interface {
	Store(ctx context.Context, content string, tags []string) (string, error)
	Recall(ctx context.Context, query string, limit int) ([]MemoryEntry, error)
	Forget(ctx context.Context, id string) error
}

// SessionStore persists conversation history keyed by session ID.
type SessionStore interface {
	SaveSession(ctx context.Context, s Session) error
	LoadSession(ctx context.Context, id string) ([]Message, error)
	DeleteSession(ctx context.Context, id string) error
}

type Session struct {
	ID        string
	SenderID  string
	ChannelID string
	Messages  []Message
}

type MemoryEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
