// ABOUTME: Store interface and data types for wagateway conversation persistence
// ABOUTME: Defines Conversation, Message structs and sentinel errors for storage operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrStorage marks persistence-layer failures. The webhook handler checks
// for it with errors.Is to decide whether an inbound event may be retried.
var ErrStorage = errors.New("storage unavailable")

// ErrNotFound is returned when a requested conversation does not exist
var ErrNotFound = errors.New("not found")

// Role constants for message authorship
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn within a conversation. Immutable once persisted.
type Message struct {
	ID         int64
	UserID     string
	Role       string // "user" or "assistant"
	Content    string
	Timestamp  time.Time
	ExternalID string // platform message id, empty for assistant turns
}

// Conversation is the per-user history record returned to callers.
// Messages holds only the most recent window (oldest first); MessageCount
// is the total number of messages ever persisted for the user, so operators
// can tell recent activity apart from total volume.
type Conversation struct {
	UserID       string
	Messages     []*Message
	LastActivity time.Time
	MessageCount int
	CreatedAt    time.Time
}

// Stats is the aggregate view exposed to operators.
type Stats struct {
	TotalConversations int `json:"total_conversations"`
	TotalMessages      int `json:"total_messages"`
	ActiveLast24h      int `json:"active_last_24h"`
}

// Store defines the interface for conversation persistence
type Store interface {
	// GetConversation returns the conversation for userID, creating an
	// empty record if none exists. Messages is capped at the configured
	// window, ordered oldest first.
	GetConversation(ctx context.Context, userID string) (*Conversation, error)

	// AddMessage appends one message, advances last_activity and
	// increments message_count.
	AddMessage(ctx context.Context, userID, role, content, externalID string) error

	// GetFullHistory returns every message for userID, oldest first.
	// This is the audit path; unlike GetConversation it is unbounded.
	GetFullHistory(ctx context.Context, userID string) ([]*Message, error)

	// CleanupOlderThan deletes all conversations (and their messages)
	// whose last_activity is before cutoff. Returns the number of
	// conversations deleted.
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Stats returns aggregate counts across all conversations.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases any resources held by the store
	Close() error
}
