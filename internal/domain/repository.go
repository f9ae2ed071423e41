package domain

import (
	"context"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	ListActive(ctx context.Context, offset, limit int) ([]*User, error)
}

// ConversationRepository defines persistence operations for conversations.
// GetOrCreate implements the idempotent pair resolution: callers pass the
// unordered pair, the store canonicalizes it.
type ConversationRepository interface {
	GetOrCreate(ctx context.Context, userA, userB string) (*Conversation, error)
	GetByID(ctx context.Context, id string) (*Conversation, error)
	GetByAppointment(ctx context.Context, appointmentID string) (*Conversation, error)
	LinkAppointment(ctx context.Context, conversationID, appointmentID string) error
	ListSummaries(ctx context.Context, userID string) ([]*ConversationSummary, error)
}

// ParticipantRepository defines operations around conversation membership
// and per-participant read cursors.
type ParticipantRepository interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListParticipants(ctx context.Context, conversationID string) ([]*User, error)
	TouchLastRead(ctx context.Context, conversationID, userID string) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	ListForConversation(ctx context.Context, conversationID string, limit, offset int) ([]*Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) error
	SoftDelete(ctx context.Context, id, senderID string) (bool, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
}

// NotificationRepository stores best-effort notification records.
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListForUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
}
