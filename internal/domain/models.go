package domain

import "time"

// Role distinguishes the two kinds of platform users that can message
// each other.
type Role string

const (
	RolePatient    Role = "patient"
	RoleMoodMentor Role = "mood_mentor"
)

// User represents a platform user (patient or mood mentor).
type User struct {
	ID             string    `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	DisplayName    string    `db:"display_name" json:"display_name"`
	AvatarURL      *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	Role           Role      `db:"role" json:"role"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Conversation is a two-party messaging thread, lazily created and reused.
// User1ID/User2ID hold the unordered participant pair in canonical order
// (User1ID < User2ID), which makes (A,B) and (B,A) resolve to the same row.
type Conversation struct {
	ID            string     `db:"id" json:"id"`
	User1ID       string     `db:"user1_id" json:"user1_id"`
	User2ID       string     `db:"user2_id" json:"user2_id"`
	AppointmentID *string    `db:"appointment_id" json:"appointment_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
}

// Other returns the counterpart of userID in the conversation, or "" when
// userID is not one of the two participants.
func (c *Conversation) Other(userID string) string {
	switch userID {
	case c.User1ID:
		return c.User2ID
	case c.User2ID:
		return c.User1ID
	}
	return ""
}

// ConversationParticipant binds a user to a conversation together with the
// user's individual read cursor. LastReadAt is written only by the reading
// participant and only moves forward.
type ConversationParticipant struct {
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	UserID         string     `db:"user_id" json:"user_id"`
	JoinedAt       time.Time  `db:"joined_at" json:"joined_at"`
	LastReadAt     *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
}

// Message is a single chat message. DeletedAt marks a soft delete: the row
// stays resolvable by id but is excluded from active listings.
type Message struct {
	ID             string     `db:"id" json:"id"`
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	SenderID       string     `db:"sender_id" json:"sender_id"`
	Content        string     `db:"content" json:"content"`
	AttachmentURL  *string    `db:"attachment_url" json:"attachment_url,omitempty"`
	AttachmentType *string    `db:"attachment_type" json:"attachment_type,omitempty"`
	IsRead         bool       `db:"is_read" json:"is_read"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ConversationSummary is the inbox row shown in a user's conversation list:
// the conversation plus the counterpart's profile, a last-message preview,
// and the caller's unread count.
type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	Other        User         `json:"other"`
	LastMessage  *Message     `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
	HasUnread    bool         `json:"has_unread"`
}

// NotificationKindMessage tags notifications produced by message sends.
const NotificationKindMessage = "message"

// Notification is a best-effort record created for the recipient of a new
// message. Delivery is not part of the send contract.
type Notification struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Title     string     `db:"title" json:"title"`
	Body      string     `db:"body" json:"body"`
	Kind      string     `db:"kind" json:"kind"`
	Link      string     `db:"link" json:"link"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ReadAt    *time.Time `db:"read_at" json:"read_at,omitempty"`
}
