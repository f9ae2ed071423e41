package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/emotionsapp/messaging/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, conversation_id, sender_id, content, attachment_url, attachment_type, is_read, created_at, updated_at, deleted_at`

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	m := &domain.Message{}
	var deleted sql.NullTime
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.Content,
		&m.AttachmentURL,
		&m.AttachmentType,
		&m.IsRead,
		&m.CreatedAt,
		&m.UpdatedAt,
		&deleted,
	)
	if err != nil {
		return nil, err
	}
	if deleted.Valid {
		m.DeletedAt = &deleted.Time
	}
	return m, nil
}

// Create inserts the message and reads the row back so the caller sees the
// store-assigned timestamps (created_at also drives the conversation-touch
// trigger).
func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, attachment_url, attachment_type, is_read, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, m.ID, m.ConversationID, m.SenderID, m.Content, m.AttachmentURL, m.AttachmentType)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	created, err := r.GetByID(ctx, m.ID)
	if err != nil {
		return err
	}
	if created != nil {
		*m = *created
	}
	return nil
}

// GetByID resolves a message by id, including soft-deleted rows.
func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = ?
	`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ListForConversation returns a page of non-deleted messages in ascending
// created_at order. Offset counts from the newest message backwards, so
// offset=0 is the latest page.
func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID string, limit, offset int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse to chronological order (query returns DESC).
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (r *MessageRepo) lastForConversation(ctx context.Context, conversationID string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, conversationID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message: %w", err)
	}
	return m, nil
}

// MarkRead flags every unread message from the counterpart as read.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID, readerID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read = 1, updated_at = CURRENT_TIMESTAMP
		WHERE conversation_id = ? AND sender_id <> ? AND is_read = 0 AND deleted_at IS NULL
	`, conversationID, readerID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// SoftDelete marks the message deleted, constrained to rows owned by
// senderID. Returns whether a row was affected.
func (r *MessageRepo) SoftDelete(ctx context.Context, id, senderID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND sender_id = ? AND deleted_at IS NULL
	`, id, senderID)
	if err != nil {
		return false, fmt.Errorf("soft delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// UnreadCount counts unread, non-deleted messages sent by the counterpart.
func (r *MessageRepo) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = ? AND sender_id <> ? AND is_read = 0 AND deleted_at IS NULL
	`, conversationID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}
