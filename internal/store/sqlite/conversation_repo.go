package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/emotionsapp/messaging/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

// canonicalPair orders the unordered participant pair so that (A,B) and
// (B,A) address the same conversation row.
func canonicalPair(userA, userB string) (string, string) {
	if userB < userA {
		return userB, userA
	}
	return userA, userB
}

const conversationColumns = `id, user1_id, user2_id, appointment_id, created_at, updated_at, last_message_at`

func scanConversation(row interface{ Scan(...any) error }) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	var lastMsg sql.NullTime
	err := row.Scan(
		&c.ID,
		&c.User1ID,
		&c.User2ID,
		&c.AppointmentID,
		&c.CreatedAt,
		&c.UpdatedAt,
		&lastMsg,
	)
	if err != nil {
		return nil, err
	}
	if lastMsg.Valid {
		c.LastMessageAt = &lastMsg.Time
	}
	return c, nil
}

// GetOrCreate resolves the conversation for the unordered pair, creating it
// (with both participant rows) when absent. Concurrent creators race on the
// unique pair index; the loser re-reads the winner's row.
func (r *ConversationRepo) GetOrCreate(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	u1, u2 := canonicalPair(userA, userB)

	existing, err := r.findByPair(ctx, u1, u2)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, user1_id, user2_id, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, id, u1, u2); err != nil {
		// Unique violation means a concurrent creator won.
		if existing, ferr := r.findByPair(ctx, u1, u2); ferr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	for _, uid := range []string{u1, u2} {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
		`, id, uid); err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *ConversationRepo) findByPair(ctx context.Context, u1, u2 string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user1_id = ? AND user2_id = ?
	`, u1, u2)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation by pair: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = ?
	`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// GetByAppointment treats "no row" as a normal empty result.
func (r *ConversationRepo) GetByAppointment(ctx context.Context, appointmentID string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE appointment_id = ?
		LIMIT 1
	`, appointmentID)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation by appointment: %w", err)
	}
	return c, nil
}

// LinkAppointment records the originating appointment on a conversation
// that does not have one yet. Already-linked conversations are left alone.
func (r *ConversationRepo) LinkAppointment(ctx context.Context, conversationID, appointmentID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET appointment_id = ?
		WHERE id = ? AND appointment_id IS NULL
	`, appointmentID, conversationID)
	if err != nil {
		return fmt.Errorf("link appointment: %w", err)
	}
	return nil
}

// ListSummaries returns the caller's inbox, most recently active first:
// counterpart profile, last non-deleted message, and unread count per row.
func (r *ConversationRepo) ListSummaries(ctx context.Context, userID string) ([]*domain.ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.user1_id, c.user2_id, c.appointment_id, c.created_at, c.updated_at, c.last_message_at,
			u.id, u.username, u.display_name, u.avatar_url, u.role, u.is_active, u.created_at,
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id
				AND m.sender_id <> ?
				AND m.is_read = 0
				AND m.deleted_at IS NULL)
		FROM conversations c
		JOIN users u ON u.id = CASE WHEN c.user1_id = ? THEN c.user2_id ELSE c.user1_id END
		WHERE c.user1_id = ? OR c.user2_id = ?
		ORDER BY COALESCE(c.last_message_at, c.updated_at) DESC
	`, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var res []*domain.ConversationSummary
	for rows.Next() {
		s := &domain.ConversationSummary{}
		var lastMsg sql.NullTime
		if err := rows.Scan(
			&s.Conversation.ID,
			&s.Conversation.User1ID,
			&s.Conversation.User2ID,
			&s.Conversation.AppointmentID,
			&s.Conversation.CreatedAt,
			&s.Conversation.UpdatedAt,
			&lastMsg,
			&s.Other.ID,
			&s.Other.Username,
			&s.Other.DisplayName,
			&s.Other.AvatarURL,
			&s.Other.Role,
			&s.Other.IsActive,
			&s.Other.CreatedAt,
			&s.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if lastMsg.Valid {
			s.Conversation.LastMessageAt = &lastMsg.Time
		}
		s.HasUnread = s.UnreadCount > 0
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}

	// One extra query per conversation for the preview keeps the main query
	// flat; inbox sizes here are small (one row per counterpart).
	msgRepo := NewMessageRepo(r.db)
	for _, s := range res {
		last, err := msgRepo.lastForConversation(ctx, s.Conversation.ID)
		if err != nil {
			return nil, err
		}
		s.LastMessage = last
	}
	return res, nil
}
