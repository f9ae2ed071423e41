package postgres

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

func (r *ConversationRepo) GetOrCreate(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	u1, u2 := canonicalPair(userA, userB)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// ON CONFLICT DO NOTHING makes concurrent creators converge on one row.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, user1_id, user2_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user1_id, user2_id) DO NOTHING
	`, uuid.NewString(), u1, u2); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user1_id = $1 AND user2_id = $2
	`, u1, u2)
	c, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}

	for _, uid := range []string{u1, u2} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, c.ID, uid); err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1
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

func (r *ConversationRepo) GetByAppointment(ctx context.Context, appointmentID string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE appointment_id = $1
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

func (r *ConversationRepo) LinkAppointment(ctx context.Context, conversationID, appointmentID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET appointment_id = $1
		WHERE id = $2 AND appointment_id IS NULL
	`, appointmentID, conversationID)
	if err != nil {
		return fmt.Errorf("link appointment: %w", err)
	}
	return nil
}

func (r *ConversationRepo) ListSummaries(ctx context.Context, userID string) ([]*domain.ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.user1_id, c.user2_id, c.appointment_id, c.created_at, c.updated_at, c.last_message_at,
			u.id, u.username, u.display_name, u.avatar_url, u.role, u.is_active, u.created_at,
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id
				AND m.sender_id <> $1
				AND m.is_read = FALSE
				AND m.deleted_at IS NULL)
		FROM conversations c
		JOIN users u ON u.id = CASE WHEN c.user1_id = $1 THEN c.user2_id ELSE c.user1_id END
		WHERE c.user1_id = $1 OR c.user2_id = $1
		ORDER BY COALESCE(c.last_message_at, c.updated_at) DESC
	`, userID)
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
