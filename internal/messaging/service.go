package messaging

import (
	"context"
	"fmt"
	"log"

	"github.com/emotionsapp/messaging/internal/domain"
	"github.com/emotionsapp/messaging/internal/notify"
	"github.com/emotionsapp/messaging/internal/realtime"
)

const maxContentRunes = 5000

// SendInput carries one outbound message.
type SendInput struct {
	ConversationID string
	SenderID       string
	Content        string
	AttachmentURL  *string
	AttachmentType *string
}

// API is the single entry point for conversation and message operations.
// It is implemented by Service and mocked in tests; UI contexts receive it
// injected instead of constructing their own instance.
type API interface {
	GetOrCreateConversation(ctx context.Context, userA, userB, appointmentID string) (*domain.Conversation, error)
	ListUserConversations(ctx context.Context, userID string) ([]*domain.ConversationSummary, error)
	ListConversationMessages(ctx context.Context, conversationID string, limit, offset int) ([]*domain.Message, error)
	SendMessage(ctx context.Context, in SendInput) (*domain.Message, error)
	MarkMessagesAsRead(ctx context.Context, conversationID, userID string) error
	DeleteMessage(ctx context.Context, messageID, userID string) error
	GetConversationByAppointment(ctx context.Context, appointmentID string) (*domain.Conversation, error)
	Subscribe(conversationID string, fn realtime.MessageHandler) *realtime.Subscription
}

// Service translates messaging operations into store calls and adds the
// cross-cutting side effects: realtime publish and best-effort notification
// of the counterpart.
type Service struct {
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository
	users         domain.UserRepository
	broker        *realtime.Broker
	notifier      notify.Dispatcher
}

var _ API = (*Service)(nil)

func NewService(
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
	users domain.UserRepository,
	broker *realtime.Broker,
	notifier notify.Dispatcher,
) *Service {
	return &Service{
		conversations: conversations,
		participants:  participants,
		messages:      messages,
		users:         users,
		broker:        broker,
		notifier:      notifier,
	}
}

// GetOrCreateConversation idempotently resolves the conversation for the
// unordered pair, creating it on first contact. The appointment link is an
// enrichment: a failed link is logged, never fatal.
func (s *Service) GetOrCreateConversation(ctx context.Context, userA, userB, appointmentID string) (*domain.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("%w: both user ids are required", domain.ErrValidation)
	}
	if userA == userB {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", domain.ErrValidation)
	}

	conv, err := s.conversations.GetOrCreate(ctx, userA, userB)
	if err != nil {
		return nil, domain.Backendf("get or create conversation", err)
	}

	if appointmentID != "" {
		if err := s.conversations.LinkAppointment(ctx, conv.ID, appointmentID); err != nil {
			log.Printf("messaging: link appointment %s to conversation %s: %v", appointmentID, conv.ID, err)
		}
	}
	return conv, nil
}

// ListUserConversations returns the caller's inbox, most recently active
// first. The fetch is all-or-nothing.
func (s *Service) ListUserConversations(ctx context.Context, userID string) ([]*domain.ConversationSummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	summaries, err := s.conversations.ListSummaries(ctx, userID)
	if err != nil {
		return nil, domain.Backendf("list conversations", err)
	}
	return summaries, nil
}

// ListConversationMessages returns a page of non-deleted messages in
// chronological order. Offset pages backwards from the newest message.
func (s *Service) ListConversationMessages(ctx context.Context, conversationID string, limit, offset int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	msgs, err := s.messages.ListForConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, domain.Backendf("list messages", err)
	}
	return msgs, nil
}

// SendMessage validates membership explicitly, inserts the message, and
// publishes it on the realtime broker. Notification of the counterpart is
// best-effort and never fails the send.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (*domain.Message, error) {
	hasAttachment := in.AttachmentURL != nil && *in.AttachmentURL != ""
	if in.Content == "" && !hasAttachment {
		return nil, fmt.Errorf("%w: message content cannot be empty", domain.ErrValidation)
	}
	if len([]rune(in.Content)) > maxContentRunes {
		return nil, fmt.Errorf("%w: message content exceeds %d characters", domain.ErrValidation, maxContentRunes)
	}

	conv, err := s.conversations.GetByID(ctx, in.ConversationID)
	if err != nil {
		return nil, domain.Backendf("get conversation", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %s", domain.ErrNotFound, in.ConversationID)
	}
	isParticipant, err := s.participants.IsParticipant(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, domain.Backendf("check participant", err)
	}
	if !isParticipant {
		return nil, fmt.Errorf("%w: sender is not a participant", domain.ErrPermission)
	}

	msg := &domain.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		AttachmentURL:  in.AttachmentURL,
		AttachmentType: in.AttachmentType,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, domain.Backendf("create message", err)
	}

	s.broker.Publish(*msg)
	s.notifyCounterpart(ctx, conv, msg)

	return msg, nil
}

func (s *Service) notifyCounterpart(ctx context.Context, conv *domain.Conversation, msg *domain.Message) {
	if s.notifier == nil {
		return
	}
	recipient := conv.Other(msg.SenderID)
	if recipient == "" {
		return
	}

	title := "New message"
	if sender, err := s.users.GetByID(ctx, msg.SenderID); err == nil && sender != nil {
		title = "New message from " + sender.DisplayName
	}
	body := notify.Preview(msg.Content, 80)
	if body == "" {
		body = "Sent an attachment"
	}

	err := s.notifier.Dispatch(ctx, &domain.Notification{
		UserID: recipient,
		Title:  title,
		Body:   body,
		Kind:   domain.NotificationKindMessage,
		Link:   "/messages/" + conv.ID,
	})
	if err != nil {
		log.Printf("messaging: notify user %s: %v", recipient, err)
	}
}

// MarkMessagesAsRead flags the counterpart's unread messages as read, then
// advances the caller's read cursor. The two steps are not atomic: if the
// cursor update fails the read flags stay correct and the unread count can
// transiently disagree until the next mark. Not retried.
func (s *Service) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) error {
	if err := s.messages.MarkRead(ctx, conversationID, userID); err != nil {
		return domain.Backendf("mark messages read", err)
	}
	if err := s.participants.TouchLastRead(ctx, conversationID, userID); err != nil {
		log.Printf("messaging: advance read cursor for %s in %s: %v", userID, conversationID, err)
	}
	return nil
}

// DeleteMessage soft-deletes a message owned by userID. Deleting another
// participant's message fails with ErrPermission.
func (s *Service) DeleteMessage(ctx context.Context, messageID, userID string) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return domain.Backendf("get message", err)
	}
	if msg == nil {
		return fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
	}
	if msg.SenderID != userID {
		return fmt.Errorf("%w: only the sender may delete a message", domain.ErrPermission)
	}

	if _, err := s.messages.SoftDelete(ctx, messageID, userID); err != nil {
		return domain.Backendf("delete message", err)
	}
	return nil
}

// GetConversationByAppointment treats "no conversation" as a normal empty
// result, not an error.
func (s *Service) GetConversationByAppointment(ctx context.Context, appointmentID string) (*domain.Conversation, error) {
	if appointmentID == "" {
		return nil, fmt.Errorf("%w: appointment id is required", domain.ErrValidation)
	}
	conv, err := s.conversations.GetByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, domain.Backendf("get conversation by appointment", err)
	}
	return conv, nil
}

// Subscribe opens a realtime subscription scoped to one conversation.
func (s *Service) Subscribe(conversationID string, fn realtime.MessageHandler) *realtime.Subscription {
	return s.broker.Subscribe(conversationID, fn)
}
