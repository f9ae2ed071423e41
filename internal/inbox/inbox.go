// Package inbox holds the client-side conversation state: message lists
// reconciled between optimistic local sends and realtime server pushes,
// plus per-conversation unread counters. State here is ephemeral; a reload
// rebuilds it from the messaging service, which stays authoritative.
package inbox

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emotionsapp/messaging/internal/domain"
	"github.com/emotionsapp/messaging/internal/messaging"
	"github.com/emotionsapp/messaging/internal/realtime"
)

// Entry is one rendered message. Pending marks an optimistic send that the
// backend has not confirmed yet; confirmed and inbound entries have it
// unset. A failed send is removed outright, so there is no failed state to
// render.
type Entry struct {
	Message domain.Message
	Pending bool
}

// ConversationView is the hydrated per-conversation aggregate.
type ConversationView struct {
	Conversation domain.Conversation
	Other        domain.User
	Entries      []Entry
	Unread       int
}

// Inbox reconciles one user's conversation state. Safe for concurrent use;
// realtime callbacks arrive on broker goroutines.
type Inbox struct {
	mu     sync.Mutex
	userID string
	api    messaging.API

	views   map[string]*ConversationView
	current string
	sub     *realtime.Subscription
}

func New(userID string, api messaging.API) *Inbox {
	return &Inbox{
		userID: userID,
		api:    api,
		views:  make(map[string]*ConversationView),
	}
}

// Load rebuilds the conversation list from the backend. Unread counters are
// reset to the authoritative server-derived counts.
func (ib *Inbox) Load(ctx context.Context) error {
	summaries, err := ib.api.ListUserConversations(ctx, ib.userID)
	if err != nil {
		return err
	}

	ib.mu.Lock()
	defer ib.mu.Unlock()
	for _, s := range summaries {
		v := ib.views[s.Conversation.ID]
		if v == nil {
			v = &ConversationView{}
			ib.views[s.Conversation.ID] = v
		}
		v.Conversation = s.Conversation
		v.Other = s.Other
		v.Unread = s.UnreadCount
	}
	return nil
}

// Open makes conversationID the active conversation: the previous realtime
// subscription is released first (never duplicate delivery, never a leaked
// channel), message history is fetched, the unread counter is zeroed
// immediately, and the backend read-state update is issued.
func (ib *Inbox) Open(ctx context.Context, conversationID string) error {
	ib.mu.Lock()
	prev := ib.sub
	ib.sub = nil
	ib.mu.Unlock()
	if prev != nil {
		prev.Unsubscribe()
	}

	msgs, err := ib.api.ListConversationMessages(ctx, conversationID, 50, 0)
	if err != nil {
		return err
	}

	ib.mu.Lock()
	v := ib.views[conversationID]
	if v == nil {
		v = &ConversationView{}
		ib.views[conversationID] = v
	}
	v.Entries = v.Entries[:0]
	for _, m := range msgs {
		v.Entries = append(v.Entries, Entry{Message: *m})
	}
	v.Unread = 0
	ib.current = conversationID
	ib.sub = ib.api.Subscribe(conversationID, ib.Merge)
	ib.mu.Unlock()

	// Client-side counter is already zero; the backend catches up
	// asynchronously from the caller's perspective.
	if err := ib.api.MarkMessagesAsRead(ctx, conversationID, ib.userID); err != nil {
		log.Printf("inbox: mark read %s: %v", conversationID, err)
	}
	return nil
}

// Close releases the active subscription, if any.
func (ib *Inbox) Close() {
	ib.mu.Lock()
	sub := ib.sub
	ib.sub = nil
	ib.current = ""
	ib.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Send runs the optimistic send path: a placeholder entry appears before
// the backend call, is confirmed in place on success, and is removed on
// failure. Failure is terminal per attempt; the caller surfaces it.
func (ib *Inbox) Send(ctx context.Context, conversationID, content string, attachmentURL, attachmentType *string) (*domain.Message, error) {
	placeholder := domain.Message{
		ID:             "pending-" + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       ib.userID,
		Content:        content,
		AttachmentURL:  attachmentURL,
		AttachmentType: attachmentType,
	}

	ib.mu.Lock()
	v := ib.views[conversationID]
	if v == nil {
		v = &ConversationView{}
		ib.views[conversationID] = v
	}
	v.Entries = append(v.Entries, Entry{Message: placeholder, Pending: true})
	ib.mu.Unlock()

	msg, err := ib.api.SendMessage(ctx, messaging.SendInput{
		ConversationID: conversationID,
		SenderID:       ib.userID,
		Content:        content,
		AttachmentURL:  attachmentURL,
		AttachmentType: attachmentType,
	})

	ib.mu.Lock()
	ib.reconcile(conversationID, placeholder.ID, msg)
	ib.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return msg, nil
}

// reconcile resolves one optimistic placeholder: confirmed in place when
// the backend returned the created message, removed when it did not.
// Confirmation never reorders entries. Callers hold mu.
func (ib *Inbox) reconcile(conversationID, placeholderID string, confirmed *domain.Message) {
	v := ib.views[conversationID]
	if v == nil {
		return
	}
	for i := range v.Entries {
		if v.Entries[i].Message.ID != placeholderID {
			continue
		}
		if confirmed == nil {
			v.Entries = append(v.Entries[:i], v.Entries[i+1:]...)
		} else {
			v.Entries[i] = Entry{Message: *confirmed}
		}
		return
	}
}

// Merge applies an inbound realtime message. The merge is idempotent on
// message id (the sender's own echo is discarded), inserts by created_at so
// late-arriving out-of-order messages land in timestamp order, and bumps
// the unread counter only for counterpart messages in conversations that
// are not currently open.
func (ib *Inbox) Merge(msg domain.Message) {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	v := ib.views[msg.ConversationID]
	if v == nil {
		v = &ConversationView{}
		ib.views[msg.ConversationID] = v
	}

	for i := range v.Entries {
		if v.Entries[i].Message.ID == msg.ID {
			return
		}
	}

	// Stable insert by created_at: after every entry that is not newer.
	pos := len(v.Entries)
	for pos > 0 && v.Entries[pos-1].Message.CreatedAt.After(msg.CreatedAt) && !v.Entries[pos-1].Pending {
		pos--
	}
	v.Entries = append(v.Entries, Entry{})
	copy(v.Entries[pos+1:], v.Entries[pos:])
	v.Entries[pos] = Entry{Message: msg}

	if msg.CreatedAt.After(valueOrZero(v.Conversation.LastMessageAt)) {
		t := msg.CreatedAt
		v.Conversation.LastMessageAt = &t
	}

	if msg.SenderID != ib.userID && ib.current != msg.ConversationID {
		v.Unread++
	}
}

// Messages returns a copy of the rendered entries for a conversation.
func (ib *Inbox) Messages(conversationID string) []Entry {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	v := ib.views[conversationID]
	if v == nil {
		return nil
	}
	out := make([]Entry, len(v.Entries))
	copy(out, v.Entries)
	return out
}

// Unread returns the client-side unread counter for a conversation.
func (ib *Inbox) Unread(conversationID string) int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if v := ib.views[conversationID]; v != nil {
		return v.Unread
	}
	return 0
}

// Current returns the id of the open conversation, or "".
func (ib *Inbox) Current() string {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.current
}

func valueOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
