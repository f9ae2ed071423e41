package inbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/emotionsapp/messaging/internal/domain"
	"github.com/emotionsapp/messaging/internal/inbox"
	"github.com/emotionsapp/messaging/internal/messaging"
	"github.com/emotionsapp/messaging/internal/realtime"
)

// fakeAPI implements messaging.API with canned responses and a real broker
// so subscription teardown behaves like production.
type fakeAPI struct {
	mu sync.Mutex

	broker    *realtime.Broker
	sendErr   error
	sendCount int
	summaries []*domain.ConversationSummary
	history   []*domain.Message
	marked    []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{broker: realtime.NewBroker()}
}

func (f *fakeAPI) GetOrCreateConversation(ctx context.Context, userA, userB, appointmentID string) (*domain.Conversation, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAPI) ListUserConversations(ctx context.Context, userID string) ([]*domain.ConversationSummary, error) {
	return f.summaries, nil
}

func (f *fakeAPI) ListConversationMessages(ctx context.Context, conversationID string, limit, offset int) ([]*domain.Message, error) {
	return f.history, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, in messaging.SendInput) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sendCount++
	return &domain.Message{
		ID:             "srv-" + in.Content,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		CreatedAt:      time.Now(),
	}, nil
}

func (f *fakeAPI) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, conversationID)
	return nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, messageID, userID string) error {
	return nil
}

func (f *fakeAPI) GetConversationByAppointment(ctx context.Context, appointmentID string) (*domain.Conversation, error) {
	return nil, nil
}

func (f *fakeAPI) Subscribe(conversationID string, fn realtime.MessageHandler) *realtime.Subscription {
	return f.broker.Subscribe(conversationID, fn)
}

func (f *fakeAPI) markedConversations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.marked))
	copy(out, f.marked)
	return out
}

func TestSendConfirmsPlaceholderInPlace(t *testing.T) {
	api := newFakeAPI()
	ib := inbox.New("me", api)

	msg, err := ib.Send(context.Background(), "c1", "hello", nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, "srv-hello", msg.ID)

	entries := ib.Messages("c1")
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "srv-hello", entries[0].Message.ID)
		assert.False(t, entries[0].Pending)
	}
}

func TestSendFailureRemovesPlaceholder(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = errors.New("network down")
	ib := inbox.New("me", api)

	msg, err := ib.Send(context.Background(), "c1", "hello", nil, nil)
	assert.Error(t, err)
	assert.Nil(t, msg)
	assert.Empty(t, ib.Messages("c1"))
}

func TestRealtimeEchoIsDeduplicated(t *testing.T) {
	api := newFakeAPI()
	ib := inbox.New("me", api)

	msg, err := ib.Send(context.Background(), "c1", "hello", nil, nil)
	assert.NoError(t, err)

	// The sender's own echo arrives via realtime after confirmation.
	ib.Merge(*msg)
	assert.Len(t, ib.Messages("c1"), 1)
	assert.Equal(t, 0, ib.Unread("c1"))
}

func TestCounterpartMessageIncrementsUnread(t *testing.T) {
	api := newFakeAPI()
	ib := inbox.New("me", api)

	ib.Merge(domain.Message{ID: "m1", ConversationID: "c1", SenderID: "them", CreatedAt: time.Now()})
	assert.Equal(t, 1, ib.Unread("c1"))

	// Same id again: idempotent, no double count.
	ib.Merge(domain.Message{ID: "m1", ConversationID: "c1", SenderID: "them", CreatedAt: time.Now()})
	assert.Equal(t, 1, ib.Unread("c1"))
	assert.Len(t, ib.Messages("c1"), 1)
}

func TestOpenResetsUnreadAndMarksRead(t *testing.T) {
	api := newFakeAPI()
	ib := inbox.New("me", api)

	ib.Merge(domain.Message{ID: "m1", ConversationID: "c1", SenderID: "them", CreatedAt: time.Now()})
	assert.Equal(t, 1, ib.Unread("c1"))

	assert.NoError(t, ib.Open(context.Background(), "c1"))
	assert.Equal(t, 0, ib.Unread("c1"))
	assert.Equal(t, []string{"c1"}, api.markedConversations())

	// Messages arriving in the open conversation do not count as unread.
	ib.Merge(domain.Message{ID: "m2", ConversationID: "c1", SenderID: "them", CreatedAt: time.Now()})
	assert.Equal(t, 0, ib.Unread("c1"))
}

func TestOpenTearsDownPreviousSubscription(t *testing.T) {
	api := newFakeAPI()
	ib := inbox.New("me", api)

	assert.NoError(t, ib.Open(context.Background(), "c1"))
	assert.Equal(t, 1, api.broker.SubscriberCount("c1"))

	assert.NoError(t, ib.Open(context.Background(), "c2"))
	assert.Equal(t, 0, api.broker.SubscriberCount("c1"))
	assert.Equal(t, 1, api.broker.SubscriberCount("c2"))
	assert.Equal(t, "c2", ib.Current())

	ib.Close()
	assert.Equal(t, 0, api.broker.SubscriberCount("c2"))
	assert.Equal(t, "", ib.Current())
}

func TestMergeSortsLateArrivalsByTimestamp(t *testing.T) {
	api := newFakeAPI()
	ib := inbox.New("me", api)

	base := time.Now()
	ib.Merge(domain.Message{ID: "m2", ConversationID: "c1", SenderID: "them", CreatedAt: base.Add(2 * time.Second)})
	ib.Merge(domain.Message{ID: "m1", ConversationID: "c1", SenderID: "them", CreatedAt: base.Add(1 * time.Second)})
	ib.Merge(domain.Message{ID: "m3", ConversationID: "c1", SenderID: "them", CreatedAt: base.Add(3 * time.Second)})

	entries := ib.Messages("c1")
	if assert.Len(t, entries, 3) {
		assert.Equal(t, "m1", entries[0].Message.ID)
		assert.Equal(t, "m2", entries[1].Message.ID)
		assert.Equal(t, "m3", entries[2].Message.ID)
	}
}

func TestRealtimeDeliveryIntoOpenConversation(t *testing.T) {
	api := newFakeAPI()
	ib := inbox.New("me", api)
	assert.NoError(t, ib.Open(context.Background(), "c1"))

	api.broker.Publish(domain.Message{ID: "m1", ConversationID: "c1", SenderID: "them", CreatedAt: time.Now()})

	assert.Eventually(t, func() bool {
		return len(ib.Messages("c1")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestLoadSeedsUnreadFromServer(t *testing.T) {
	api := newFakeAPI()
	api.summaries = []*domain.ConversationSummary{
		{
			Conversation: domain.Conversation{ID: "c1", User1ID: "me", User2ID: "them"},
			Other:        domain.User{ID: "them", DisplayName: "Them"},
			UnreadCount:  3,
		},
	}
	ib := inbox.New("me", api)

	assert.NoError(t, ib.Load(context.Background()))
	assert.Equal(t, 3, ib.Unread("c1"))
}
