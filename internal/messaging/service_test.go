package messaging_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/emotionsapp/messaging/internal/domain"
	"github.com/emotionsapp/messaging/internal/messaging"
	"github.com/emotionsapp/messaging/internal/realtime"
)

type MockConversationRepo struct {
	mock.Mock
}

func (m *MockConversationRepo) GetOrCreate(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) GetByAppointment(ctx context.Context, appointmentID string) (*domain.Conversation, error) {
	args := m.Called(ctx, appointmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) LinkAppointment(ctx context.Context, conversationID, appointmentID string) error {
	args := m.Called(ctx, conversationID, appointmentID)
	return args.Error(0)
}

func (m *MockConversationRepo) ListSummaries(ctx context.Context, userID string) ([]*domain.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ConversationSummary), args.Error(1)
}

type MockParticipantRepo struct {
	mock.Mock
}

func (m *MockParticipantRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockParticipantRepo) ListParticipants(ctx context.Context, conversationID string) ([]*domain.User, error) {
	return nil, nil
}

func (m *MockParticipantRepo) TouchLastRead(ctx context.Context, conversationID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

type MockMessageRepo struct {
	mock.Mock
}

func (m *MockMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	if args.Error(0) == nil {
		msg.ID = "server-id"
		msg.CreatedAt = time.Now()
	}
	return args.Error(0)
}

func (m *MockMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) ListForConversation(ctx context.Context, conversationID string, limit, offset int) ([]*domain.Message, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) MarkRead(ctx context.Context, conversationID, readerID string) error {
	args := m.Called(ctx, conversationID, readerID)
	return args.Error(0)
}

func (m *MockMessageRepo) SoftDelete(ctx context.Context, id, senderID string) (bool, error) {
	args := m.Called(ctx, id, senderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepo) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(ctx context.Context, u *domain.User) error { return nil }

func (m *MockUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return nil, nil
}

func (m *MockUserRepo) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	return nil, nil
}

// capturingDispatcher records dispatched notifications, optionally failing.
type capturingDispatcher struct {
	sent []*domain.Notification
	err  error
}

func (d *capturingDispatcher) Dispatch(ctx context.Context, n *domain.Notification) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, n)
	return nil
}

func (d *capturingDispatcher) Close() error { return nil }

type fixture struct {
	convs    *MockConversationRepo
	parts    *MockParticipantRepo
	msgs     *MockMessageRepo
	users    *MockUserRepo
	broker   *realtime.Broker
	notifier *capturingDispatcher
	svc      *messaging.Service
}

func newFixture() *fixture {
	f := &fixture{
		convs:    new(MockConversationRepo),
		parts:    new(MockParticipantRepo),
		msgs:     new(MockMessageRepo),
		users:    new(MockUserRepo),
		broker:   realtime.NewBroker(),
		notifier: &capturingDispatcher{},
	}
	f.svc = messaging.NewService(f.convs, f.parts, f.msgs, f.users, f.broker, f.notifier)
	return f
}

func TestGetOrCreateConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("RejectsSelfConversation", func(t *testing.T) {
		f := newFixture()
		conv, err := f.svc.GetOrCreateConversation(ctx, "a", "a", "")
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Nil(t, conv)
		f.convs.AssertNotCalled(t, "GetOrCreate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("RejectsMissingIDs", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.GetOrCreateConversation(ctx, "", "b", "")
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = f.svc.GetOrCreateConversation(ctx, "a", "", "")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("ResolvesExistingPair", func(t *testing.T) {
		f := newFixture()
		existing := &domain.Conversation{ID: "c1", User1ID: "a", User2ID: "b"}
		f.convs.On("GetOrCreate", mock.Anything, "a", "b").Return(existing, nil)

		conv, err := f.svc.GetOrCreateConversation(ctx, "a", "b", "")
		assert.NoError(t, err)
		assert.Equal(t, "c1", conv.ID)
	})

	t.Run("AppointmentLinkFailureIsNotFatal", func(t *testing.T) {
		f := newFixture()
		existing := &domain.Conversation{ID: "c1", User1ID: "a", User2ID: "b"}
		f.convs.On("GetOrCreate", mock.Anything, "a", "b").Return(existing, nil)
		f.convs.On("LinkAppointment", mock.Anything, "c1", "appt-1").Return(errors.New("boom"))

		conv, err := f.svc.GetOrCreateConversation(ctx, "a", "b", "appt-1")
		assert.NoError(t, err)
		assert.Equal(t, "c1", conv.ID)
		f.convs.AssertCalled(t, "LinkAppointment", mock.Anything, "c1", "appt-1")
	})

	t.Run("WrapsStoreFailure", func(t *testing.T) {
		f := newFixture()
		f.convs.On("GetOrCreate", mock.Anything, "a", "b").Return(nil, errors.New("connection refused"))

		_, err := f.svc.GetOrCreateConversation(ctx, "a", "b", "")
		var be *domain.BackendError
		assert.ErrorAs(t, err, &be)
	})
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()
	conv := &domain.Conversation{ID: "c1", User1ID: "a", User2ID: "b"}

	t.Run("RejectsEmptyContentWithoutAttachment", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.SendMessage(ctx, messaging.SendInput{ConversationID: "c1", SenderID: "a"})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("AllowsEmptyContentWithAttachment", func(t *testing.T) {
		f := newFixture()
		url := "https://files.example/x.png"
		kind := "image"
		f.convs.On("GetByID", mock.Anything, "c1").Return(conv, nil)
		f.parts.On("IsParticipant", mock.Anything, "c1", "a").Return(true, nil)
		f.msgs.On("Create", mock.Anything, mock.Anything).Return(nil)
		f.users.On("GetByID", mock.Anything, "a").Return(&domain.User{ID: "a", DisplayName: "Alice"}, nil)

		msg, err := f.svc.SendMessage(ctx, messaging.SendInput{
			ConversationID: "c1", SenderID: "a",
			AttachmentURL: &url, AttachmentType: &kind,
		})
		assert.NoError(t, err)
		assert.Equal(t, "server-id", msg.ID)
	})

	t.Run("ConversationMissing", func(t *testing.T) {
		f := newFixture()
		f.convs.On("GetByID", mock.Anything, "nope").Return(nil, nil)

		_, err := f.svc.SendMessage(ctx, messaging.SendInput{ConversationID: "nope", SenderID: "a", Content: "hi"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		f.msgs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("NonParticipantIsRejected", func(t *testing.T) {
		f := newFixture()
		f.convs.On("GetByID", mock.Anything, "c1").Return(conv, nil)
		f.parts.On("IsParticipant", mock.Anything, "c1", "eve").Return(false, nil)

		_, err := f.svc.SendMessage(ctx, messaging.SendInput{ConversationID: "c1", SenderID: "eve", Content: "hi"})
		assert.ErrorIs(t, err, domain.ErrPermission)
		f.msgs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("PublishesAndNotifies", func(t *testing.T) {
		f := newFixture()
		f.convs.On("GetByID", mock.Anything, "c1").Return(conv, nil)
		f.parts.On("IsParticipant", mock.Anything, "c1", "a").Return(true, nil)
		f.msgs.On("Create", mock.Anything, mock.Anything).Return(nil)
		f.users.On("GetByID", mock.Anything, "a").Return(&domain.User{ID: "a", DisplayName: "Alice"}, nil)

		received := make(chan domain.Message, 1)
		sub := f.broker.Subscribe("c1", func(m domain.Message) { received <- m })
		defer sub.Unsubscribe()

		msg, err := f.svc.SendMessage(ctx, messaging.SendInput{ConversationID: "c1", SenderID: "a", Content: "hi"})
		assert.NoError(t, err)
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, "a", msg.SenderID)

		select {
		case got := <-received:
			assert.Equal(t, msg.ID, got.ID)
		case <-time.After(time.Second):
			t.Fatal("no realtime delivery")
		}

		if assert.Len(t, f.notifier.sent, 1) {
			n := f.notifier.sent[0]
			assert.Equal(t, "b", n.UserID)
			assert.Equal(t, domain.NotificationKindMessage, n.Kind)
			assert.Equal(t, "New message from Alice", n.Title)
			assert.Equal(t, "/messages/c1", n.Link)
		}
	})

	t.Run("NotificationFailureIsSwallowed", func(t *testing.T) {
		f := newFixture()
		f.notifier.err = errors.New("queue down")
		f.convs.On("GetByID", mock.Anything, "c1").Return(conv, nil)
		f.parts.On("IsParticipant", mock.Anything, "c1", "a").Return(true, nil)
		f.msgs.On("Create", mock.Anything, mock.Anything).Return(nil)
		f.users.On("GetByID", mock.Anything, "a").Return(&domain.User{ID: "a", DisplayName: "Alice"}, nil)

		_, err := f.svc.SendMessage(ctx, messaging.SendInput{ConversationID: "c1", SenderID: "a", Content: "hi"})
		assert.NoError(t, err)
	})
}

func TestMarkMessagesAsRead(t *testing.T) {
	ctx := context.Background()

	t.Run("TwoStepHappyPath", func(t *testing.T) {
		f := newFixture()
		f.msgs.On("MarkRead", mock.Anything, "c1", "b").Return(nil)
		f.parts.On("TouchLastRead", mock.Anything, "c1", "b").Return(nil)

		assert.NoError(t, f.svc.MarkMessagesAsRead(ctx, "c1", "b"))
		f.parts.AssertCalled(t, "TouchLastRead", mock.Anything, "c1", "b")
	})

	t.Run("CursorFailureAfterFlagsIsAccepted", func(t *testing.T) {
		f := newFixture()
		f.msgs.On("MarkRead", mock.Anything, "c1", "b").Return(nil)
		f.parts.On("TouchLastRead", mock.Anything, "c1", "b").Return(errors.New("timeout"))

		// Read flags are correct; the cursor catches up on the next mark.
		assert.NoError(t, f.svc.MarkMessagesAsRead(ctx, "c1", "b"))
	})

	t.Run("FlagFailureIsReturned", func(t *testing.T) {
		f := newFixture()
		f.msgs.On("MarkRead", mock.Anything, "c1", "b").Return(errors.New("timeout"))

		err := f.svc.MarkMessagesAsRead(ctx, "c1", "b")
		var be *domain.BackendError
		assert.ErrorAs(t, err, &be)
		f.parts.AssertNotCalled(t, "TouchLastRead", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDeleteMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("OwnerDeletes", func(t *testing.T) {
		f := newFixture()
		f.msgs.On("GetByID", mock.Anything, "m1").Return(&domain.Message{ID: "m1", SenderID: "a"}, nil)
		f.msgs.On("SoftDelete", mock.Anything, "m1", "a").Return(true, nil)

		assert.NoError(t, f.svc.DeleteMessage(ctx, "m1", "a"))
	})

	t.Run("NonOwnerIsForbidden", func(t *testing.T) {
		f := newFixture()
		f.msgs.On("GetByID", mock.Anything, "m1").Return(&domain.Message{ID: "m1", SenderID: "a"}, nil)

		err := f.svc.DeleteMessage(ctx, "m1", "b")
		assert.ErrorIs(t, err, domain.ErrPermission)
		f.msgs.AssertNotCalled(t, "SoftDelete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MissingMessage", func(t *testing.T) {
		f := newFixture()
		f.msgs.On("GetByID", mock.Anything, "ghost").Return(nil, nil)

		assert.ErrorIs(t, f.svc.DeleteMessage(ctx, "ghost", "a"), domain.ErrNotFound)
	})
}

func TestGetConversationByAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("NoRowIsNotAnError", func(t *testing.T) {
		f := newFixture()
		f.convs.On("GetByAppointment", mock.Anything, "appt-9").Return(nil, nil)

		conv, err := f.svc.GetConversationByAppointment(ctx, "appt-9")
		assert.NoError(t, err)
		assert.Nil(t, conv)
	})

	t.Run("EmptyIDRejected", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.GetConversationByAppointment(ctx, "")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}
