package realtime_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/emotionsapp/messaging/internal/domain"
	"github.com/emotionsapp/messaging/internal/realtime"
)

func TestBrokerDeliversToConversationSubscribers(t *testing.T) {
	b := realtime.NewBroker()

	got := make(chan domain.Message, 1)
	sub := b.Subscribe("c1", func(m domain.Message) { got <- m })
	defer sub.Unsubscribe()

	other := make(chan domain.Message, 1)
	otherSub := b.Subscribe("c2", func(m domain.Message) { other <- m })
	defer otherSub.Unsubscribe()

	n := b.Publish(domain.Message{ID: "m1", ConversationID: "c1"})
	assert.Equal(t, 1, n)

	select {
	case m := <-got:
		assert.Equal(t, "m1", m.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive message")
	}

	select {
	case <-other:
		t.Fatal("message leaked into another conversation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := realtime.NewBroker()

	got := make(chan domain.Message, 1)
	sub := b.Subscribe("c1", func(m domain.Message) { got <- m })
	assert.Equal(t, 1, b.SubscriberCount("c1"))

	sub.Unsubscribe()
	assert.Equal(t, 0, b.SubscriberCount("c1"))

	n := b.Publish(domain.Message{ID: "m1", ConversationID: "c1"})
	assert.Equal(t, 0, n)

	// Unsubscribe is idempotent.
	sub.Unsubscribe()
}

func TestPublishWithoutSubscribersIsANoop(t *testing.T) {
	b := realtime.NewBroker()
	assert.Equal(t, 0, b.Publish(domain.Message{ID: "m1", ConversationID: "empty"}))
}
