package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/emotionsapp/messaging/internal/domain"
)

// MessageHandler receives inserted messages for a subscribed conversation.
// Handlers run on a per-subscription goroutine; they must not block for long
// or events will be dropped.
type MessageHandler func(msg domain.Message)

// subscription buffer size. A slow consumer loses events rather than
// stalling the publisher; clients recover authoritative state by re-reading
// the message list.
const subBuffer = 64

// Subscription is a live handle on a conversation's insert stream.
// Unsubscribe releases the underlying channel and is safe to call twice.
type Subscription struct {
	ID             string
	ConversationID string

	broker *Broker
	events chan domain.Message
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe detaches the handle from the broker and stops delivery.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.done)
	})
}

// Broker is the in-process change-notification stream: message inserts are
// published once and fanned out to every subscription scoped to that
// conversation id.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // conversationID -> subID -> sub
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers fn for inserts on the given conversation and returns
// the handle that releases it.
func (b *Broker) Subscribe(conversationID string, fn MessageHandler) *Subscription {
	sub := &Subscription{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		broker:         b,
		events:         make(chan domain.Message, subBuffer),
		done:           make(chan struct{}),
	}

	b.mu.Lock()
	room := b.subs[conversationID]
	if room == nil {
		room = make(map[string]*Subscription)
		b.subs[conversationID] = room
	}
	room[sub.ID] = sub
	b.mu.Unlock()

	go sub.deliver(fn)
	return sub
}

func (s *Subscription) deliver(fn MessageHandler) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.events:
			select {
			case <-s.done:
				return
			default:
			}
			fn(msg)
		}
	}
}

// Publish fans msg out to every subscription on its conversation. Delivery
// is non-blocking: a full subscription buffer drops the event.
func (b *Broker) Publish(msg domain.Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subs[msg.ConversationID] {
		select {
		case sub.events <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room, ok := b.subs[sub.ConversationID]; ok {
		delete(room, sub.ID)
		if len(room) == 0 {
			delete(b.subs, sub.ConversationID)
		}
	}
}

// SubscriberCount reports active subscriptions for a conversation.
func (b *Broker) SubscriberCount(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[conversationID])
}
