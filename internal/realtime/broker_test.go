package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
)

func messageEvent(productID, senderID, recipientID int64) Event {
	return Event{
		Type:        EventMessageCreated,
		Message:     &models.Message{ProductID: productID, SenderID: senderID, RecipientID: recipientID},
		ProductID:   productID,
		SenderID:    senderID,
		RecipientID: recipientID,
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestThreadSubscriptionFiltersByCounterparty(t *testing.T) {
	broker := NewBroker(8)
	defer broker.Close()

	rec := &recorder{}
	sub := broker.SubscribeThread(1, 2, 42, rec.handle)
	defer sub.Unsubscribe()

	// Same product, different buyer: must not be delivered.
	broker.Publish(messageEvent(42, 3, 1))
	// Different product, same pair: must not be delivered.
	broker.Publish(messageEvent(43, 2, 1))
	// Both directions of the subscribed pair are delivered.
	broker.Publish(messageEvent(42, 2, 1))
	broker.Publish(messageEvent(42, 1, 2))

	eventually(t, func() bool { return rec.count() == 2 })
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, rec.count())
}

func TestUserSubscriptionSeesAllInvolvingUser(t *testing.T) {
	broker := NewBroker(8)
	defer broker.Close()

	rec := &recorder{}
	sub := broker.SubscribeUser(1, rec.handle)
	defer sub.Unsubscribe()

	broker.Publish(messageEvent(42, 2, 1))
	broker.Publish(messageEvent(97, 1, 5))
	broker.Publish(messageEvent(42, 2, 3)) // not involving user 1

	eventually(t, func() bool { return rec.count() == 2 })
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, rec.count())
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	broker := NewBroker(8)
	defer broker.Close()

	rec := &recorder{}
	sub := broker.SubscribeUser(1, rec.handle)

	broker.Publish(messageEvent(42, 2, 1))
	eventually(t, func() bool { return rec.count() == 1 })

	sub.Unsubscribe()
	sub.Unsubscribe() // second call must be a no-op

	broker.Publish(messageEvent(42, 2, 1))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, rec.count())
}

func TestClosedBrokerReturnsNoopHandle(t *testing.T) {
	broker := NewBroker(8)
	broker.Close()

	rec := &recorder{}
	sub := broker.SubscribeUser(1, rec.handle)
	require.NotNil(t, sub)

	broker.Publish(messageEvent(42, 2, 1))
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, rec.count())

	require.NotPanics(t, func() {
		sub.Unsubscribe()
		sub.Unsubscribe()
	})
}

func TestNilSubscriptionUnsubscribeIsSafe(t *testing.T) {
	var sub *Subscription
	require.NotPanics(t, sub.Unsubscribe)
}

func TestSlowConsumerDoesNotBlockPublish(t *testing.T) {
	broker := NewBroker(1)
	defer broker.Close()

	block := make(chan struct{})
	sub := broker.SubscribeThread(1, 2, 42, func(Event) { <-block })
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			broker.Publish(messageEvent(42, 2, 1))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow consumer")
	}
	close(block)
}
