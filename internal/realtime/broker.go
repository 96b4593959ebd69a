package realtime

import (
	"sync"
	"time"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// Event types fanned out to live subscribers.
const (
	EventMessageCreated = "message"
	EventMessagesRead   = "read"
)

// Event is the unit of realtime delivery. ProductID, SenderID and RecipientID
// are the routing fields: for message events they mirror the message, for
// read events the sender is the reader and the recipient the counterparty
// whose messages were just read.
type Event struct {
	Type        string          `json:"type"`
	Message     *models.Message `json:"message,omitempty"`
	SenderName  string          `json:"sender_name,omitempty"`
	ProductID   int64           `json:"product_id"`
	SenderID    int64           `json:"sender_id"`
	RecipientID int64           `json:"recipient_id"`
	ReadAt      *time.Time      `json:"read_at,omitempty"`
}

// Handler receives events for one subscription. Handlers run on the
// subscription's own goroutine; a slow handler drops events instead of
// blocking publishers.
type Handler func(Event)

type scope struct {
	userID         int64
	counterpartyID int64
	productID      int64
	threadScoped   bool
}

// matches implements the delivery filter. A thread subscription fires only
// when the event's participant pair equals {user, counterparty} and the
// product matches; the same product with a different counterparty is a
// different conversation and stays silent.
func (s scope) matches(ev Event) bool {
	if !s.threadScoped {
		return ev.SenderID == s.userID || ev.RecipientID == s.userID
	}
	if ev.ProductID != s.productID {
		return false
	}
	return (ev.SenderID == s.userID && ev.RecipientID == s.counterpartyID) ||
		(ev.SenderID == s.counterpartyID && ev.RecipientID == s.userID)
}

// Subscription is the cancellable handle returned by the broker. The zero
// handle from a closed broker is a no-op: Unsubscribe never panics and the
// handler is never invoked, so callers keep working in poll-only mode.
type Subscription struct {
	broker *Broker
	id     int64
	events chan Event
	done   chan struct{}
	once   sync.Once
	noop   bool
}

// Unsubscribe stops deliveries and releases the subscription. Safe to call
// any number of times. Events not yet handed to the handler when cancellation
// lands may be discarded.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.noop {
		return
	}
	s.once.Do(func() {
		close(s.done)
		s.broker.remove(s.id)
	})
}

type subscriber struct {
	sub     *Subscription
	scope   scope
	handler Handler
}

// Broker fans events out to scoped in-process subscribers. Each subscription
// owns a bounded queue drained by a dedicated goroutine, so one stuck
// websocket cannot stall the send path.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int64]*subscriber
	nextID int64
	buffer int
	closed bool
}

// NewBroker creates an empty broker. buffer bounds each subscription's queue.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 32
	}
	return &Broker{
		subs:   make(map[int64]*subscriber),
		buffer: buffer,
	}
}

// SubscribeUser delivers every event involving the user, for conversation
// list and unread-badge refresh.
func (b *Broker) SubscribeUser(userID int64, handler Handler) *Subscription {
	return b.subscribe(scope{userID: userID}, handler)
}

// SubscribeThread delivers events for one (product, counterparty)
// conversation of the user.
func (b *Broker) SubscribeThread(userID, counterpartyID, productID int64, handler Handler) *Subscription {
	return b.subscribe(scope{
		userID:         userID,
		counterpartyID: counterpartyID,
		productID:      productID,
		threadScoped:   true,
	}, handler)
}

func (b *Broker) subscribe(sc scope, handler Handler) *Subscription {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return &Subscription{noop: true}
	}
	b.nextID++
	sub := &Subscription{
		broker: b,
		id:     b.nextID,
		events: make(chan Event, b.buffer),
		done:   make(chan struct{}),
	}
	b.subs[sub.id] = &subscriber{sub: sub, scope: sc, handler: handler}
	b.mu.Unlock()

	go deliver(sub, handler)
	return sub
}

func deliver(sub *Subscription, handler Handler) {
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.events:
			// Re-check cancellation so a queue drained after Unsubscribe
			// cannot resurrect handler calls.
			select {
			case <-sub.done:
				return
			default:
			}
			handler(ev)
		}
	}
}

// Publish routes the event to every matching subscription. Callers publish
// only after the message is durably persisted; a full queue drops the event
// for that subscriber rather than blocking.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	matched := make([]*subscriber, 0, 4)
	for _, sub := range b.subs {
		if sub.scope.matches(ev) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		select {
		case sub.sub.events <- ev:
		default:
			observability.IncRealtimeDropped()
		}
	}
}

// Close cancels all subscriptions; later Subscribe calls return no-op handles.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub.sub)
	}
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (b *Broker) remove(id int64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}
