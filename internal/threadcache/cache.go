package threadcache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"messaging-service/internal/models"
)

// Cache merges the messages of one open thread arriving over different
// paths: the initial batch fetch, realtime pushes, and the sender's own
// optimistic entries. The merged view is duplicate-free and chronologically
// ordered regardless of arrival order.
//
// Messages are keyed by id. Content never changes after creation, so an id
// already present is discarded rather than merged; only read_at is mutable
// and has its own apply path.
type Cache struct {
	mu       sync.Mutex
	present  map[int64]int // message id -> index into msgs
	msgs     []models.Message
	nextProv int64
}

// New creates an empty thread cache.
func New() *Cache {
	return &Cache{present: make(map[int64]int)}
}

// Merge inserts the message unless its id is already cached. Returns true
// when the message was new. A message older than already-cached entries lands
// in its chronological position, not at the end.
func (c *Cache) Merge(msg models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.merge(msg)
}

// MergeAll merges a batch, returning how many messages were new.
func (c *Cache) MergeAll(msgs []models.Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, msg := range msgs {
		if c.merge(msg) {
			added++
		}
	}
	return added
}

func (c *Cache) merge(msg models.Message) bool {
	if _, ok := c.present[msg.ID]; ok {
		return false
	}
	c.msgs = append(c.msgs, msg)
	c.reorder()
	return true
}

// AddProvisional records an optimistic local send under a temporary negative
// id, keeping it ordered with the rest of the thread until the store's echo
// arrives.
func (c *Cache) AddProvisional(productID, senderID, recipientID int64, content string) models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextProv--
	msg := models.Message{
		ID:          c.nextProv,
		ProductID:   productID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     strings.TrimSpace(content),
		CreatedAt:   time.Now(),
	}
	c.msgs = append(c.msgs, msg)
	c.reorder()
	return msg
}

// Reconcile replaces a provisional entry with the authoritative message from
// the store. If a realtime push already delivered the authoritative id the
// provisional is simply dropped, so the echo race cannot produce duplicates.
// Returns false when the provisional id is unknown.
func (c *Cache) Reconcile(provisionalID int64, authoritative models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.present[provisionalID]
	if !ok {
		return false
	}

	if _, dup := c.present[authoritative.ID]; dup {
		c.msgs = append(c.msgs[:idx], c.msgs[idx+1:]...)
	} else {
		c.msgs[idx] = authoritative
	}
	c.reorder()
	return true
}

// ApplyRead stamps read_at on cached unread messages addressed to the reader,
// mirroring the store's one-way transition. Already-read messages are left
// untouched. Returns the number of messages updated.
func (c *Cache) ApplyRead(readerID int64, readAt time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated := 0
	for i := range c.msgs {
		if c.msgs[i].RecipientID == readerID && c.msgs[i].ReadAt == nil {
			at := readAt
			c.msgs[i].ReadAt = &at
			updated++
		}
	}
	return updated
}

// Messages returns an ordered copy of the merged thread.
func (c *Cache) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Len reports the number of cached messages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// reorder restores chronological order and rebuilds the id index. Provisional
// entries carry negative ids but sort by their local creation time like any
// other message.
func (c *Cache) reorder() {
	sort.SliceStable(c.msgs, func(i, j int) bool {
		return c.msgs[i].Before(c.msgs[j])
	})
	for id := range c.present {
		delete(c.present, id)
	}
	for i, msg := range c.msgs {
		c.present[msg.ID] = i
	}
}
