package models

import "time"

// Message is the single persisted entity of the messaging subsystem.
// Everything except ReadAt is immutable after insert; ReadAt transitions
// exactly once from nil to a timestamp, set by the recipient.
type Message struct {
	ID          int64      `db:"id" json:"id"`
	ProductID   int64      `db:"product_id" json:"product_id"`
	SenderID    int64      `db:"sender_id" json:"sender_id"`
	RecipientID int64      `db:"recipient_id" json:"recipient_id"`
	Content     string     `db:"content" json:"content"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// CounterpartyOf returns the other participant relative to the given user.
func (m Message) CounterpartyOf(userID int64) int64 {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}

// Involves reports whether the user is sender or recipient of the message.
func (m Message) Involves(userID int64) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// Before orders messages chronologically, falling back to the insertion id
// when two rows share a timestamp.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
