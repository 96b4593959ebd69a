package models

// ConversationSummary is the list-view projection of a conversation.
// Conversations are never stored: one summary exists per
// (product_id, counterparty_id) pair relative to the viewing user and is
// recomputed from the message log on every listing.
type ConversationSummary struct {
	ProductID        int64   `json:"product_id"`
	CounterpartyID   int64   `json:"counterparty_id"`
	CounterpartyName string  `json:"counterparty_name"`
	Verified         bool    `json:"counterparty_verified"`
	LastMessage      Message `json:"last_message"`
	UnreadCount      int     `json:"unread_count"`
	HasUnread        bool    `json:"has_unread"`
	IsBuyer          bool    `json:"is_buyer"`
}
