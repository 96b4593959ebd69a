package conversations

import (
	"sort"

	"messaging-service/internal/models"
)

// threadKey identifies a conversation relative to a viewer. Grouping is
// always by (product, counterparty), never by message id, so the same pair
// collapses into one group no matter which fetch path produced the rows.
type threadKey struct {
	productID      int64
	counterpartyID int64
}

// Aggregate derives conversation summaries from a flat message slice. It is a
// pure function: no hidden state survives between calls, a fixed input always
// yields the same output, and repeated invocation can never accumulate
// duplicate groups. Messages not involving the viewer are skipped.
//
// For each (product, counterparty) group the summary carries the latest
// message (by created_at, ties broken by id) and the viewer's unread count.
// Groups are ordered most-recently-active first; equal activity falls back to
// product then counterparty id so the output is deterministic.
func Aggregate(msgs []models.Message, viewerID int64) []models.ConversationSummary {
	groups := make(map[threadKey]*models.ConversationSummary)

	for _, msg := range msgs {
		if !msg.Involves(viewerID) {
			continue
		}
		key := threadKey{productID: msg.ProductID, counterpartyID: msg.CounterpartyOf(viewerID)}

		summary, ok := groups[key]
		if !ok {
			summary = &models.ConversationSummary{
				ProductID:      key.productID,
				CounterpartyID: key.counterpartyID,
				LastMessage:    msg,
			}
			groups[key] = summary
		} else if summary.LastMessage.Before(msg) {
			summary.LastMessage = msg
		}

		if msg.RecipientID == viewerID && msg.ReadAt == nil {
			summary.UnreadCount++
			summary.HasUnread = true
		}
	}

	result := make([]models.ConversationSummary, 0, len(groups))
	for _, summary := range groups {
		result = append(result, *summary)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].LastMessage, result[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.ID != b.ID {
			return a.ID > b.ID
		}
		if result[i].ProductID != result[j].ProductID {
			return result[i].ProductID < result[j].ProductID
		}
		return result[i].CounterpartyID < result[j].CounterpartyID
	})

	return result
}
