package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/conversations"
	"messaging-service/internal/directory"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/realtime"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// ConversationLister derives the viewer's conversation list.
type ConversationLister interface {
	List(ctx context.Context, viewerID int64) ([]models.ConversationSummary, error)
}

// MessageHandler serves the messaging endpoints.
type MessageHandler struct {
	repo          repositories.MessageRepository
	conversations ConversationLister
	users         directory.IdentityResolver
	broker        *realtime.Broker
	publisher     rabbitmq.Publisher
	audit         *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(
	repo repositories.MessageRepository,
	lister ConversationLister,
	users directory.IdentityResolver,
	broker *realtime.Broker,
	publisher rabbitmq.Publisher,
	audit *telemetry.AuditEmitter,
) *MessageHandler {
	return &MessageHandler{
		repo:          repo,
		conversations: lister,
		users:         users,
		broker:        broker,
		publisher:     publisher,
		audit:         audit,
	}
}

// ListConversations returns the viewer's conversations, newest activity
// first. The listing is a convenience view: a store outage degrades to an
// empty result flagged for retry instead of failing the page.
func (h *MessageHandler) ListConversations(c *gin.Context) {
	userID := middleware.UserID(c)

	summaries, err := h.conversations.List(c.Request.Context(), userID)
	if err != nil {
		log.Printf("conversation listing degraded for user %d: %v", userID, err)
		c.JSON(http.StatusOK, gin.H{"conversations": []models.ConversationSummary{}, "degraded": true})
		return
	}
	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// UnreadCount returns the viewer's unread total across all conversations.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID := middleware.UserID(c)

	count, err := h.repo.CountUnread(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread": count})
}

type messageResponse struct {
	models.Message
	SenderName string `json:"sender_name"`
}

// GetThreadMessages returns the thread with the counterparty about a
// product, oldest first, and marks inbound messages read: fetching the
// thread is what "opening" it means.
func (h *MessageHandler) GetThreadMessages(c *gin.Context) {
	productID, counterpartyID, ok := parseThreadParams(c)
	if !ok {
		return
	}
	userID := middleware.UserID(c)

	msgs, err := h.repo.ListForPair(c.Request.Context(), userID, counterpartyID, productID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	h.markRead(c, userID, counterpartyID, productID)

	names := h.resolveNames(c.Request.Context(), []int64{userID, counterpartyID})
	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageResponse{Message: m, SenderName: conversations.NameFor(names, m.SenderID)})
	}

	c.JSON(http.StatusOK, gin.H{"messages": resp})
}

// PostThreadMessage validates, persists and fans out a new message. The
// realtime announcement happens strictly after the insert succeeded, so a
// push can never precede (or outlive) its durable row.
func (h *MessageHandler) PostThreadMessage(c *gin.Context) {
	productID, counterpartyID, ok := parseThreadParams(c)
	if !ok {
		return
	}
	userID := middleware.UserID(c)

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.repo.CreateMessage(c.Request.Context(), productID, userID, counterpartyID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrSelfMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot message yourself"})
		case errors.Is(err, repositories.ErrEmptyContent):
			c.JSON(http.StatusBadRequest, gin.H{"error": "message content is empty"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		}
		return
	}

	observability.IncMessagesSent()

	names := h.resolveNames(c.Request.Context(), []int64{userID})
	event := realtime.Event{
		Type:        realtime.EventMessageCreated,
		Message:     &msg,
		SenderName:  conversations.NameFor(names, userID),
		ProductID:   msg.ProductID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
	}
	h.broker.Publish(event)
	h.publishBusEvent(c, "messages.created", event)
	h.audit.Emit(c.Request.Context(), "INFO",
		fmt.Sprintf("message %d sent on product %d", msg.ID, msg.ProductID),
		requestIDFromContext(c), &userID)

	c.JSON(http.StatusCreated, msg)
}

// MarkThreadRead lets a live session stamp messages read when a push arrives
// while the thread is open. Re-invoking after everything is read updates
// nothing and still succeeds.
func (h *MessageHandler) MarkThreadRead(c *gin.Context) {
	productID, counterpartyID, ok := parseThreadParams(c)
	if !ok {
		return
	}
	userID := middleware.UserID(c)

	updated := h.markRead(c, userID, counterpartyID, productID)
	if updated < 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// markRead runs the idempotent read transition and announces it when any row
// actually changed. Returns -1 on store failure.
func (h *MessageHandler) markRead(c *gin.Context, userID, counterpartyID, productID int64) int64 {
	updated, err := h.repo.MarkRead(c.Request.Context(), userID, counterpartyID, productID)
	if err != nil {
		log.Printf("mark read failed for user %d product %d: %v", userID, productID, err)
		return -1
	}
	if updated == 0 {
		return 0
	}

	observability.AddMessagesRead(updated)
	now := time.Now().UTC()
	event := realtime.Event{
		Type:        realtime.EventMessagesRead,
		ProductID:   productID,
		SenderID:    userID, // the reader
		RecipientID: counterpartyID,
		ReadAt:      &now,
	}
	h.broker.Publish(event)
	h.publishBusEvent(c, "messages.read", event)
	return updated
}

func (h *MessageHandler) publishBusEvent(c *gin.Context, name string, event realtime.Event) {
	if h.publisher == nil {
		return
	}
	envelope := observability.EventEnvelope{
		EventType: "messaging",
		EventName: name,
		Payload:   event,
	}
	headers := observability.BuildHeaders(requestIDFromContext(c), traceIDFromContext(c))
	if err := h.publisher.Publish(c.Request.Context(), name, envelope, headers); err != nil {
		observability.IncAMQPPublishError()
	}
}

// resolveNames tolerates resolver outages: decoration falls back to the
// placeholder, it never blocks or fails the request.
func (h *MessageHandler) resolveNames(ctx context.Context, ids []int64) map[int64]directory.UserInfo {
	if h.users == nil {
		return nil
	}
	names, err := h.users.BulkUsers(ctx, ids)
	if err != nil {
		log.Printf("identity resolution failed, using placeholders: %v", err)
		return nil
	}
	return names
}

func parseThreadParams(c *gin.Context) (int64, int64, bool) {
	productID, err := strconv.ParseInt(c.Param("product_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return 0, 0, false
	}
	counterpartyID, err := strconv.ParseInt(c.Param("counterparty_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid counterparty id"})
		return 0, 0, false
	}
	return productID, counterpartyID, true
}
