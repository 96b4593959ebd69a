package ws

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/realtime"
	"messaging-service/internal/repositories"
	"messaging-service/internal/threadcache"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ThreadSocketHandler streams one conversation to a live session. On connect
// it replays the thread history, then forwards broker events for the
// (product, counterparty) scope. A thread cache sits between the two paths so
// the fetch/push race cannot duplicate or misorder messages on the wire.
type ThreadSocketHandler struct {
	broker *realtime.Broker
	repo   repositories.MessageRepository
}

// NewThreadSocketHandler constructs a ThreadSocketHandler.
func NewThreadSocketHandler(broker *realtime.Broker, repo repositories.MessageRepository) *ThreadSocketHandler {
	return &ThreadSocketHandler{broker: broker, repo: repo}
}

// Handle upgrades the connection and bridges broker events onto it.
func (h *ThreadSocketHandler) Handle(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("product_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}
	counterpartyID, err := strconv.ParseInt(c.Param("counterparty_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid counterparty id"})
		return
	}

	userID := middleware.UserID(c)
	if userID == counterpartyID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot open a thread with yourself"})
		return
	}

	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.thread_handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	sess := newSession(conn, "thread", info)
	cache := threadcache.New()

	// Subscribe before fetching history: anything pushed during the fetch
	// sits in the subscription queue and the cache drops whatever both paths
	// delivered.
	sub := h.broker.SubscribeThread(userID, counterpartyID, productID, func(ev realtime.Event) {
		switch ev.Type {
		case realtime.EventMessageCreated:
			if ev.Message == nil || !cache.Merge(*ev.Message) {
				return
			}
		case realtime.EventMessagesRead:
			// The event's sender is the reader.
			if ev.ReadAt != nil {
				cache.ApplyRead(ev.SenderID, *ev.ReadAt)
			}
		}
		if err := sess.writeJSON(ev); err != nil {
			log.Printf("websocket write error: %v", err)
			sess.close()
		}
	})

	history, err := h.repo.ListForPair(ctx, userID, counterpartyID, productID)
	if err != nil {
		// Degrade to live-only: the client falls back to the HTTP fetch.
		log.Printf("thread history load failed: %v", err)
		history = nil
	}
	cache.MergeAll(history)
	if err := sess.writeJSON(historyEvent(cache.Messages())); err != nil {
		sub.Unsubscribe()
		sess.close()
		return
	}

	observability.IncWSActive("thread")
	sess.publishLifecycle(ctx, "ws_connect", "")

	go func() {
		reason := sess.readUntilClose()
		sub.Unsubscribe()
		observability.DecWSActive("thread")
		sess.publishLifecycle(ctx, "ws_disconnect", reason)
		sess.close()
	}()
}

type threadHistory struct {
	Type     string           `json:"type"`
	Messages []models.Message `json:"messages"`
}

func historyEvent(msgs []models.Message) threadHistory {
	if msgs == nil {
		msgs = []models.Message{}
	}
	return threadHistory{Type: "history", Messages: msgs}
}
