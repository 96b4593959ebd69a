package ws

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/realtime"
)

// InboxSocketHandler streams every event involving the user, driving the
// conversation list and unread badge without polling.
type InboxSocketHandler struct {
	broker *realtime.Broker
}

// NewInboxSocketHandler constructs an InboxSocketHandler.
func NewInboxSocketHandler(broker *realtime.Broker) *InboxSocketHandler {
	return &InboxSocketHandler{broker: broker}
}

// Handle upgrades the connection and forwards user-scoped events.
func (h *InboxSocketHandler) Handle(c *gin.Context) {
	userID := middleware.UserID(c)

	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.inbox_handshake")
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
	sess := newSession(conn, "inbox", info)

	sub := h.broker.SubscribeUser(userID, func(ev realtime.Event) {
		if err := sess.writeJSON(ev); err != nil {
			log.Printf("websocket write error: %v", err)
			sess.close()
		}
	})

	observability.IncWSActive("inbox")
	sess.publishLifecycle(ctx, "ws_connect", "")

	go func() {
		reason := sess.readUntilClose()
		sub.Unsubscribe()
		observability.DecWSActive("inbox")
		sess.publishLifecycle(ctx, "ws_disconnect", reason)
		sess.close()
	}()
}
