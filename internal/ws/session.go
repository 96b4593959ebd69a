package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messaging-service/internal/observability"
)

// session wraps one upgraded connection. Broker deliveries and the initial
// history flush run on different goroutines, so every write goes through one
// mutex.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
	kind string
	info ConnInfo
}

func newSession(conn *websocket.Conn, kind string, info ConnInfo) *session {
	return &session{conn: conn, kind: kind, info: info}
}

func (s *session) writeJSON(payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, body)
}

// readUntilClose blocks draining the connection; clients send nothing
// meaningful, the loop only detects disconnects. Returns the close reason.
func (s *session) readUntilClose() string {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.publishLifecycle(context.Background(), "ws_error", err.Error())
			}
			return err.Error()
		}
	}
}

func (s *session) close() {
	_ = s.conn.Close()
}

// publishLifecycle mirrors connection events onto the bus and metrics so
// operators can follow live-session churn.
func (s *session) publishLifecycle(ctx context.Context, event, reason string) {
	observability.IncWSEvent(s.kind, event)

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        s.kind,
			"event":       event,
			"conn_id":     s.info.ConnID,
			"duration_ms": time.Since(s.info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   s.info.UserID,
			"device_id": s.info.DeviceID,
			"ip":        s.info.IP,
		},
	}

	err := observability.PublishEvent(ctx, "ws_events.messaging", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(s.info.RequestID, s.info.TraceID))
	if err != nil {
		log.Printf("ws lifecycle publish failed: %v", err)
	}
}
