package hub

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crewmates-ai/game-master/internal/v1/game"
	"github.com/crewmates-ai/game-master/internal/v1/logging"
)

// tapUpgrader accepts any origin. The tap is registered only in
// development mode, never on a production listener.
var tapUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeTap upgrades the request to a websocket and streams every event of
// one session, ignoring visibility. Debugging aid for watching a game.
func (h *Hub) ServeTap(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := tapUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn(r.Context(), "tap upgrade failed", zap.Error(err))
		return
	}

	sub := &Subscription{
		AgentID:    "tap:" + uuid.NewString(),
		SessionID:  sessionID,
		omniscient: true,
		ch:         make(chan game.Event, sinkBuffer),
	}
	h.add(sub)

	logging.Info(r.Context(), "tap attached", zap.String("sessionId", sessionID))

	// Reader goroutine only notices the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.Unsubscribe(sub)
				return
			}
		}
	}()

	go func() {
		defer func() { _ = conn.Close() }()
		for e := range sub.Events() {
			if err := conn.WriteJSON(tapFrame(e)); err != nil {
				h.Unsubscribe(sub)
				return
			}
		}
	}()
}

// tapFrame includes the visibility metadata the normal stream hides.
func tapFrame(e game.Event) map[string]any {
	return map[string]any{
		"type":       string(e.Type),
		"sessionId":  e.SessionID,
		"timestamp":  e.Timestamp,
		"visibility": string(e.Visibility),
		"recipients": e.Recipients,
		"payload":    e.Payload,
	}
}
