package admin

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
)

// wsEvents answers GET /ws/events: a read-only websocket stream of
// lifecycle notices as JSON text frames. The connection lives until
// the client disconnects or the server shuts down.
func (h *handler) wsEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Debug("ws/events: accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx := r.Context()
	notices, cancel := h.deps.Broadcast.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case n := <-notices:
			data, err := json.Marshal(n)
			if err != nil {
				h.log.Warn("ws/events: marshal failed", "error", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				h.log.Debug("ws/events: write failed", "error", err)
				return
			}
		}
	}
}
