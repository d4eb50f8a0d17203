package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

type resizeMessage struct {
	Type string `json:"type"`
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// HandleWebSocket bridges a session to a WebSocket: binary frames carry
// terminal bytes in both directions, inbound text frames carry resize
// requests. Mounted at /ws/{id} on the server mux, outside the /api tree.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.mgr.GetSession(id); err != nil {
		status, msg := mapError(err)
		jsonError(w, status, msg)
		return
	}
	if !h.authorized(r) {
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept failed", "session_id", id, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.mon.AddClient(id)
	defer h.mon.RemoveClient(id)

	// Session output -> socket. Cancelling ctx (socket closed in either
	// direction) stops this forwarder.
	go func() {
		defer cancel()
		ticker := time.NewTicker(h.streamInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				data, err := h.mgr.ReadOutput(id)
				if err != nil {
					conn.Close(websocket.StatusNormalClosure, "session ended")
					return
				}
				if len(data) == 0 {
					continue
				}
				if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
					return
				}
			}
		}
	}()

	// Socket -> session.
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			if err := h.mgr.WriteSession(id, data); err != nil {
				conn.Close(websocket.StatusNormalClosure, "session ended")
				return
			}
			h.mon.NotifyActivity(id)
		case websocket.MessageText:
			var msg resizeMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "resize" && msg.Rows > 0 && msg.Cols > 0 {
				if err := h.mgr.ResizeSession(id, msg.Rows, msg.Cols); err != nil {
					slog.Warn("resize over websocket failed", "session_id", id, "error", err)
				}
			}
		}
	}
}
