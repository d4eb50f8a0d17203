package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/termhub/internal/cast"
)

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// streamSession reconstructs cast-format framing on the fly: one header
// event, then data events carrying [elapsed,"o",output] triples from a
// short-interval poll, and a single synthetic ["exit",0,id] triple once
// the session disappears.
func (h *Handler) streamSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, err := h.mgr.GetSession(id)
	if err != nil {
		status, msg := mapError(err)
		jsonError(w, status, msg)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sseHeaders(w)

	h.mon.AddClient(id)
	defer h.mon.RemoveClient(id)

	header := cast.NewHeader(int(info.Cols), int(info.Rows))
	header.Timestamp = time.Now().Unix()
	header.Title = info.Name
	headerJSON, err := json.Marshal(header)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to encode header")
		return
	}
	fmt.Fprintf(w, "event: header\ndata: %s\n\n", headerJSON)
	flusher.Flush()

	start := time.Now()
	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			data, err := h.mgr.ReadOutput(id)
			if err != nil {
				// Session ended: not an error, just the end of the cast.
				fmt.Fprintf(w, "event: data\ndata: %s\n\n", cast.EncodeExit(id))
				flusher.Flush()
				return
			}
			if len(data) == 0 {
				continue
			}
			line, err := cast.EncodeEvent(time.Since(start).Seconds(), cast.Output, string(data))
			if err != nil {
				slog.Warn("failed to encode cast event", "session_id", id, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: data\ndata: %s\n\n", line)
			flusher.Flush()
		}
	}
}

// streamEvents replays the monitor's current snapshot as an initial
// event, then forwards every broadcast lifecycle event for the life of
// the connection.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sseHeaders(w)

	events, cancel := h.mon.Subscribe()
	defer cancel()

	initial, err := json.Marshal(h.mon.SnapshotAll())
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to encode snapshot")
		return
	}
	fmt.Fprintf(w, "event: initial\ndata: %s\n\n", initial)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("failed to encode monitor event", "event", ev.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
