// Package gateway exposes the session manager, monitor, and tunnel over
// HTTP: REST operations, an SSE cast stream per session, an SSE
// lifecycle-event stream, and a full-duplex WebSocket bridge.
package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/termhub/internal/db"
	"github.com/user/termhub/internal/monitor"
	"github.com/user/termhub/internal/term"
	"github.com/user/termhub/internal/tunnel"
)

const defaultStreamInterval = 100 * time.Millisecond

// Options configures the gateway.
type Options struct {
	// Token gates every endpoint when non-empty (bearer header or
	// ?token= query parameter).
	Token string

	// StreamInterval is the poll cadence for the SSE cast stream and
	// the WebSocket output forwarder.
	StreamInterval time.Duration
}

type Handler struct {
	mgr        *term.Manager
	mon        *monitor.Monitor
	tun        *tunnel.Tunnel
	recordings *db.RecordingRepo

	token          string
	streamInterval time.Duration
}

// New wires the gateway. recordings may be nil when recording is
// disabled; the recording endpoints then report 404.
func New(mgr *term.Manager, mon *monitor.Monitor, tun *tunnel.Tunnel, recordings *db.RecordingRepo, opts Options) *Handler {
	interval := opts.StreamInterval
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	return &Handler{
		mgr:            mgr,
		mon:            mon,
		tun:            tun,
		recordings:     recordings,
		token:          opts.Token,
		streamInterval: interval,
	}
}

// Router returns the /api handler tree.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/sessions", h.listSessions)
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions/events", h.streamEvents)
	mux.HandleFunc("GET /api/sessions/{id}", h.getSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.deleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/resize", h.resizeSession)
	mux.HandleFunc("POST /api/sessions/{id}/input", h.writeSessionInput)
	mux.HandleFunc("GET /api/sessions/{id}/stream", h.streamSession)
	mux.HandleFunc("GET /api/sessions/{id}/stats", h.sessionStats)

	mux.HandleFunc("POST /api/forwards", h.createForward)
	mux.HandleFunc("GET /api/forwards", h.listForwards)
	mux.HandleFunc("GET /api/forwards/{id}", h.getForward)
	mux.HandleFunc("DELETE /api/forwards/{id}", h.deleteForward)

	mux.HandleFunc("GET /api/recordings", h.listRecordings)
	mux.HandleFunc("GET /api/recordings/{id}/file", h.serveRecording)

	return h.authMiddleware(corsMiddleware(mux))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || h.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		jsonError(w, http.StatusUnauthorized, "unauthorized")
	})
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if strings.TrimSpace(authHeader[7:]) == h.token {
			return true
		}
	}
	return r.URL.Query().Get("token") == h.token
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}
