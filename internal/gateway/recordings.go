package gateway

import (
	"net/http"

	"github.com/user/termhub/internal/db"
)

func (h *Handler) listRecordings(w http.ResponseWriter, r *http.Request) {
	if h.recordings == nil {
		jsonError(w, http.StatusNotFound, "recording is disabled")
		return
	}
	recs, err := h.recordings.List(r.Context())
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*db.Recording{}
	}
	jsonResponse(w, http.StatusOK, recs)
}

func (h *Handler) serveRecording(w http.ResponseWriter, r *http.Request) {
	if h.recordings == nil {
		jsonError(w, http.StatusNotFound, "recording is disabled")
		return
	}
	rec, err := h.recordings.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		jsonError(w, http.StatusNotFound, "recording not found")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.ServeFile(w, r, rec.Path)
}
