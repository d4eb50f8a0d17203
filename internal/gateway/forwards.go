package gateway

import "net/http"

type createForwardRequest struct {
	Port  int    `json:"port,omitempty"`
	Shell string `json:"shell,omitempty"`
}

func (h *Handler) createForward(w http.ResponseWriter, r *http.Request) {
	var req createForwardRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		jsonError(w, http.StatusBadRequest, "port out of range")
		return
	}

	fwd, err := h.tun.StartForward(req.Port, req.Shell)
	if err != nil {
		status, msg := mapError(err)
		jsonError(w, status, msg)
		return
	}
	jsonResponse(w, http.StatusCreated, fwd)
}

func (h *Handler) listForwards(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.tun.ListForwards())
}

func (h *Handler) getForward(w http.ResponseWriter, r *http.Request) {
	fwd, err := h.tun.GetForward(r.PathValue("id"))
	if err != nil {
		status, msg := mapError(err)
		jsonError(w, status, msg)
		return
	}
	jsonResponse(w, http.StatusOK, fwd)
}

func (h *Handler) deleteForward(w http.ResponseWriter, r *http.Request) {
	if err := h.tun.StopForward(r.PathValue("id")); err != nil {
		status, msg := mapError(err)
		jsonError(w, status, msg)
		return
	}
	jsonResponse(w, http.StatusNoContent, nil)
}
