package gateway

import (
	"net/http"
	"sort"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/user/termhub/internal/term"
)

type createSessionRequest struct {
	Name  string   `json:"name,omitempty"`
	Rows  uint16   `json:"rows,omitempty"`
	Cols  uint16   `json:"cols,omitempty"`
	Cwd   string   `json:"cwd,omitempty"`
	Env   []string `json:"env,omitempty"`
	Shell string   `json:"shell,omitempty"`
}

type resizeRequest struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

type inputRequest struct {
	Input string `json:"input"`
}

type sessionStatsResponse struct {
	PID           int     `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryRSS     uint64  `json:"memory_rss"`
	MemoryPercent float32 `json:"memory_percent"`
	NumThreads    int32   `json:"num_threads"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	info, err := h.mgr.CreateSession(term.CreateRequest{
		Name:  req.Name,
		Rows:  req.Rows,
		Cols:  req.Cols,
		Cwd:   req.Cwd,
		Env:   req.Env,
		Shell: req.Shell,
	})
	if err != nil {
		status, msg := mapError(err)
		jsonError(w, status, msg)
		return
	}
	jsonResponse(w, http.StatusCreated, info)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.mgr.ListSessions()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	jsonResponse(w, http.StatusOK, sessions)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.mgr.GetSession(r.PathValue("id"))
	if err != nil {
		status, msg := mapError(err)
		jsonError(w, status, msg)
		return
	}
	jsonResponse(w, http.StatusOK, info)
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.CloseSession(r.PathValue("id")); err != nil {
		status, msg := mapError(err)
		jsonError(w, status, msg)
		return
	}
	jsonResponse(w, http.StatusNoContent, nil)
}

func (h *Handler) resizeSession(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Rows == 0 || req.Cols == 0 {
		jsonError(w, http.StatusBadRequest, "rows and cols must be positive")
		return
	}

	if err := h.mgr.ResizeSession(r.PathValue("id"), req.Rows, req.Cols); err != nil {
		status, msg := mapError(err)
		jsonError(w, status, msg)
		return
	}
	jsonResponse(w, http.StatusNoContent, nil)
}

func (h *Handler) writeSessionInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Input == "" {
		jsonError(w, http.StatusBadRequest, "input is required")
		return
	}

	id := r.PathValue("id")
	if err := h.mgr.WriteSession(id, []byte(req.Input)); err != nil {
		status, msg := mapError(err)
		jsonError(w, status, msg)
		return
	}
	h.mon.NotifyActivity(id)
	jsonResponse(w, http.StatusNoContent, nil)
}

func (h *Handler) sessionStats(w http.ResponseWriter, r *http.Request) {
	info, err := h.mgr.GetSession(r.PathValue("id"))
	if err != nil {
		status, msg := mapError(err)
		jsonError(w, status, msg)
		return
	}

	proc, err := process.NewProcessWithContext(r.Context(), int32(info.PID))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to inspect shell process")
		return
	}

	stats := sessionStatsResponse{PID: info.PID}
	if cpu, err := proc.CPUPercentWithContext(r.Context()); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(r.Context()); err == nil && mem != nil {
		stats.MemoryRSS = mem.RSS
	}
	if memPct, err := proc.MemoryPercentWithContext(r.Context()); err == nil {
		stats.MemoryPercent = memPct
	}
	if threads, err := proc.NumThreadsWithContext(r.Context()); err == nil {
		stats.NumThreads = threads
	}
	jsonResponse(w, http.StatusOK, stats)
}
