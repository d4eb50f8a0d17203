package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/user/termhub/internal/term"
	"github.com/user/termhub/internal/tunnel"
)

type errorBody struct {
	Error string `json:"error"`
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	if status == http.StatusNoContent || data == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message})
}

// mapError translates manager/tunnel errors to HTTP status codes:
// unknown ids are 404, everything else (spawn, bind, I/O) is 500.
func mapError(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	if errors.Is(err, term.ErrNotFound) || errors.Is(err, tunnel.ErrNotFound) {
		return http.StatusNotFound, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}
