package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps error kinds to status codes. Unclassified errors are
// logged and reported as internal.
func writeError(w http.ResponseWriter, op string, err error) {
	var status int
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrIllegalTypeChange):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrContractViolation), errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrUnknownNodeType), errors.Is(err, apperr.ErrInvalidProfile):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrAccessDenied):
		status = http.StatusForbidden
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}
