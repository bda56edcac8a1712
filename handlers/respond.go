package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"chatapp/service"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors to status codes.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, upstreamMsg string) {
	switch {
	case errors.Is(err, service.ErrAuthenticationRequired):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrUpstream):
		writeError(w, http.StatusBadGateway, upstreamMsg)
	default:
		logger.Error("unhandled service error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Server error")
	}
}
