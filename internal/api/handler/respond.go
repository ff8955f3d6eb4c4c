package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// mapError translates domain sentinel errors to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrUnknownToken),
		errors.Is(err, domain.ErrNoSession):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAccessDenied):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrIllegalState),
		errors.Is(err, domain.ErrTokenUsed),
		errors.Is(err, domain.ErrTokenRevoked),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrOrphanedToken):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTitle),
		errors.Is(err, domain.ErrInvalidBody),
		errors.Is(err, domain.ErrInvalidTarget),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrEmptyAudience),
		errors.Is(err, domain.ErrInvalidTTL):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrQueueFull),
		errors.Is(err, domain.ErrTokenExhausted):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
