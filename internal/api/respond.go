package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/savegress/careledger/internal/database"
	"github.com/savegress/careledger/internal/ledger"
	"github.com/savegress/careledger/pkg/models"
)

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps the service error taxonomy to transport
// statuses. This is the only place status-code mapping happens.
func respondServiceError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	var lerr *ledger.Error

	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, models.ErrForbiddenRole):
		respondError(w, http.StatusForbidden, models.ErrForbiddenRole.Message)
	case errors.Is(err, models.ErrAccessDenied):
		respondError(w, http.StatusForbidden, models.ErrAccessDenied.Message)
	case errors.Is(err, models.ErrNotFound), errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "Not found")
	case errors.As(err, &lerr):
		respondError(w, http.StatusBadGateway, lerr.Error())
	default:
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
