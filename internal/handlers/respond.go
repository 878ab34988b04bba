package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"wlink-bridge/internal/apperr"
)

func respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// respondError maps the bridge's error taxonomy onto HTTP. Anything outside
// the taxonomy is an unexpected upstream failure and is logged with a generic
// 500 so internals never leak to the iframe.
func respondError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if appErr.Kind == apperr.KindIntegration {
			log.Error().Err(appErr).Msg("Integration failure")
		}
		respondJSON(w, appErr.Status(), map[string]interface{}{
			"success": false,
			"error":   appErr.Message,
			"code":    appErr.Code,
		})
		return
	}
	log.Error().Err(err).Msg("Unhandled error")
	respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"success": false,
		"error":   "internal server error",
		"code":    "internal_error",
	})
}
