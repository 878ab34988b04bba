package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"wlink-bridge/internal/apperr"
	"wlink-bridge/internal/evolution"
	"wlink-bridge/internal/services"
)

// EvolutionWebhook receives gateway events. The gateway does not retry on
// failure, so processing errors are logged and the response is 200 either
// way; a non-200 here buys nothing but log noise on the gateway side.
func (h *Handler) EvolutionWebhook(w http.ResponseWriter, r *http.Request) {
	if h.cfg.EvolutionWebhookToken != "" && r.Header.Get("x-evolution-token") != h.cfg.EvolutionWebhookToken {
		respondError(w, apperr.Unauthorized("invalid webhook token"))
		return
	}

	var ev evolution.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, apperr.BadRequest("invalid JSON body"))
		return
	}

	if err := h.messages.HandleGatewayEvent(r.Context(), ev); err != nil {
		log.Error().Err(err).
			Str("event", ev.Event).
			Str("instance", ev.Instance).
			Msg("Gateway event processing failed")
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// GhlWebhook receives the CRM's outbound-message events. Malformed or
// misaddressed payloads get a 400 so the CRM surfaces them; anything that
// fails after validation is reported back as a failed message status and
// answered 200, because the CRM's retry would re-run the same failure.
func (h *Handler) GhlWebhook(w http.ResponseWriter, r *http.Request) {
	var wh services.CrmWebhook
	if err := json.NewDecoder(r.Body).Decode(&wh); err != nil {
		respondError(w, apperr.BadRequest("invalid JSON body"))
		return
	}

	if err := h.messages.HandleCrmEvent(r.Context(), wh); err != nil {
		if apperr.IsKind(err, apperr.KindBadRequest) {
			respondError(w, err)
			return
		}
		log.Error().Err(err).
			Str("locationId", wh.LocationID).
			Str("messageId", wh.MessageID).
			Msg("Outbound message processing failed")
		h.messages.ReportCrmFailure(r.Context(), wh.LocationID, wh.MessageID, err)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
