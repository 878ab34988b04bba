package handlers

import (
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"wlink-bridge/internal/models"
)

// OAuthCallback completes the marketplace install flow: it exchanges the
// authorization code, persists the tenant's encrypted tokens, and bounces the
// browser back to the app's custom page. Query parameters may additionally
// carry gateway credentials so a preconfigured install registers its first
// instance in the same hop; that registration is best effort and never fails
// the install.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "authorization code is missing",
		})
		return
	}

	grant, err := h.crm.ExchangeCode(r.Context(), code)
	if err != nil {
		log.Error().Err(err).Msg("OAuth code exchange failed")
		respondError(w, err)
		return
	}

	expiresAt := grant.ExpiresAt
	tenant := &models.Tenant{
		LocationID:     grant.LocationID,
		CompanyID:      grant.CompanyID,
		AccessToken:    h.tokens.Encrypt(grant.AccessToken),
		RefreshToken:   h.tokens.Encrypt(grant.RefreshToken),
		TokenExpiresAt: &expiresAt,
	}
	if err := h.store.UpsertTenant(r.Context(), tenant); err != nil {
		log.Error().Err(err).Str("locationId", grant.LocationID).Msg("Failed to persist tenant after OAuth")
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "failed to persist installation",
		})
		return
	}
	log.Info().Str("locationId", grant.LocationID).Msg("OAuth install completed")

	q := r.URL.Query()
	instanceName := q.Get("instanceName")
	apiToken := q.Get("token")
	if apiToken == "" {
		apiToken = q.Get("apiToken")
	}
	customName := q.Get("customName")
	if instanceName != "" && apiToken != "" && customName != "" {
		if _, err := h.instances.Register(r.Context(), grant.LocationID, instanceName, apiToken, customName); err != nil {
			log.Warn().Err(err).Str("instance", instanceName).Msg("Instance registration during OAuth failed")
		}
	}

	redirect := h.cfg.FrontendURL + "/app/custom-page?locationId=" + url.QueryEscape(grant.LocationID)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	http.Redirect(w, r, redirect, http.StatusFound)
}
