package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"wlink-bridge/internal/apperr"
	"wlink-bridge/internal/crypto"
)

// RequestContext identifies the authenticated tenant behind one request. It
// is returned by the guard and passed explicitly into every guarded handler
// path; nothing is stashed on the request.
type RequestContext struct {
	LocationID string
	User       crypto.Context
}

// authContext is the context guard: it decrypts the CRM context from the
// x-ghl-context or x-lc-context header and resolves the tenant. A skeleton
// tenant row is created the first time a location shows up, so the UI works
// before OAuth completes. The only non-header context path is the bootstrap
// endpoint, which feeds its body ciphertext through resolveContext directly.
func (h *Handler) authContext(r *http.Request) (RequestContext, error) {
	encrypted := r.Header.Get("x-ghl-context")
	if encrypted == "" {
		encrypted = r.Header.Get("x-lc-context")
	}
	if encrypted == "" {
		return RequestContext{}, apperr.Unauthorized("no GHL context provided")
	}
	return h.resolveContext(r, encrypted)
}

func (h *Handler) resolveContext(r *http.Request, encrypted string) (RequestContext, error) {
	sum := sha256.Sum256([]byte(encrypted))
	cacheKey := hex.EncodeToString(sum[:])
	if cached, ok := h.contexts.Get(cacheKey); ok {
		return cached.(RequestContext), nil
	}

	userData, err := crypto.DecryptContext(encrypted, h.cfg.GhlSharedSecret)
	if err != nil {
		log.Warn().Err(err).Msg("GHL context decryption failed, check GHL_SHARED_SECRET")
		return RequestContext{}, err
	}

	locationID := userData.Location()
	if locationID == "" {
		return RequestContext{}, apperr.Unauthorized("no active location ID in user context")
	}

	if _, err := h.store.EnsureTenant(r.Context(), locationID); err != nil {
		return RequestContext{}, apperr.Integration(err, "failed to ensure tenant %s", locationID)
	}

	rc := RequestContext{LocationID: locationID, User: userData}
	h.contexts.SetDefault(cacheKey, rc)
	return rc, nil
}

// DecryptUserData is the context-bootstrap endpoint the iframe calls with the
// ciphertext it received from the CRM host via postMessage.
func (h *Handler) DecryptUserData(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EncryptedData string `json:"encryptedData"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EncryptedData == "" {
		respondError(w, apperr.BadRequest("encryptedData is required"))
		return
	}

	rc, err := h.resolveContext(r, body.EncryptedData)
	if err != nil {
		respondError(w, err)
		return
	}

	tenant, err := h.store.FindTenant(r.Context(), rc.LocationID)
	if err != nil {
		respondError(w, apperr.Integration(err, "tenant lookup failed"))
		return
	}

	var user interface{}
	if tenant != nil {
		user = map[string]interface{}{
			"id":        tenant.LocationID,
			"hasTokens": tenant.HasTokens(),
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"locationId": rc.LocationID,
		"userData":   rc.User,
		"user":       user,
	})
}
