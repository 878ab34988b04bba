// Package handlers wires the bridge's HTTP surface: OAuth callback, the
// tenant-scoped instance API the iframe UI polls, and the two webhook
// receivers.
package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"

	"wlink-bridge/config"
	"wlink-bridge/internal/crypto"
	"wlink-bridge/internal/ghl"
	"wlink-bridge/internal/services"
	"wlink-bridge/internal/store"
)

// Handler carries every dependency the HTTP layer needs.
type Handler struct {
	cfg       *config.Config
	store     *store.Store
	instances *services.InstanceService
	messages  *services.MessageService
	crm       *ghl.Client
	tokens    *crypto.TokenCodec

	// Decrypted contexts are memoized briefly: the iframe UI polls every few
	// seconds with the same ciphertext and the AES+JSON work is pure.
	contexts *cache.Cache
}

func New(cfg *config.Config, st *store.Store, instances *services.InstanceService, messages *services.MessageService, crm *ghl.Client, tokens *crypto.TokenCodec) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     st,
		instances: instances,
		messages:  messages,
		crm:       crm,
		tokens:    tokens,
		contexts:  cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Routes builds the router. Middleware (logging, recovery) is layered on by
// the caller.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/oauth/callback", h.OAuthCallback).Methods(http.MethodGet)
	r.HandleFunc("/app/decrypt-user-data", h.DecryptUserData).Methods(http.MethodPost)

	r.HandleFunc("/api/instances", h.ListInstances).Methods(http.MethodGet)
	r.HandleFunc("/api/instances", h.CreateInstance).Methods(http.MethodPost)
	r.HandleFunc("/api/instances/{id}", h.UpdateInstance).Methods(http.MethodPatch)
	r.HandleFunc("/api/instances/{id}", h.DeleteInstance).Methods(http.MethodDelete)
	r.HandleFunc("/api/instances/{id}/logout", h.LogoutInstance).Methods(http.MethodDelete)
	r.HandleFunc("/api/qr/{id}", h.InstanceQR).Methods(http.MethodGet)

	r.HandleFunc("/webhooks/evolution", h.EvolutionWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/ghl", h.GhlWebhook).Methods(http.MethodPost)

	return r
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
