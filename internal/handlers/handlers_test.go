package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wlink-bridge/config"
	"wlink-bridge/internal/crypto"
	"wlink-bridge/internal/db"
	"wlink-bridge/internal/evolution"
	"wlink-bridge/internal/ghl"
	"wlink-bridge/internal/models"
	"wlink-bridge/internal/services"
	"wlink-bridge/internal/store"
)

const (
	testSharedSecret = "shared-secret"
	testProviderID   = "provider-xyz"
	testWebhookToken = "evo-hook-token"
)

type handlerEnv struct {
	handler *Handler
	store   *store.Store
	codec   *crypto.TokenCodec
}

// upstreamFake answers both CRM and gateway calls with permissive defaults;
// handler tests only assert on the bridge's own HTTP behavior.
func upstreamFake() http.Handler {
	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"access_token": "acc", "refresh_token": "ref", "expires_in": 86400,
			"locationId": "loc-oauth", "companyId": "co-1",
		})
	})
	mux.HandleFunc("/instance/connectionState/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"instance": map[string]interface{}{"state": "open"},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"success": true})
	})
	return mux
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	conn, err := db.Open("file::memory:")
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(conn))
	st := store.New(conn)

	srv := httptest.NewServer(upstreamFake())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Port:                   "8080",
		AppURL:                 "https://bridge.example",
		FrontendURL:            "https://bridge.example",
		GhlAPIBaseURL:          srv.URL,
		GhlClientID:            "client-id",
		GhlClientSecret:        "client-secret",
		GhlSharedSecret:        testSharedSecret,
		ConversationProviderID: testProviderID,
		TokenEncryptionKey:     "token-key",
		EvolutionAPIURL:        srv.URL,
		EvolutionWebhookToken:  testWebhookToken,
	}

	codec := crypto.NewTokenCodec(cfg.TokenEncryptionKey)
	crm := ghl.New(ghl.Config{
		BaseURL:      cfg.GhlAPIBaseURL,
		ClientID:     cfg.GhlClientID,
		ClientSecret: cfg.GhlClientSecret,
	}, st, codec)
	gateway, err := evolution.New(cfg.EvolutionAPIURL)
	require.NoError(t, err)

	reconciler := services.NewReconciler(st)
	instances := services.NewInstanceService(st, gateway, codec, "", "")
	messages := services.NewMessageService(st, crm, gateway, codec, reconciler, testProviderID)

	return &handlerEnv{
		handler: New(cfg, st, instances, messages, crm, codec),
		store:   st,
		codec:   codec,
	}
}

func (e *handlerEnv) contextHeader(t *testing.T, locationID string) string {
	t.Helper()
	encrypted, err := crypto.EncryptContext(crypto.Context{
		ActiveLocation: locationID,
		UserID:         "user-1",
		Email:          "agent@example.com",
	}, testSharedSecret)
	require.NoError(t, err)
	return encrypted
}

func (e *handlerEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListInstancesRequiresContext(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/instances", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListInstancesScopedToTenant(t *testing.T) {
	env := newHandlerEnv(t)
	require.NoError(t, env.store.CreateInstance(context.Background(), &models.Instance{
		InstanceName: "mine", LocationID: "loc-1",
	}))
	require.NoError(t, env.store.CreateInstance(context.Background(), &models.Instance{
		InstanceName: "theirs", LocationID: "loc-2",
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/instances", nil)
	req.Header.Set("x-ghl-context", env.contextHeader(t, "loc-1"))
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Instances []instanceView `json:"instances"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Instances, 1)
	assert.Equal(t, "mine", body.Instances[0].InstanceName)
}

func TestAuthContextCreatesSkeletonTenant(t *testing.T) {
	env := newHandlerEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/instances", nil)
	req.Header.Set("x-ghl-context", env.contextHeader(t, "loc-new"))
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	tenant, err := env.store.FindTenant(context.Background(), "loc-new")
	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.False(t, tenant.HasTokens())
}

func TestDecryptUserData(t *testing.T) {
	env := newHandlerEnv(t)

	payload, err := json.Marshal(map[string]string{
		"encryptedData": env.contextHeader(t, "loc-1"),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/app/decrypt-user-data", bytes.NewReader(payload))
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "loc-1", body["locationId"])
}

func TestDecryptUserDataGarbageRejected(t *testing.T) {
	env := newHandlerEnv(t)

	payload := []byte(`{"encryptedData":"bm90IHJlYWwgY2lwaGVydGV4dA=="}`)
	req := httptest.NewRequest(http.MethodPost, "/app/decrypt-user-data", bytes.NewReader(payload))
	rec := env.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateInstanceLocationMismatchForbidden(t *testing.T) {
	env := newHandlerEnv(t)

	payload := []byte(`{"instanceId":"inst-a","apiToken":"tok","locationId":"loc-other"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/instances", bytes.NewReader(payload))
	req.Header.Set("x-ghl-context", env.contextHeader(t, "loc-1"))
	rec := env.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateInstanceAcceptsAliasFields(t *testing.T) {
	env := newHandlerEnv(t)

	payload := []byte(`{"instanceName":"inst-a","token":"tok","name":"Front Desk"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/instances", bytes.NewReader(payload))
	req.Header.Set("x-ghl-context", env.contextHeader(t, "loc-1"))
	rec := env.do(req)
	require.Equal(t, http.StatusCreated, rec.Code)

	inst, err := env.store.GetInstanceByName(context.Background(), "inst-a")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "Front Desk", inst.CustomName)
	assert.Equal(t, "loc-1", inst.LocationID)
}

func TestEvolutionWebhookRejectsBadToken(t *testing.T) {
	env := newHandlerEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/evolution", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("x-evolution-token", "wrong")
	rec := env.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEvolutionWebhookUpdatesState(t *testing.T) {
	env := newHandlerEnv(t)
	require.NoError(t, env.store.CreateInstance(context.Background(), &models.Instance{
		InstanceName: "inst-a", LocationID: "loc-1", State: models.StateStarting,
	}))

	payload := []byte(`{"event":"connection.update","instance":"inst-a","data":{"state":"open"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/evolution", bytes.NewReader(payload))
	req.Header.Set("x-evolution-token", testWebhookToken)
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	inst, err := env.store.GetInstanceByName(context.Background(), "inst-a")
	require.NoError(t, err)
	assert.Equal(t, models.StateAuthorized, inst.State)
}

func TestEvolutionWebhookUnknownInstanceStill200(t *testing.T) {
	env := newHandlerEnv(t)

	payload := []byte(`{"event":"connection.update","instance":"ghost","data":{"state":"open"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/evolution", bytes.NewReader(payload))
	req.Header.Set("x-evolution-token", testWebhookToken)
	rec := env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGhlWebhookProviderMismatchIs400(t *testing.T) {
	env := newHandlerEnv(t)

	payload := []byte(`{"conversationProviderId":"someone-else","locationId":"loc-1","type":"SMS","message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ghl", bytes.NewReader(payload))
	rec := env.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGhlWebhookNoInstancesStill200(t *testing.T) {
	env := newHandlerEnv(t)
	seedTenantWithTokens(t, env, "loc-1")

	payload := []byte(`{"conversationProviderId":"` + testProviderID + `","locationId":"loc-1","type":"SMS","message":"hi","phone":"+551199"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ghl", bytes.NewReader(payload))
	rec := env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOAuthCallbackPersistsTenantAndRedirects(t *testing.T) {
	env := newHandlerEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?code=auth-code", nil)
	rec := env.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "locationId=loc-oauth")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	tenant, err := env.store.FindTenant(context.Background(), "loc-oauth")
	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.True(t, tenant.HasTokens())
	assert.Equal(t, "acc", env.codec.Decrypt(tenant.AccessToken))
}

func TestOAuthCallbackWithoutCode(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/oauth/callback", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedTenantWithTokens(t *testing.T, env *handlerEnv, locationID string) {
	t.Helper()
	expires := time.Now().Add(time.Hour)
	require.NoError(t, env.store.UpsertTenant(context.Background(), &models.Tenant{
		LocationID:     locationID,
		AccessToken:    env.codec.Encrypt("acc"),
		RefreshToken:   env.codec.Encrypt("ref"),
		TokenExpiresAt: &expires,
	}))
}
