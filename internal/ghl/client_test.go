package ghl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wlink-bridge/internal/crypto"
	"wlink-bridge/internal/db"
	"wlink-bridge/internal/models"
	"wlink-bridge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	conn, err := db.Open("file::memory:")
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(conn))
	return store.New(conn)
}

func seedTenant(t *testing.T, st *store.Store, codec *crypto.TokenCodec, locationID, access, refresh string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, st.UpsertTenant(context.Background(), &models.Tenant{
		LocationID:     locationID,
		AccessToken:    codec.Encrypt(access),
		RefreshToken:   codec.Encrypt(refresh),
		TokenExpiresAt: &expiresAt,
	}))
}

// tokenEndpoint serves /oauth/token and counts refresh grants.
func tokenEndpoint(refreshCount *int64, newAccess, newRefresh string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") == "refresh_token" {
			atomic.AddInt64(refreshCount, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  newAccess,
			"refresh_token": newRefresh,
			"expires_in":    86400,
			"locationId":    "loc-1",
		})
	}
}

func TestAuthorizedClientRefreshesExpiringToken(t *testing.T) {
	var refreshes int64
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenEndpoint(&refreshes, "fresh-access", "fresh-refresh"))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := newTestStore(t)
	codec := crypto.NewTokenCodec("test-secret")
	seedTenant(t, st, codec, "loc-1", "stale-access", "stale-refresh", time.Now().Add(time.Minute))

	c := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret"}, st, codec)
	client, err := c.AuthorizedClient(context.Background(), "loc-1")
	require.NoError(t, err)
	require.NotNil(t, client)

	assert.EqualValues(t, 1, atomic.LoadInt64(&refreshes))

	tenant, err := st.FindTenant(context.Background(), "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", codec.Decrypt(tenant.AccessToken))
	assert.Equal(t, "fresh-refresh", codec.Decrypt(tenant.RefreshToken))
}

func TestConcurrentAuthorizedClientsShareOneRefresh(t *testing.T) {
	var refreshes int64
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("grant_type") == "refresh_token" {
			atomic.AddInt64(&refreshes, 1)
		}
		// Slow response keeps the refresh in flight while the other callers
		// arrive, so they must coalesce onto it rather than race it.
		time.Sleep(150 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "shared-access",
			"refresh_token": "shared-refresh",
			"expires_in":    86400,
			"locationId":    "loc-1",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := newTestStore(t)
	codec := crypto.NewTokenCodec("test-secret")
	seedTenant(t, st, codec, "loc-1", "stale-access", "stale-refresh", time.Now().Add(time.Minute))

	c := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret"}, st, codec)

	const callers = 8
	start := make(chan struct{})
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := c.AuthorizedClient(context.Background(), "loc-1")
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.EqualValues(t, 1, atomic.LoadInt64(&refreshes),
		"concurrent callers observing the same expiring token must share one refresh grant")

	tenant, err := st.FindTenant(context.Background(), "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "shared-access", codec.Decrypt(tenant.AccessToken))
}

func TestAuthorizedClientSkipsRefreshWhenTokenIsFresh(t *testing.T) {
	var refreshes int64
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenEndpoint(&refreshes, "x", "y"))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := newTestStore(t)
	codec := crypto.NewTokenCodec("test-secret")
	seedTenant(t, st, codec, "loc-1", "good-access", "good-refresh", time.Now().Add(time.Hour))

	c := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret"}, st, codec)
	_, err := c.AuthorizedClient(context.Background(), "loc-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, atomic.LoadInt64(&refreshes))
}

func TestAuthorizedClientWithoutTokensIsUnauthorized(t *testing.T) {
	st := newTestStore(t)
	codec := crypto.NewTokenCodec("test-secret")
	_, err := st.EnsureTenant(context.Background(), "loc-empty")
	require.NoError(t, err)

	c := New(Config{BaseURL: "http://unused"}, st, codec)
	_, err = c.AuthorizedClient(context.Background(), "loc-empty")
	require.Error(t, err)
}

func TestAuthorizedClientRetriesOnceAfter401(t *testing.T) {
	var refreshes int64
	var apiCalls int64
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenEndpoint(&refreshes, "second-access", "second-refresh"))
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&apiCalls, 1)
		if r.Header.Get("Authorization") == "Bearer second-access" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := newTestStore(t)
	codec := crypto.NewTokenCodec("test-secret")
	seedTenant(t, st, codec, "loc-1", "first-access", "first-refresh", time.Now().Add(time.Hour))

	c := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret"}, st, codec)
	client, err := c.AuthorizedClient(context.Background(), "loc-1")
	require.NoError(t, err)

	resp, err := client.R().Get("/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.EqualValues(t, 2, atomic.LoadInt64(&apiCalls))
	assert.EqualValues(t, 1, atomic.LoadInt64(&refreshes))
}

func TestExchangeCodeRejectsIncompleteGrant(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "a",
			"refresh_token": "r",
			"expires_in":    86400,
			// no locationId
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := newTestStore(t)
	c := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret"}, st, crypto.NewTokenCodec("k"))
	_, err := c.ExchangeCode(context.Background(), "some-code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "location")
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Maria", DisplayName("Maria", "5511999998888"))
	assert.Equal(t, "WhatsApp User 8888", DisplayName("", "5511999998888"))
}
