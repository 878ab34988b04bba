// Package ghl is the CRM adapter: OAuth token lifecycle plus the handful of
// GoHighLevel API operations the bridge performs.
package ghl

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"wlink-bridge/internal/apperr"
	"wlink-bridge/internal/crypto"
	"wlink-bridge/internal/store"
	"wlink-bridge/pkg/httputil"
)

const apiVersion = "2021-07-28"

// refreshSkew is how far ahead of expiry a token is refreshed proactively.
const refreshSkew = 5 * time.Minute

// Config carries the CRM endpoint and OAuth app credentials.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Client manages per-tenant OAuth tokens and issues authenticated CRM calls.
// Refreshes for the same tenant are collapsed through a singleflight group so
// two concurrent requests that both observe "expiring soon" perform one
// refresh between them; a lost race here would burn the old refresh token and
// force the user to re-authorize.
type Client struct {
	cfg     Config
	store   *store.Store
	tokens  *crypto.TokenCodec
	refresh singleflight.Group
	now     func() time.Time
}

func New(cfg Config, st *store.Store, tokens *crypto.TokenCodec) *Client {
	return &Client{cfg: cfg, store: st, tokens: tokens, now: time.Now}
}

// ExchangeCode trades an authorization code for a token grant. The response
// must carry both tokens and a location id or the exchange is rejected.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenGrant, error) {
	var tokens tokenResponse
	resp, err := httputil.NewClient(c.cfg.BaseURL).R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(map[string]string{
			"client_id":     c.cfg.ClientID,
			"client_secret": c.cfg.ClientSecret,
			"grant_type":    "authorization_code",
			"code":          code,
			"redirect_uri":  c.cfg.RedirectURI,
			"user_type":     "Location",
		}).
		SetResult(&tokens).
		Post("/oauth/token")
	if err != nil {
		return nil, apperr.Integration(err, "GHL token exchange request failed")
	}
	if resp.IsError() {
		return nil, apperr.Integration(nil, "GHL token exchange error: status %s, body: %s", resp.Status(), resp.String())
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return nil, apperr.Integration(nil, "GHL token response is missing access or refresh token")
	}
	if tokens.LocationID == "" {
		return nil, apperr.Integration(nil, "GHL token response is missing a location id")
	}
	return &TokenGrant{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    c.now().Add(time.Duration(tokens.ExpiresIn) * time.Second),
		LocationID:   tokens.LocationID,
		CompanyID:    tokens.CompanyID,
	}, nil
}

// AuthorizedClient returns a resty client holding a valid access token for
// the tenant. Tokens within refreshSkew of expiry are refreshed and persisted
// before the client is handed out; a 401 on any call triggers exactly one
// reactive refresh-and-retry, after which the failure propagates.
func (c *Client) AuthorizedClient(ctx context.Context, locationID string) (*resty.Client, error) {
	tenant, err := c.store.FindTenant(ctx, locationID)
	if err != nil {
		return nil, apperr.Integration(err, "failed to load tenant %s", locationID)
	}
	if tenant == nil || !tenant.HasTokens() {
		return nil, apperr.Unauthorized("GHL auth tokens not found for location %s, re-authorize the application", locationID)
	}

	accessToken := c.tokens.Decrypt(tenant.AccessToken)
	expiringSoon := tenant.TokenExpiresAt != nil && tenant.TokenExpiresAt.Before(c.now().Add(refreshSkew))
	if expiringSoon {
		log.Info().Str("locationId", locationID).Msg("GHL access token expiring soon, refreshing")
		accessToken, err = c.refreshAndStore(ctx, locationID, c.tokens.Decrypt(tenant.RefreshToken))
		if err != nil {
			log.Error().Err(err).Str("locationId", locationID).Msg("GHL token refresh failed")
			return nil, apperr.Unauthorized("unable to refresh GHL token for location %s, re-authorize", locationID)
		}
	}

	client := httputil.NewClient(c.cfg.BaseURL).
		SetAuthToken(accessToken).
		SetHeader("Version", apiVersion)

	client.SetRetryCount(1).
		AddRetryCondition(func(r *resty.Response, _ error) bool {
			return r != nil && r.StatusCode() == 401
		}).
		AddRetryHook(func(r *resty.Response, _ error) {
			if r == nil || r.StatusCode() != 401 {
				return
			}
			log.Warn().Str("locationId", locationID).Msg("GHL API returned 401, retrying once with a refreshed token")
			fresh, ferr := c.store.FindTenant(ctx, locationID)
			if ferr != nil || fresh == nil || fresh.RefreshToken == "" {
				log.Error().Err(ferr).Str("locationId", locationID).Msg("Tenant refresh token unavailable during 401 retry")
				return
			}
			newAccess, rerr := c.refreshAndStore(ctx, locationID, c.tokens.Decrypt(fresh.RefreshToken))
			if rerr != nil {
				log.Error().Err(rerr).Str("locationId", locationID).Msg("GHL token refresh after 401 failed")
				return
			}
			r.Request.SetAuthToken(newAccess)
		})

	return client, nil
}

// refreshAndStore runs a refresh_token grant for the tenant, serialized per
// location id, and persists the re-encrypted result before returning the new
// access token.
func (c *Client) refreshAndStore(ctx context.Context, locationID, refreshToken string) (string, error) {
	v, err, _ := c.refresh.Do(locationID, func() (interface{}, error) {
		var tokens tokenResponse
		resp, err := httputil.NewClient(c.cfg.BaseURL).R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetFormData(map[string]string{
				"client_id":     c.cfg.ClientID,
				"client_secret": c.cfg.ClientSecret,
				"grant_type":    "refresh_token",
				"refresh_token": refreshToken,
				"user_type":     "Location",
			}).
			SetResult(&tokens).
			Post("/oauth/token")
		if err != nil {
			return nil, fmt.Errorf("refresh request failed: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("refresh error: status %s, body: %s", resp.Status(), resp.String())
		}
		if tokens.AccessToken == "" || tokens.RefreshToken == "" {
			return nil, fmt.Errorf("refresh response missing tokens")
		}

		expiresAt := c.now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
		err = c.store.UpdateTenantTokens(ctx, locationID,
			c.tokens.Encrypt(tokens.AccessToken),
			c.tokens.Encrypt(tokens.RefreshToken),
			expiresAt)
		if err != nil {
			return nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
		}
		log.Info().Str("locationId", locationID).Time("expiresAt", expiresAt).Msg("GHL tokens refreshed")
		return tokens.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
