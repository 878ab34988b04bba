// Package evolution is the WhatsApp gateway adapter. Every call is scoped to
// one instance and authenticated with that instance's own api key; the bridge
// never holds a gateway-wide credential.
package evolution

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"wlink-bridge/internal/apperr"
	"wlink-bridge/pkg/httputil"
)

// Client talks to one Evolution API deployment.
type Client struct {
	http *resty.Client
}

func New(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("evolution baseURL cannot be empty")
	}
	return &Client{http: httputil.NewClient(baseURL)}, nil
}

// ConnectionState reports the gateway's view of an instance.
func (c *Client) ConnectionState(ctx context.Context, apiToken, instanceName string) (*ConnectionStateResponse, error) {
	var result ConnectionStateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", apiToken).
		SetResult(&result).
		Get(fmt.Sprintf("/instance/connectionState/%s", instanceName))
	if err != nil {
		return nil, apperr.Integration(err, "gateway connectionState request failed for %s", instanceName)
	}
	if resp.IsError() {
		return nil, apperr.Integration(nil, "gateway connectionState error for %s: status %s, body: %s", instanceName, resp.Status(), resp.String())
	}
	return &result, nil
}

// ValidateCredentials probes the instance with the supplied token. A 401/403
// or 404 means the pair is wrong; other upstream failures propagate so the
// caller does not mistake a gateway outage for a bad credential.
func (c *Client) ValidateCredentials(ctx context.Context, apiToken, instanceName string) (bool, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", apiToken).
		Get(fmt.Sprintf("/instance/connectionState/%s", instanceName))
	if err != nil {
		return false, apperr.Integration(err, "gateway credential check failed for %s", instanceName)
	}
	switch resp.StatusCode() {
	case 401, 403, 404:
		return false, nil
	}
	if resp.IsError() {
		return false, apperr.Integration(nil, "gateway credential check error for %s: status %s", instanceName, resp.Status())
	}
	return true, nil
}

// SendText sends a plain text message through the instance. The composing
// presence delay matches what the gateway UI produces for a human sender.
func (c *Client) SendText(ctx context.Context, apiToken, instanceName, phone, text string) (*SendResponse, error) {
	var result SendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", apiToken).
		SetBody(sendTextRequest{
			Number: phone,
			Text:   text,
			Options: sendOptions{
				Delay:    1200,
				Presence: "composing",
			},
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/message/sendText/%s", instanceName))
	if err != nil {
		return nil, apperr.Integration(err, "gateway sendText request failed for %s", instanceName)
	}
	if resp.IsError() {
		return nil, apperr.Integration(nil, "gateway sendText error for %s: status %s, body: %s", instanceName, resp.Status(), resp.String())
	}
	return &result, nil
}

// mediaTypeForURL classifies a media URL by its file extension. The gateway
// renders images and videos inline only when the mediatype says so; anything
// unrecognized goes through as a document, which every client can receive.
func mediaTypeForURL(mediaURL string) string {
	clean := mediaURL
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	switch strings.ToLower(path.Ext(clean)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return "image"
	case ".mp4", ".mov", ".3gp":
		return "video"
	case ".mp3", ".ogg", ".opus", ".m4a", ".aac", ".wav":
		return "audio"
	default:
		return "document"
	}
}

// SendMedia relays a media URL with an optional caption.
func (c *Client) SendMedia(ctx context.Context, apiToken, instanceName, phone, mediaURL, caption string) (*SendResponse, error) {
	var result SendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", apiToken).
		SetBody(sendMediaRequest{
			Number:    phone,
			MediaType: mediaTypeForURL(mediaURL),
			Media:     mediaURL,
			Caption:   caption,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/message/sendMedia/%s", instanceName))
	if err != nil {
		return nil, apperr.Integration(err, "gateway sendMedia request failed for %s", instanceName)
	}
	if resp.IsError() {
		return nil, apperr.Integration(nil, "gateway sendMedia error for %s: status %s, body: %s", instanceName, resp.Status(), resp.String())
	}
	return &result, nil
}

// Connect asks the gateway for pairing material: a base64 QR image, a pairing
// code, or both depending on the instance state.
func (c *Client) Connect(ctx context.Context, apiToken, instanceName string) (*ConnectResponse, error) {
	var result ConnectResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", apiToken).
		SetResult(&result).
		Get(fmt.Sprintf("/instance/connect/%s", instanceName))
	if err != nil {
		return nil, apperr.Integration(err, "gateway connect request failed for %s", instanceName)
	}
	if resp.IsError() {
		return nil, apperr.Integration(nil, "gateway connect error for %s: status %s, body: %s", instanceName, resp.Status(), resp.String())
	}
	return &result, nil
}

// Logout disconnects the WhatsApp session but keeps the instance alive on the
// gateway side.
func (c *Client) Logout(ctx context.Context, apiToken, instanceName string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", apiToken).
		Delete(fmt.Sprintf("/instance/logout/%s", instanceName))
	if err != nil {
		return apperr.Integration(err, "gateway logout request failed for %s", instanceName)
	}
	if resp.IsError() {
		return apperr.Integration(nil, "gateway logout error for %s: status %s", instanceName, resp.Status())
	}
	return nil
}

// ConfigureWebhook points the instance's event stream at the bridge,
// authenticated with the shared webhook token.
func (c *Client) ConfigureWebhook(ctx context.Context, apiToken, instanceName, webhookURL, webhookToken string) error {
	headers := map[string]string{}
	if webhookToken != "" {
		headers["x-evolution-token"] = webhookToken
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", apiToken).
		SetBody(webhookConfigRequest{
			Enabled: true,
			URL:     webhookURL,
			Headers: headers,
			Events: []string{
				"connection.update",
				"qrcode.updated",
				"messages.upsert",
				"messages.update",
			},
		}).
		Post(fmt.Sprintf("/webhook/set/%s", instanceName))
	if err != nil {
		return apperr.Integration(err, "gateway webhook config request failed for %s", instanceName)
	}
	if resp.IsError() {
		return apperr.Integration(nil, "gateway webhook config error for %s: status %s, body: %s", instanceName, resp.Status(), resp.String())
	}
	log.Info().Str("instance", instanceName).Str("url", webhookURL).Msg("Gateway webhook configured")
	return nil
}
