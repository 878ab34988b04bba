package ghl

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"wlink-bridge/internal/apperr"
)

// InstanceTagPrefix marks a CRM contact as belonging to a gateway instance.
const InstanceTagPrefix = "whatsapp-instance-"

// DisplayName synthesizes a contact name when the gateway supplies none.
func DisplayName(pushName, phone string) string {
	if pushName != "" {
		return pushName
	}
	suffix := phone
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "WhatsApp User " + suffix
}

// UpsertContact creates or updates the CRM contact for a WhatsApp sender and
// tags it with the owning instance so outbound webhooks can route back.
func (c *Client) UpsertContact(ctx context.Context, locationID, phone, name, instanceName string) (*Contact, error) {
	client, err := c.AuthorizedClient(ctx, locationID)
	if err != nil {
		return nil, err
	}

	formattedPhone := phone
	if !strings.HasPrefix(formattedPhone, "+") {
		formattedPhone = "+" + formattedPhone
	}

	var result contactUpsertResponse
	resp, err := client.R().
		SetContext(ctx).
		SetBody(contactUpsertRequest{
			Name:       DisplayName(name, formattedPhone),
			LocationID: locationID,
			Phone:      formattedPhone,
			Tags:       []string{InstanceTagPrefix + instanceName},
			Source:     "EvolutionAPI Integration",
		}).
		SetResult(&result).
		Post("/contacts/upsert")
	if err != nil {
		return nil, apperr.Integration(err, "GHL contact upsert request failed")
	}
	if resp.IsError() {
		return nil, apperr.Integration(nil, "GHL contact upsert error: status %s, body: %s", resp.Status(), resp.String())
	}
	if result.Contact == nil {
		return nil, apperr.Integration(nil, "GHL contact upsert response carried no contact")
	}
	return result.Contact, nil
}

// LookupContactByPhone returns nil when the CRM knows no contact with the
// given phone number.
func (c *Client) LookupContactByPhone(ctx context.Context, locationID, phone string) (*Contact, error) {
	client, err := c.AuthorizedClient(ctx, locationID)
	if err != nil {
		return nil, err
	}

	var result contactLookupResponse
	resp, err := client.R().
		SetContext(ctx).
		SetQueryParam("phone", phone).
		SetResult(&result).
		Get("/contacts/lookup")
	if err != nil {
		return nil, apperr.Integration(err, "GHL contact lookup request failed")
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, apperr.Integration(nil, "GHL contact lookup error: status %s", resp.Status())
	}
	if result.Contact != nil {
		return result.Contact, nil
	}
	if len(result.Contacts) > 0 {
		return &result.Contacts[0], nil
	}
	return nil, nil
}

// GetContact fetches a CRM contact by id, nil when it does not exist.
func (c *Client) GetContact(ctx context.Context, locationID, contactID string) (*Contact, error) {
	client, err := c.AuthorizedClient(ctx, locationID)
	if err != nil {
		return nil, err
	}

	var result contactLookupResponse
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf("/contacts/%s", contactID))
	if err != nil {
		return nil, apperr.Integration(err, "GHL get contact request failed")
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, apperr.Integration(nil, "GHL get contact error: status %s", resp.Status())
	}
	return result.Contact, nil
}

// PostInboundMessage relays a WhatsApp message into the tenant's CRM
// conversation stream.
func (c *Client) PostInboundMessage(ctx context.Context, locationID string, msg PlatformMessage) (*SendResponse, error) {
	client, err := c.AuthorizedClient(ctx, locationID)
	if err != nil {
		return nil, err
	}

	var result SendResponse
	resp, err := client.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&result).
		Post("/conversations/messages/inbound")
	if err != nil {
		return nil, apperr.Integration(err, "failed to POST inbound message to GHL")
	}
	if resp.IsError() {
		return nil, apperr.Integration(nil, "GHL inbound message error: status %s, body: %s", resp.Status(), resp.String())
	}
	return &result, nil
}

// UpdateMessageStatus reports delivery state for an outbound CRM message.
// Failures here are logged, never propagated: status updates are best-effort
// and must not fail the message path that triggered them.
func (c *Client) UpdateMessageStatus(ctx context.Context, locationID, messageID, status string, meta StatusMeta) {
	client, err := c.AuthorizedClient(ctx, locationID)
	if err != nil {
		log.Error().Err(err).Str("locationId", locationID).Str("messageId", messageID).Msg("Cannot update GHL message status")
		return
	}

	body := map[string]interface{}{"status": status}
	if meta.Code != "" {
		body["code"] = meta.Code
	}
	if meta.Type != "" {
		body["type"] = meta.Type
	}
	if meta.Message != "" {
		body["message"] = meta.Message
	}

	resp, err := client.R().
		SetContext(ctx).
		SetBody(body).
		Put(fmt.Sprintf("/conversations/messages/status/%s", messageID))
	if err != nil {
		log.Error().Err(err).Str("messageId", messageID).Msg("GHL message status request failed")
		return
	}
	if resp.IsError() {
		log.Error().Int("status", resp.StatusCode()).Str("messageId", messageID).Str("body", resp.String()).Msg("GHL message status update rejected")
		return
	}
	log.Debug().Str("messageId", messageID).Str("status", status).Msg("GHL message status updated")
}
