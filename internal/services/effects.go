// Package services holds the bridge's domain logic: instance registry,
// webhook normalization and state reconciliation. Webhook payload parsing is
// kept separate from side effects: normalizers turn foreign events into typed
// Effect values, and a single executor applies them in order.
package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"wlink-bridge/internal/ghl"
	"wlink-bridge/internal/models"
)

// Effect is one side effect produced by normalizing a webhook event.
type Effect interface{ effect() }

// UpsertContact ensures the CRM contact for a WhatsApp sender exists and is
// tagged with the owning instance.
type UpsertContact struct {
	LocationID   string
	Phone        string
	Name         string
	InstanceName string
}

// RelayInbound posts an inbound WhatsApp message into the CRM conversation
// stream. ContactID is resolved from a preceding UpsertContact.
type RelayInbound struct {
	LocationID string
	Message    ghl.PlatformMessage
}

// SendMessage forwards an outbound CRM message to the gateway.
type SendMessage struct {
	Instance    *models.Instance
	Phone       string
	Text        string
	Attachments []ghl.Attachment
	LocationID  string
	MessageID   string
}

// UpdateState applies a gateway-reported connection state to the local
// instance record.
type UpdateState struct {
	InstanceName string
	State        models.InstanceState
	Wid          string
}

// AckStatus reports a delivery status for a CRM message.
type AckStatus struct {
	LocationID string
	MessageID  string
	Status     string
	Meta       ghl.StatusMeta
}

// NoOp records why an event produced no side effect.
type NoOp struct{ Reason string }

func (UpsertContact) effect() {}
func (RelayInbound) effect()  {}
func (SendMessage) effect()   {}
func (UpdateState) effect()   {}
func (AckStatus) effect()     {}
func (NoOp) effect()          {}

// Apply executes effects in order. A failing effect aborts the remainder;
// contact resolution from an UpsertContact carries into the RelayInbound that
// follows it.
func (s *MessageService) Apply(ctx context.Context, effects []Effect) error {
	var contact *ghl.Contact

	for _, e := range effects {
		switch eff := e.(type) {
		case NoOp:
			log.Debug().Str("reason", eff.Reason).Msg("Webhook event produced no effect")

		case UpdateState:
			if _, err := s.reconciler.ApplyConnectionState(ctx, eff.InstanceName, eff.State, eff.Wid); err != nil {
				return err
			}

		case UpsertContact:
			c, err := s.ghl.UpsertContact(ctx, eff.LocationID, eff.Phone, eff.Name, eff.InstanceName)
			if err != nil {
				return err
			}
			contact = c

		case RelayInbound:
			msg := eff.Message
			if msg.ContactID == "" && contact != nil {
				msg.ContactID = contact.ID
			}
			msg.ConversationProviderID = s.providerID
			if _, err := s.ghl.PostInboundMessage(ctx, eff.LocationID, msg); err != nil {
				return err
			}

		case SendMessage:
			apiToken := s.tokens.Decrypt(eff.Instance.APIToken)
			if eff.Text != "" {
				if _, err := s.gateway.SendText(ctx, apiToken, eff.Instance.InstanceName, eff.Phone, eff.Text); err != nil {
					return err
				}
			}
			for _, att := range eff.Attachments {
				if _, err := s.gateway.SendMedia(ctx, apiToken, eff.Instance.InstanceName, eff.Phone, att.URL, ""); err != nil {
					return err
				}
			}

		case AckStatus:
			// Best effort per policy: status reporting never fails the
			// message path that triggered it.
			s.ghl.UpdateMessageStatus(ctx, eff.LocationID, eff.MessageID, eff.Status, eff.Meta)
		}
	}
	return nil
}
