package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"wlink-bridge/internal/apperr"
	"wlink-bridge/internal/crypto"
	"wlink-bridge/internal/evolution"
	"wlink-bridge/internal/ghl"
	"wlink-bridge/internal/models"
	"wlink-bridge/internal/store"
)

// MessageService normalizes webhook events from both upstreams and applies
// the resulting effects.
type MessageService struct {
	store      *store.Store
	ghl        *ghl.Client
	gateway    *evolution.Client
	tokens     *crypto.TokenCodec
	reconciler *Reconciler
	providerID string
}

func NewMessageService(st *store.Store, crm *ghl.Client, gateway *evolution.Client, tokens *crypto.TokenCodec, reconciler *Reconciler, providerID string) *MessageService {
	return &MessageService{
		store:      st,
		ghl:        crm,
		gateway:    gateway,
		tokens:     tokens,
		reconciler: reconciler,
		providerID: providerID,
	}
}

// extraction is one named strategy for pulling a field out of an ambiguous
// upstream payload. Strategies run in order; the first non-empty result wins
// and its name is logged so upstream shape changes stay observable.
type extraction struct {
	name string
	fn   func(evolution.WebhookEventData) string
}

var senderStrategies = []extraction{
	{"key.remoteJid", func(d evolution.WebhookEventData) string { return stripJidDomain(d.Key.RemoteJid) }},
	{"data.from", func(d evolution.WebhookEventData) string { return stripJidDomain(d.From) }},
}

func extractSenderPhone(d evolution.WebhookEventData) (string, string) {
	for _, s := range senderStrategies {
		if v := s.fn(d); v != "" {
			return v, s.name
		}
	}
	return "", ""
}

// stripJidDomain turns "5511999998888@s.whatsapp.net" into "5511999998888".
func stripJidDomain(jid string) string {
	phone, _, _ := strings.Cut(jid, "@")
	return phone
}

// messageBody extracts relayable text and attachments from a gateway message.
func messageBody(m *evolution.MessageContent) (string, []ghl.Attachment) {
	if m == nil {
		return "", nil
	}
	if m.Conversation != "" {
		return m.Conversation, nil
	}
	if m.ExtendedText != nil && m.ExtendedText.Text != "" {
		return m.ExtendedText.Text, nil
	}

	for _, media := range []struct {
		content  *evolution.MediaContent
		kind     string
		fallback string
	}{
		{m.Image, "image", "image/jpeg"},
		{m.Video, "video", "video/mp4"},
		{m.Audio, "audio", "audio/ogg"},
		{m.Document, "document", "application/octet-stream"},
		{m.Sticker, "sticker", "image/webp"},
	} {
		if media.content == nil {
			continue
		}
		text := media.content.Caption
		if text == "" {
			text = "Received a " + media.kind
		}
		var atts []ghl.Attachment
		if media.content.URL != "" {
			mime := media.content.Mimetype
			if mime == "" {
				mime = media.fallback
			}
			atts = append(atts, ghl.Attachment{
				URL:      media.content.URL,
				FileName: media.content.FileName,
				Type:     mime,
			})
		}
		return text, atts
	}
	return "", nil
}

// NormalizeGatewayEvent maps one gateway webhook into effects. Unknown
// connection states and unknown instances are warnings, never errors: webhook
// delivery is at-most-once and a stale webhook after a local delete is an
// expected steady-state occurrence.
func (s *MessageService) NormalizeGatewayEvent(ctx context.Context, ev evolution.WebhookEvent) []Effect {
	switch ev.Event {
	case "connection.update":
		if ev.Data.State == "" {
			return []Effect{NoOp{Reason: "connection.update without a state"}}
		}
		mapped, ok := models.MapConnectionState(ev.Data.State)
		if !ok {
			log.Warn().Str("instance", ev.Instance).Str("state", ev.Data.State).
				Msg("Unknown gateway connection state, leaving recorded state untouched")
			return []Effect{NoOp{Reason: "unknown connection state " + ev.Data.State}}
		}
		return []Effect{UpdateState{InstanceName: ev.Instance, State: mapped, Wid: ev.Data.Wid}}

	case "messages.upsert":
		if ev.Data.Key.FromMe {
			return []Effect{NoOp{Reason: "own outbound message echoed back"}}
		}
		phone, strategy := extractSenderPhone(ev.Data)
		if phone == "" {
			log.Warn().Str("instance", ev.Instance).Msg("messages.upsert without a resolvable sender")
			return []Effect{NoOp{Reason: "no sender in messages.upsert"}}
		}
		log.Debug().Str("strategy", strategy).Str("phone", phone).Msg("Sender extracted from gateway payload")

		inst, err := s.store.GetInstanceByName(ctx, ev.Instance)
		if err != nil {
			log.Error().Err(err).Str("instance", ev.Instance).Msg("Instance lookup failed")
			return []Effect{NoOp{Reason: "instance lookup failed"}}
		}
		if inst == nil {
			log.Warn().Str("instance", ev.Instance).Msg("messages.upsert for unknown instance, dropping")
			return []Effect{NoOp{Reason: "unknown instance " + ev.Instance}}
		}

		text, attachments := messageBody(ev.Data.Message)
		if text == "" && len(attachments) == 0 {
			return []Effect{NoOp{Reason: "message carried no relayable content"}}
		}

		var ts *time.Time
		if ev.Data.MessageTimestamp > 0 {
			t := time.Unix(ev.Data.MessageTimestamp, 0)
			ts = &t
		}

		return []Effect{
			UpsertContact{
				LocationID:   inst.LocationID,
				Phone:        phone,
				Name:         ev.Data.PushName,
				InstanceName: inst.InstanceName,
			},
			RelayInbound{
				LocationID: inst.LocationID,
				Message: ghl.PlatformMessage{
					LocationID:  inst.LocationID,
					Message:     text,
					Direction:   "inbound",
					Attachments: attachments,
					Phone:       phone,
					MessageID:   ev.Data.Key.ID,
					Timestamp:   ts,
				},
			},
		}

	default:
		log.Info().Str("event", ev.Event).Str("instance", ev.Instance).Msg("Unhandled gateway event")
		return []Effect{NoOp{Reason: "unhandled event " + ev.Event}}
	}
}

// HandleGatewayEvent normalizes and applies one gateway webhook.
func (s *MessageService) HandleGatewayEvent(ctx context.Context, ev evolution.WebhookEvent) error {
	return s.Apply(ctx, s.NormalizeGatewayEvent(ctx, ev))
}

// CrmWebhook is the CRM's outbound-message webhook payload.
type CrmWebhook struct {
	LocationID             string   `json:"locationId"`
	ContactID              string   `json:"contactId"`
	MessageID              string   `json:"messageId"`
	ConversationProviderID string   `json:"conversationProviderId"`
	Type                   string   `json:"type"`
	Message                string   `json:"message"`
	Phone                  string   `json:"phone"`
	Attachments            []string `json:"attachments"`
	UserID                 string   `json:"userId"`
}

// NormalizeCrmEvent validates an outbound-message webhook and resolves the
// target instance. The provider-id check is the anti-spoofing gate: a payload
// claiming a foreign conversation provider is rejected before any lookup.
func (s *MessageService) NormalizeCrmEvent(ctx context.Context, wh CrmWebhook) ([]Effect, error) {
	if wh.ConversationProviderID != s.providerID {
		return nil, apperr.BadRequest("conversation provider ID is wrong")
	}
	if wh.LocationID == "" {
		return nil, apperr.BadRequest("location ID is missing")
	}

	inst, err := s.resolveInstance(ctx, wh)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		log.Warn().Str("locationId", wh.LocationID).Msg("Outbound message for a tenant with no instances, dropping")
		return []Effect{NoOp{Reason: "tenant has no instances"}}, nil
	}

	if wh.Type != "SMS" || (wh.Message == "" && len(wh.Attachments) == 0) {
		return []Effect{NoOp{Reason: "event carries no sendable content"}}, nil
	}

	attachments := make([]ghl.Attachment, 0, len(wh.Attachments))
	for _, url := range wh.Attachments {
		attachments = append(attachments, ghl.Attachment{URL: url})
	}

	return []Effect{
		SendMessage{
			Instance:    inst,
			Phone:       wh.Phone,
			Text:        wh.Message,
			Attachments: attachments,
			LocationID:  wh.LocationID,
			MessageID:   wh.MessageID,
		},
		AckStatus{
			LocationID: wh.LocationID,
			MessageID:  wh.MessageID,
			Status:     "delivered",
		},
	}, nil
}

// resolveInstance picks the gateway instance an outbound message should use:
// the instance named by the contact's tag when one matches, otherwise the
// tenant's oldest instance, otherwise nil.
func (s *MessageService) resolveInstance(ctx context.Context, wh CrmWebhook) (*models.Instance, error) {
	if wh.ContactID != "" {
		contact, err := s.ghl.GetContact(ctx, wh.LocationID, wh.ContactID)
		if err != nil {
			log.Warn().Err(err).Str("contactId", wh.ContactID).Msg("Contact lookup failed, falling back to oldest instance")
		} else if contact != nil {
			for _, tag := range contact.Tags {
				name, found := strings.CutPrefix(tag, ghl.InstanceTagPrefix)
				if !found {
					continue
				}
				inst, err := s.store.GetInstanceByName(ctx, name)
				if err != nil {
					return nil, err
				}
				if inst != nil && inst.LocationID == wh.LocationID {
					log.Debug().Str("instance", name).Msg("Instance resolved from contact tag")
					return inst, nil
				}
			}
		}
	}

	instances, err := s.store.InstancesForTenant(ctx, wh.LocationID)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, nil
	}
	return &instances[0], nil
}

// HandleCrmEvent normalizes and applies one CRM webhook.
func (s *MessageService) HandleCrmEvent(ctx context.Context, wh CrmWebhook) error {
	effects, err := s.NormalizeCrmEvent(ctx, wh)
	if err != nil {
		return err
	}
	return s.Apply(ctx, effects)
}

// ReportCrmFailure surfaces an outbound-message processing failure back to
// the CRM as a failed status. This is the only path where webhook failures
// are reported upstream instead of merely logged.
func (s *MessageService) ReportCrmFailure(ctx context.Context, locationID, messageID string, cause error) {
	if locationID == "" || messageID == "" {
		return
	}
	msg := "Failed to process outbound message"
	if cause != nil {
		msg = cause.Error()
	}
	s.ghl.UpdateMessageStatus(ctx, locationID, messageID, "failed", ghl.StatusMeta{
		Code:    "500",
		Type:    "message_processing_error",
		Message: msg,
	})
}
