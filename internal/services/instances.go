package services

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"wlink-bridge/internal/apperr"
	"wlink-bridge/internal/crypto"
	"wlink-bridge/internal/evolution"
	"wlink-bridge/internal/models"
	"wlink-bridge/internal/store"
)

// CrossTenantPolicy decides what happens when a registration names a gateway
// instance already owned by a different tenant. The gateway namespace is
// global, so this is a product-level decision encoded in one place.
type CrossTenantPolicy func(existing *models.Instance, requesterLocationID string) error

// RejectCrossTenant is the active policy: a collision with another tenant's
// instance is refused. Adopting it silently would reroute that tenant's
// message traffic on nothing more than a name collision.
func RejectCrossTenant(existing *models.Instance, requesterLocationID string) error {
	log.Warn().Str("instance", existing.InstanceName).Str("owner", existing.LocationID).
		Str("requester", requesterLocationID).Msg("Cross-tenant instance registration refused")
	return apperr.Conflict("instance '%s' is already registered to another account", existing.InstanceName)
}

// InstanceService is the tenant-scoped registry of gateway instances.
type InstanceService struct {
	store        *store.Store
	gateway      *evolution.Client
	tokens       *crypto.TokenCodec
	policy       CrossTenantPolicy
	webhookURL   string // bridge endpoint pushed to the gateway, empty disables auto-config
	webhookToken string
}

func NewInstanceService(st *store.Store, gateway *evolution.Client, tokens *crypto.TokenCodec, webhookURL, webhookToken string) *InstanceService {
	return &InstanceService{
		store:        st,
		gateway:      gateway,
		tokens:       tokens,
		policy:       RejectCrossTenant,
		webhookURL:   webhookURL,
		webhookToken: webhookToken,
	}
}

// Register connects an existing gateway instance to a tenant: duplicate
// check, credential validation against the gateway, initial state fetch, then
// a local record with the credential encrypted at rest.
func (s *InstanceService) Register(ctx context.Context, locationID, instanceName, apiToken, customName string) (*models.Instance, error) {
	if instanceName == "" || apiToken == "" {
		return nil, apperr.Validation("instance name and API token are required")
	}

	existing, err := s.store.GetInstanceByName(ctx, instanceName)
	if err != nil {
		return nil, apperr.Integration(err, "instance lookup failed")
	}
	if existing != nil {
		if existing.LocationID == locationID {
			return nil, apperr.Conflict("an instance with ID '%s' already exists for your account", instanceName)
		}
		return nil, s.policy(existing, locationID)
	}

	valid, err := s.gateway.ValidateCredentials(ctx, apiToken, instanceName)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, apperr.Validation("instance credentials are invalid: verify the instance exists on the gateway and the token is correct")
	}

	// State probe is best effort: an unreachable status endpoint right after
	// a successful credential check degrades to notAuthorized, the same
	// default the gateway reports for a closed instance.
	gatewayState := "close"
	instanceID := ""
	wid := ""
	if status, err := s.gateway.ConnectionState(ctx, apiToken, instanceName); err != nil {
		log.Warn().Err(err).Str("instance", instanceName).Msg("Could not fetch initial state, defaulting to notAuthorized")
	} else {
		gatewayState = status.Instance.State
		instanceID = status.Instance.InstanceID
		wid = status.Instance.Wid
	}

	state, ok := models.MapConnectionState(gatewayState)
	if !ok {
		state = models.StateNotAuthorized
	}

	if customName == "" {
		customName = "Instance " + instanceName
	}
	settings := models.JSONB{}
	if wid != "" {
		settings["wid"] = wid
	}

	inst := &models.Instance{
		InstanceName: instanceName,
		InstanceID:   instanceID,
		APIToken:     s.tokens.Encrypt(apiToken),
		State:        state,
		CustomName:   customName,
		Settings:     settings,
		LocationID:   locationID,
	}
	if err := s.store.CreateInstance(ctx, inst); err != nil {
		return nil, apperr.Integration(err, "failed to persist instance %s", instanceName)
	}
	log.Info().Str("instance", instanceName).Str("locationId", locationID).Str("state", string(state)).
		Msg("Gateway instance registered")

	if s.webhookURL != "" {
		if err := s.gateway.ConfigureWebhook(ctx, apiToken, instanceName, s.webhookURL, s.webhookToken); err != nil {
			log.Error().Err(err).Str("instance", instanceName).Msg("Webhook auto-configuration failed, gateway events will not flow until configured manually")
		}
	}

	return inst, nil
}

// List returns the tenant's instances, oldest first.
func (s *InstanceService) List(ctx context.Context, locationID string) ([]models.Instance, error) {
	return s.store.InstancesForTenant(ctx, locationID)
}

// owned loads an instance and enforces the ownership check every mutation
// requires.
func (s *InstanceService) owned(ctx context.Context, locationID, instanceName string) (*models.Instance, error) {
	inst, err := s.store.GetInstanceByName(ctx, instanceName)
	if err != nil {
		return nil, apperr.Integration(err, "instance lookup failed")
	}
	if inst == nil {
		return nil, apperr.NotFound("instance '%s' not found", instanceName)
	}
	if inst.LocationID != locationID {
		return nil, apperr.Forbidden("instance '%s' does not belong to this location", instanceName)
	}
	return inst, nil
}

// Rename updates the user-facing label.
func (s *InstanceService) Rename(ctx context.Context, locationID, instanceName, customName string) (*models.Instance, error) {
	if customName == "" {
		return nil, apperr.Validation("a name is required")
	}
	inst, err := s.owned(ctx, locationID, instanceName)
	if err != nil {
		return nil, err
	}
	if err := s.store.RenameInstance(ctx, instanceName, customName); err != nil {
		return nil, apperr.Integration(err, "failed to rename instance %s", instanceName)
	}
	inst.CustomName = customName
	return inst, nil
}

// Remove deletes the local record. The gateway instance itself is left
// untouched; it belongs to the gateway operator.
func (s *InstanceService) Remove(ctx context.Context, locationID, instanceName string) error {
	if _, err := s.owned(ctx, locationID, instanceName); err != nil {
		return err
	}
	if err := s.store.DeleteInstance(ctx, instanceName); err != nil {
		return apperr.Integration(err, "failed to delete instance %s", instanceName)
	}
	log.Info().Str("instance", instanceName).Msg("Instance deleted")
	return nil
}

// Logout disconnects the WhatsApp session on the gateway and records the
// resulting notAuthorized state locally.
func (s *InstanceService) Logout(ctx context.Context, locationID, instanceName string) error {
	inst, err := s.owned(ctx, locationID, instanceName)
	if err != nil {
		return err
	}
	if err := s.gateway.Logout(ctx, s.tokens.Decrypt(inst.APIToken), instanceName); err != nil {
		return err
	}
	if _, err := s.store.UpdateInstanceState(ctx, instanceName, models.StateNotAuthorized); err != nil {
		return apperr.Integration(err, "failed to record logout for %s", instanceName)
	}
	return nil
}

// PairingInfo is what the UI renders to pair a phone: a QR image or a code.
type PairingInfo struct {
	Type string `json:"type"` // "qr" or "code"
	Data string `json:"data"`
}

// Pairing fetches pairing material for an instance. The gateway may answer
// with a ready-made QR image, a raw QR payload (rendered to PNG locally), or
// a numeric pairing code.
func (s *InstanceService) Pairing(ctx context.Context, locationID, instanceName string) (*PairingInfo, error) {
	inst, err := s.owned(ctx, locationID, instanceName)
	if err != nil {
		return nil, err
	}
	conn, err := s.gateway.Connect(ctx, s.tokens.Decrypt(inst.APIToken), instanceName)
	if err != nil {
		return nil, err
	}

	switch {
	case conn.Base64 != "":
		data := conn.Base64
		if !strings.HasPrefix(data, "data:") {
			data = "data:image/png;base64," + data
		}
		return &PairingInfo{Type: "qr", Data: data}, nil
	case conn.Code != "":
		png, err := qrcode.Encode(conn.Code, qrcode.Medium, 256)
		if err != nil {
			return nil, apperr.Integration(err, "failed to render pairing QR for %s", instanceName)
		}
		return &PairingInfo{Type: "qr", Data: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)}, nil
	case conn.PairingCode != "":
		return &PairingInfo{Type: "code", Data: conn.PairingCode}, nil
	default:
		return nil, apperr.NotFound("gateway returned no pairing material for '%s', the instance may already be connected", instanceName)
	}
}
