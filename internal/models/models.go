package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// InstanceState is the canonical connection state of a gateway instance.
type InstanceState string

const (
	StateStarting      InstanceState = "starting"
	StateQRCode        InstanceState = "qr_code"
	StateAuthorized    InstanceState = "authorized"
	StateNotAuthorized InstanceState = "notAuthorized"
	StateBlocked       InstanceState = "blocked"
	StateYellowCard    InstanceState = "yellowCard"
)

// MapConnectionState translates a gateway connection state into the internal
// enum. The second return is false for states the gateway has not documented;
// callers on the webhook path must leave the recorded state untouched then.
func MapConnectionState(gatewayState string) (InstanceState, bool) {
	switch gatewayState {
	case "open":
		return StateAuthorized, true
	case "connecting":
		return StateStarting, true
	case "qrcode":
		return StateQRCode, true
	case "close":
		return StateNotAuthorized, true
	default:
		return "", false
	}
}

// JSONB is an opaque settings bag stored as a JSON column.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("unsupported type for JSONB column")
	}
	return json.Unmarshal(raw, j)
}

// Tenant is one CRM location using the bridge. Tokens are stored in the
// encrypted "ivBase64:cipherBase64" form and are nullable until the first
// OAuth callback.
type Tenant struct {
	LocationID     string     `gorm:"primaryKey;column:location_id" json:"locationId"`
	CompanyID      string     `gorm:"column:company_id" json:"companyId,omitempty"`
	AccessToken    string     `gorm:"column:access_token" json:"-"`
	RefreshToken   string     `gorm:"column:refresh_token" json:"-"`
	TokenExpiresAt *time.Time `gorm:"column:token_expires_at" json:"tokenExpiresAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	Instances []Instance `gorm:"foreignKey:LocationID;references:LocationID" json:"-"`
}

func (Tenant) TableName() string { return "users" }

// HasTokens reports whether the tenant completed OAuth at least once.
func (t *Tenant) HasTokens() bool {
	return t.AccessToken != "" && t.RefreshToken != ""
}

// Instance is one WhatsApp gateway connection owned by a tenant. InstanceName
// is the gateway's external identifier; the gateway namespace is shared
// across all tenants, so it is unique system-wide, not per tenant.
type Instance struct {
	ID           uint          `gorm:"primaryKey" json:"-"`
	InstanceName string        `gorm:"uniqueIndex;column:instance_name" json:"instanceName"`
	InstanceID   string        `gorm:"column:instance_id" json:"instanceId,omitempty"`
	APIToken     string        `gorm:"column:api_token" json:"-"`
	State        InstanceState `gorm:"column:state" json:"state"`
	CustomName   string        `gorm:"column:custom_name" json:"customName"`
	Settings     JSONB         `gorm:"type:jsonb" json:"settings,omitempty"`
	LocationID   string        `gorm:"index;column:location_id" json:"locationId"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (Instance) TableName() string { return "instances" }
