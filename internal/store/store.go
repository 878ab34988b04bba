package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wlink-bridge/internal/models"
)

// Store owns all database access for tenants and instances. Every mutation is
// a single-row statement keyed by primary key or unique index, so row-level
// locking in the database is the only write discipline needed.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UpsertTenant creates or refreshes the tenant row, the OAuth-callback
// semantics: tokens and expiry always win over what is stored.
func (s *Store) UpsertTenant(ctx context.Context, t *models.Tenant) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "location_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"company_id", "access_token", "refresh_token", "token_expires_at", "updated_at"}),
	}).Create(t).Error
}

// EnsureTenant creates a skeleton row (no tokens) the first time a location
// shows up via an authenticated context.
func (s *Store) EnsureTenant(ctx context.Context, locationID string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.WithContext(ctx).
		Where(models.Tenant{LocationID: locationID}).
		FirstOrCreate(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindTenant returns nil without error when the location is unknown.
func (s *Store) FindTenant(ctx context.Context, locationID string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.WithContext(ctx).First(&t, "location_id = ?", locationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTenantTokens persists a fresh token set in one UPDATE statement.
func (s *Store) UpdateTenantTokens(ctx context.Context, locationID, accessToken, refreshToken string, expiresAt time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Tenant{}).
		Where("location_id = ?", locationID).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"refresh_token":    refreshToken,
			"token_expires_at": expiresAt,
		}).Error
}

func (s *Store) CreateInstance(ctx context.Context, inst *models.Instance) error {
	return s.db.WithContext(ctx).Create(inst).Error
}

// GetInstanceByName looks an instance up by its gateway identifier. Unknown
// names return nil without error; on the webhook path that is an expected
// steady-state case, not a failure.
func (s *Store) GetInstanceByName(ctx context.Context, instanceName string) (*models.Instance, error) {
	var inst models.Instance
	err := s.db.WithContext(ctx).First(&inst, "instance_name = ?", instanceName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// InstancesForTenant lists a tenant's instances, oldest first.
func (s *Store) InstancesForTenant(ctx context.Context, locationID string) ([]models.Instance, error) {
	var out []models.Instance
	err := s.db.WithContext(ctx).
		Where("location_id = ?", locationID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

func (s *Store) RenameInstance(ctx context.Context, instanceName, customName string) error {
	return s.db.WithContext(ctx).Model(&models.Instance{}).
		Where("instance_name = ?", instanceName).
		Update("custom_name", customName).Error
}

// UpdateInstanceState writes the state in a single UPDATE and reports how
// many rows matched, so callers can tell a no-op from a real update.
func (s *Store) UpdateInstanceState(ctx context.Context, instanceName string, state models.InstanceState) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Instance{}).
		Where("instance_name = ?", instanceName).
		Update("state", state)
	return res.RowsAffected, res.Error
}

func (s *Store) UpdateInstanceSettings(ctx context.Context, instanceName string, settings models.JSONB) error {
	return s.db.WithContext(ctx).Model(&models.Instance{}).
		Where("instance_name = ?", instanceName).
		Update("settings", settings).Error
}

func (s *Store) DeleteInstance(ctx context.Context, instanceName string) error {
	return s.db.WithContext(ctx).Delete(&models.Instance{}, "instance_name = ?", instanceName).Error
}
