package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lsr-dashboard-backend/internal/model"
)

// Store defines the interface for all settings-store operations. The
// store holds the per-install device profile, cached tokens, account
// references, and push subscriptions; snapshot data is never persisted.
type Store interface {
	DeviceProfile(ctx context.Context) (model.DeviceProfile, error)
	SaveTokens(ctx context.Context, accessToken, refreshToken string) error
	UpsertAccounts(ctx context.Context, refs []model.AccountRef) error
	AccountRef(ctx context.Context, accountID string) (model.AccountRef, error)
	SubscriptionsForAccount(ctx context.Context, accountID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// DeviceProfile returns the persisted device profile, creating one with
// a freshly generated app instance ID on first use. The ID must stay
// stable across restarts; the upstream ties sessions to it.
func (s *gormStore) DeviceProfile(ctx context.Context) (model.DeviceProfile, error) {
	var profile model.DeviceProfile
	err := s.db.WithContext(ctx).First(&profile).Error
	if err == nil {
		return profile, nil
	}
	if err != gorm.ErrRecordNotFound {
		return model.DeviceProfile{}, fmt.Errorf("failed to load device profile: %w", err)
	}

	instanceID, err := newAppInstanceID()
	if err != nil {
		return model.DeviceProfile{}, err
	}
	profile = model.DeviceProfile{ID: 1, AppInstanceID: instanceID}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		return model.DeviceProfile{}, fmt.Errorf("failed to create device profile: %w", err)
	}
	log.Printf("Generated new app instance ID %s", instanceID)
	return profile, nil
}

// SaveTokens caches the token pair alongside the device profile so a
// restart can try the cached session before re-authenticating.
func (s *gormStore) SaveTokens(ctx context.Context, accessToken, refreshToken string) error {
	return s.db.WithContext(ctx).
		Model(&model.DeviceProfile{}).
		Where("id = ?", 1).
		Updates(map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
		}).Error
}

// UpsertAccounts records the accounts seen during a refresh so
// subscriptions can reference them.
func (s *gormStore) UpsertAccounts(ctx context.Context, refs []model.AccountRef) error {
	if len(refs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"personal_account_number", "address", "updated_at"}),
	}).Create(&refs).Error
}

func (s *gormStore) AccountRef(ctx context.Context, accountID string) (model.AccountRef, error) {
	var ref model.AccountRef
	err := s.db.WithContext(ctx).First(&ref, "id = ?", accountID).Error
	return ref, err
}

// SubscriptionsForAccount returns the push subscriptions mapped to the
// given account.
func (s *gormStore) SubscriptionsForAccount(ctx context.Context, accountID string) ([]model.PushSubscription, error) {
	var subscriptions []model.PushSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN subscription_account_mapping sam ON sam.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("sam.account_ref_id = ?", accountID).
		Find(&subscriptions).Error
	return subscriptions, err
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

// newAppInstanceID produces the 16-hex-character per-install identifier
// the Authorize call requires.
func newAppInstanceID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate app instance ID: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
